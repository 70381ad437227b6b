// Package mqttbus owns the connection to the MQTT broker: TLS negotiation,
// authentication, classified connect failures, publish/subscribe with QoS
// acknowledgment, and bounded-backoff reconnection with subscription replay.
package mqttbus

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/tasksync/backend/internal/platform/metrics"
)

var ErrNotConnected = errors.New("mqtt client is not connected")

type ConfigError struct {
	Detail string
}

func (e *ConfigError) Error() string { return "mqtt config: " + e.Detail }

type ConnectReason string

const (
	ReasonProtocolVersion   ConnectReason = "protocol-version-mismatch"
	ReasonInvalidClientID   ConnectReason = "invalid-client-id"
	ReasonBrokerUnavailable ConnectReason = "broker-unavailable"
	ReasonBadCredentials    ConnectReason = "bad-credentials"
	ReasonNotAuthorized     ConnectReason = "not-authorized"
	ReasonNetwork           ConnectReason = "network-error"
	ReasonTimeout           ConnectReason = "timeout"
)

type ConnectError struct {
	Reason ConnectReason
	Err    error
}

func (e *ConnectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mqtt connect: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("mqtt connect: %s", e.Reason)
}

func (e *ConnectError) Unwrap() error { return e.Err }

type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("mqtt publish on %q: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

type Security struct {
	UseTLS             bool
	CACertFile         string
	InsecureSkipVerify bool
}

type Config struct {
	Host     string
	Port     int
	Security Security
	Username string
	Password string
	ClientID string
	QoS      byte

	ConnectTimeout       time.Duration
	PublishTimeout       time.Duration
	KeepAlive            time.Duration
	MaxReconnectInterval time.Duration
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return &ConfigError{Detail: "broker host is required"}
	}
	if c.Port <= 0 || c.Port > 65535 {
		return &ConfigError{Detail: fmt.Sprintf("broker port %d is out of range", c.Port)}
	}
	if strings.TrimSpace(c.ClientID) == "" {
		return &ConfigError{Detail: "client id is required"}
	}
	if c.QoS > 2 {
		return &ConfigError{Detail: fmt.Sprintf("qos %d is not one of 0, 1, 2", c.QoS)}
	}
	if c.Security.UseTLS && c.Security.CACertFile == "" && !c.Security.InsecureSkipVerify {
		return &ConfigError{Detail: "tls requires a ca certificate path or an explicit skip-verify override"}
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 30 * time.Second
	}
	if c.MaxReconnectInterval <= 0 {
		c.MaxReconnectInterval = time.Minute
	}
	return c
}

func (c Config) brokerURL() string {
	scheme := "tcp"
	if c.Security.UseTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}

func (s Security) tlsConfig() (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if s.InsecureSkipVerify {
		cfg.InsecureSkipVerify = true
	}
	if s.CACertFile != "" {
		pem, err := os.ReadFile(s.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("read ca certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("ca certificate %q contains no usable PEM data", s.CACertFile)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// Handler is invoked on the connection's delivery loop. Long-running work
// must be handed off; see Router.
type Handler func(topic string, payload []byte)

type subscription struct {
	qos     byte
	handler Handler
}

// Client is shared across request handlers; its connection state is guarded
// so IsConnected reads and Publish calls never race a reconnect transition.
type Client struct {
	cfg Config

	mu        sync.Mutex
	paho      mqtt.Client
	connected bool
	closed    bool
	lastErr   error
	subs      map[string]subscription
}

var (
	busConnected = metrics.NewGauge(metrics.Opts{
		Name: "mqtt_connected",
		Help: "Whether the broker session is currently established (0 or 1).",
	})
	publishesTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "mqtt_publishes_total",
		Help: "Publish attempts by result.",
	}, []string{"result"})
	reconnectsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "mqtt_connection_events_total",
		Help: "Connection lifecycle events.",
	}, []string{"event"})
)

func init() {
	metrics.Default.MustRegister(busConnected, publishesTotal, reconnectsTotal)
}

// NewClient validates the configuration and returns an unconnected client.
// No I/O happens until Connect.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		cfg:  cfg.withDefaults(),
		subs: map[string]subscription{},
	}, nil
}

// Connect performs the handshake, TLS negotiation and authentication, and
// blocks until the broker acknowledges the session or the configured timeout
// elapses. Broker rejection is reported as a classified *ConnectError, never
// a panic. After a successful Connect the client keeps the session alive with
// bounded exponential backoff until Disconnect is called, replaying recorded
// subscriptions after every reconnect.
func (c *Client) Connect() error {
	opts := mqtt.NewClientOptions().
		AddBroker(c.cfg.brokerURL()).
		SetClientID(c.cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(c.cfg.ConnectTimeout).
		SetKeepAlive(c.cfg.KeepAlive).
		SetMaxReconnectInterval(c.cfg.MaxReconnectInterval)

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}
	if c.cfg.Security.UseTLS {
		tlsCfg, err := c.cfg.Security.tlsConfig()
		if err != nil {
			cerr := &ConnectError{Reason: ReasonNetwork, Err: err}
			c.recordFailure(cerr)
			return cerr
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.SetOnConnectHandler(func(p mqtt.Client) {
		c.mu.Lock()
		c.connected = true
		c.lastErr = nil
		subs := make(map[string]subscription, len(c.subs))
		for topic, sub := range c.subs {
			subs[topic] = sub
		}
		c.mu.Unlock()

		busConnected.Set(1)
		reconnectsTotal.WithLabelValues("connected").Inc()
		for topic, sub := range subs {
			token := p.Subscribe(topic, sub.qos, wrapHandler(sub.handler))
			if token.WaitTimeout(c.cfg.ConnectTimeout) && token.Error() == nil {
				continue
			}
			log.Printf("[mqtt] resubscribe to %q failed: %v", topic, token.Error())
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.mu.Lock()
		c.connected = false
		c.lastErr = err
		c.mu.Unlock()
		busConnected.Set(0)
		reconnectsTotal.WithLabelValues("lost").Inc()
		log.Printf("[mqtt] connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	c.mu.Lock()
	c.paho = client
	c.closed = false
	c.mu.Unlock()

	token := client.Connect()
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		cerr := &ConnectError{Reason: ReasonTimeout, Err: fmt.Errorf("no broker acknowledgment within %s", c.cfg.ConnectTimeout)}
		c.recordFailure(cerr)
		return cerr
	}
	if err := token.Error(); err != nil {
		cerr := classifyConnectError(err)
		c.recordFailure(cerr)
		return cerr
	}

	c.mu.Lock()
	c.connected = true
	c.lastErr = nil
	c.mu.Unlock()
	busConnected.Set(1)
	return nil
}

func (c *Client) recordFailure(err error) {
	c.mu.Lock()
	c.connected = false
	c.lastErr = err
	c.mu.Unlock()
	busConnected.Set(0)
}

func classifyConnectError(err error) *ConnectError {
	switch {
	case errors.Is(err, packets.ErrorRefusedBadProtocolVersion):
		return &ConnectError{Reason: ReasonProtocolVersion, Err: err}
	case errors.Is(err, packets.ErrorRefusedIDRejected):
		return &ConnectError{Reason: ReasonInvalidClientID, Err: err}
	case errors.Is(err, packets.ErrorRefusedServerUnavailable):
		return &ConnectError{Reason: ReasonBrokerUnavailable, Err: err}
	case errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword):
		return &ConnectError{Reason: ReasonBadCredentials, Err: err}
	case errors.Is(err, packets.ErrorRefusedNotAuthorised):
		return &ConnectError{Reason: ReasonNotAuthorized, Err: err}
	default:
		return &ConnectError{Reason: ReasonNetwork, Err: err}
	}
}

// Publish sends payload to topic. When the session is down it fails with
// ErrNotConnected before any I/O; nothing is queued for later. QoS 0 is
// fire-and-forget; QoS 1 and 2 wait for the broker acknowledgment, bounded
// by the publish timeout so a broker stall cannot hold a request hostage.
func (c *Client) Publish(topic string, payload []byte, qos byte) error {
	c.mu.Lock()
	if !c.connected || c.paho == nil {
		c.mu.Unlock()
		publishesTotal.WithLabelValues("not_connected").Inc()
		return ErrNotConnected
	}
	client := c.paho
	c.mu.Unlock()

	token := client.Publish(topic, qos, false, payload)
	if qos == 0 {
		publishesTotal.WithLabelValues("ok").Inc()
		return nil
	}
	if !token.WaitTimeout(c.cfg.PublishTimeout) {
		publishesTotal.WithLabelValues("timeout").Inc()
		return &PublishError{Topic: topic, Err: fmt.Errorf("no broker acknowledgment within %s", c.cfg.PublishTimeout)}
	}
	if err := token.Error(); err != nil {
		publishesTotal.WithLabelValues("error").Inc()
		return &PublishError{Topic: topic, Err: err}
	}
	publishesTotal.WithLabelValues("ok").Inc()
	return nil
}

// Subscribe registers handler for topic and records the subscription so it is
// replayed after a reconnect. Subscribing to the same topic again replaces
// the previous handler.
func (c *Client) Subscribe(topic string, qos byte, handler Handler) error {
	c.mu.Lock()
	if !c.connected || c.paho == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.subs[topic] = subscription{qos: qos, handler: handler}
	client := c.paho
	c.mu.Unlock()

	token := client.Subscribe(topic, qos, wrapHandler(handler))
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return &ConnectError{Reason: ReasonTimeout, Err: fmt.Errorf("subscribe to %q timed out", topic)}
	}
	return token.Error()
}

func wrapHandler(handler Handler) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	}
}

// Disconnect flushes in-flight sends best-effort within the drain window and
// tears down the session. Safe to call more than once.
func (c *Client) Disconnect(drain time.Duration) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.connected = false
	client := c.paho
	c.mu.Unlock()

	if client != nil {
		client.Disconnect(uint(drain.Milliseconds()))
	}
	busConnected.Set(0)
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}
