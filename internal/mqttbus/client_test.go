package mqttbus

import (
	"errors"
	"testing"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

func validConfig() Config {
	return Config{
		Host:     "broker.example.com",
		Port:     8883,
		ClientID: "todo-backend-test",
		QoS:      1,
		Security: Security{UseTLS: true, CACertFile: "ca.crt"},
	}
}

func TestConfigValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing host", func(c *Config) { c.Host = " " }},
		{"port zero", func(c *Config) { c.Port = 0 }},
		{"port out of range", func(c *Config) { c.Port = 70000 }},
		{"missing client id", func(c *Config) { c.ClientID = "" }},
		{"qos out of range", func(c *Config) { c.QoS = 3 }},
		{"tls without ca or override", func(c *Config) {
			c.Security = Security{UseTLS: true}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("expected *ConfigError, got %v", err)
			}
		})
	}
}

func TestConfigValidate_TLSSkipVerifyOverride(t *testing.T) {
	cfg := validConfig()
	cfg.Security = Security{UseTLS: true, InsecureSkipVerify: true}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("explicit skip-verify override rejected: %v", err)
	}
}

func TestNewClient_RejectsBadConfig(t *testing.T) {
	cfg := validConfig()
	cfg.QoS = 9
	if _, err := NewClient(cfg); err == nil {
		t.Fatal("expected config error")
	}
}

func TestPublish_NotConnected(t *testing.T) {
	client, err := NewClient(validConfig())
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	// Never connected: publish must fail locally without any I/O attempt.
	if err := client.Publish("todo/sync", []byte("{}"), 1); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := client.Publish("todo/sync", []byte("{}"), 0); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected for qos 0, got %v", err)
	}
}

func TestSubscribe_NotConnected(t *testing.T) {
	client, err := NewClient(validConfig())
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	err = client.Subscribe("todo/sync", 1, func(string, []byte) {})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	client, err := NewClient(validConfig())
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	client.Disconnect(50 * time.Millisecond)
	client.Disconnect(50 * time.Millisecond)
	if client.IsConnected() {
		t.Fatal("client should not report connected after disconnect")
	}
}

func TestClassifyConnectError(t *testing.T) {
	cases := []struct {
		err  error
		want ConnectReason
	}{
		{packets.ErrorRefusedBadProtocolVersion, ReasonProtocolVersion},
		{packets.ErrorRefusedIDRejected, ReasonInvalidClientID},
		{packets.ErrorRefusedServerUnavailable, ReasonBrokerUnavailable},
		{packets.ErrorRefusedBadUsernameOrPassword, ReasonBadCredentials},
		{packets.ErrorRefusedNotAuthorised, ReasonNotAuthorized},
		{errors.New("dial tcp: connection refused"), ReasonNetwork},
	}
	for _, tc := range cases {
		got := classifyConnectError(tc.err)
		if got.Reason != tc.want {
			t.Fatalf("classifyConnectError(%v) = %s, want %s", tc.err, got.Reason, tc.want)
		}
		if !errors.Is(got, tc.err) {
			t.Fatalf("classified error should wrap the cause %v", tc.err)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := validConfig().withDefaults()
	if cfg.ConnectTimeout <= 0 || cfg.PublishTimeout <= 0 || cfg.MaxReconnectInterval <= 0 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestBrokerURL(t *testing.T) {
	cfg := validConfig()
	if got := cfg.brokerURL(); got != "ssl://broker.example.com:8883" {
		t.Fatalf("unexpected tls broker url: %q", got)
	}
	cfg.Security.UseTLS = false
	cfg.Port = 1883
	if got := cfg.brokerURL(); got != "tcp://broker.example.com:1883" {
		t.Fatalf("unexpected plaintext broker url: %q", got)
	}
}
