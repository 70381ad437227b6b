package mqttbus

import (
	"log"
	"sync"

	"github.com/tasksync/backend/internal/platform/metrics"
)

// Subscriber is the slice of Client the router needs; tests swap in fakes.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler Handler) error
}

var inboundTotal = metrics.NewCounterVec(metrics.Opts{
	Name: "mqtt_inbound_messages_total",
	Help: "Inbound bus messages by outcome.",
}, []string{"outcome"})

func init() {
	metrics.Default.MustRegister(inboundTotal)
}

type job struct {
	topic   string
	payload []byte
	fn      Handler
}

// Router maps topics to handlers and moves handler execution off the
// connection's delivery loop onto a fixed worker pool, so a slow store
// round-trip never serializes inbound delivery.
type Router struct {
	qos      byte
	handlers map[string]Handler

	jobs      chan job
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewRouter(qos byte, workers, queueSize int) *Router {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	r := &Router{
		qos:      qos,
		handlers: map[string]Handler{},
		jobs:     make(chan job, queueSize),
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

func (r *Router) worker() {
	defer r.wg.Done()
	for j := range r.jobs {
		j.fn(j.topic, j.payload)
	}
}

// Handle registers fn for exact-match topic. Registrations happen once at
// startup, before Bind; a repeated topic replaces the previous handler.
func (r *Router) Handle(topic string, fn Handler) {
	r.handlers[topic] = fn
}

// Bind subscribes every registered topic on sub at the router's QoS.
func (r *Router) Bind(sub Subscriber) error {
	for topic := range r.handlers {
		if err := sub.Subscribe(topic, r.qos, r.Dispatch); err != nil {
			return err
		}
	}
	return nil
}

// Dispatch runs on the delivery loop. It looks up the handler for the exact
// topic and enqueues the work; unmatched topics and a full queue are logged
// and dropped, never fatal.
func (r *Router) Dispatch(topic string, payload []byte) {
	fn, ok := r.handlers[topic]
	if !ok {
		inboundTotal.WithLabelValues("unmatched").Inc()
		log.Printf("[mqtt] dropping message on unhandled topic %q", topic)
		return
	}
	select {
	case r.jobs <- job{topic: topic, payload: payload, fn: fn}:
		inboundTotal.WithLabelValues("dispatched").Inc()
	default:
		inboundTotal.WithLabelValues("overflow").Inc()
		log.Printf("[mqtt] dropping message on %q: worker queue full", topic)
	}
}

// Close stops accepting work and waits for in-flight handlers to finish.
func (r *Router) Close() {
	r.closeOnce.Do(func() {
		close(r.jobs)
	})
	r.wg.Wait()
}
