// Package subscribe implements the fan-out of decoded sample batches to
// registered subscriber callbacks.
package subscribe

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/svjp05/seismic-web-server/metric"
	"github.com/svjp05/seismic-web-server/telemetry"
)

// Subscriber is a registered callback. It receives the full decoded batch of
// one frame. Panics raised by a subscriber are caught and isolated; they never
// block delivery to the remaining subscribers.
type Subscriber func(batch telemetry.Batch)

// subscription pairs a callback with its registration identity.
type subscription struct {
	id uuid.UUID
	fn Subscriber
}

// Metrics holds Prometheus metrics for the registry
type Metrics struct {
	subscribersActive prometheus.Gauge
	batchesDelivered  prometheus.Counter
	samplesDelivered  prometheus.Counter
	subscriberPanics  prometheus.Counter
}

// newMetrics creates and registers fan-out metrics
func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		subscribersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "seismic",
			Subsystem: "fanout",
			Name:      "subscribers_active",
			Help:      "Number of registered subscribers",
		}),
		batchesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "seismic",
			Subsystem: "fanout",
			Name:      "batches_total",
			Help:      "Total batches fanned out",
		}),
		samplesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "seismic",
			Subsystem: "fanout",
			Name:      "samples_total",
			Help:      "Total samples fanned out",
		}),
		subscriberPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "seismic",
			Subsystem: "fanout",
			Name:      "subscriber_panics_total",
			Help:      "Subscriber callbacks that panicked during delivery",
		}),
	}

	registry.RegisterGauge("fanout", "subscribers_active", metrics.subscribersActive)
	registry.RegisterCounter("fanout", "batches", metrics.batchesDelivered)
	registry.RegisterCounter("fanout", "samples", metrics.samplesDelivered)
	registry.RegisterCounter("fanout", "subscriber_panics", metrics.subscriberPanics)

	return metrics
}

// Registry maintains the ordered set of active subscribers and delivers each
// decoded batch to all of them.
//
// A single mutex guards the whole "read subscriber list, deliver to each"
// scope: concurrent Deliver calls from different transports serialize, and a
// Subscribe or Unsubscribe issued during an in-flight fan-out takes effect on
// the next batch. Subscriber callbacks must not call back into the registry.
type Registry struct {
	mu      sync.Mutex
	subs    []subscription // registration order
	logger  *slog.Logger
	metrics *Metrics
}

// RegistryDeps holds runtime dependencies for the registry
type RegistryDeps struct {
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// NewRegistry creates an empty subscriber registry
func NewRegistry(deps RegistryDeps) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "subscribe-registry")
	}
	return &Registry{
		logger:  logger,
		metrics: newMetrics(deps.MetricsRegistry),
	}
}

// Subscribe registers a callback and returns its registration id.
func (r *Registry) Subscribe(fn Subscriber) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.New()
	r.subs = append(r.subs, subscription{id: id, fn: fn})
	if r.metrics != nil {
		r.metrics.subscribersActive.Set(float64(len(r.subs)))
	}
	return id
}

// Unsubscribe removes the callback registered under id. Removing an unknown
// id is a no-op.
func (r *Registry) Unsubscribe(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, sub := range r.subs {
		if sub.id == id {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			if r.metrics != nil {
				r.metrics.subscribersActive.Set(float64(len(r.subs)))
			}
			return true
		}
	}
	return false
}

// UnsubscribeAll removes every subscriber. Used on transport disconnect and
// decoder teardown.
func (r *Registry) UnsubscribeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.subs = nil
	if r.metrics != nil {
		r.metrics.subscribersActive.Set(0)
	}
}

// Len returns the number of registered subscribers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Deliver fans the batch out to every registered subscriber in registration
// order. Every subscriber registered at delivery time receives the batch; a
// subscriber that panics is logged and skipped for this batch only.
func (r *Registry) Deliver(batch telemetry.Batch) {
	if len(batch) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sub := range r.subs {
		r.deliverOne(sub, batch)
	}

	if r.metrics != nil {
		r.metrics.batchesDelivered.Inc()
		r.metrics.samplesDelivered.Add(float64(len(batch)))
	}
}

// deliverOne invokes a single subscriber with panic isolation.
func (r *Registry) deliverOne(sub subscription, batch telemetry.Batch) {
	defer func() {
		if rec := recover(); rec != nil {
			if r.metrics != nil {
				r.metrics.subscriberPanics.Inc()
			}
			r.logger.Error("Subscriber panicked during delivery",
				"subscriber", sub.id.String(),
				"batch_size", len(batch),
				"panic", fmt.Sprintf("%v", rec))
		}
	}()
	sub.fn(batch)
}
