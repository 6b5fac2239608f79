// Package nats provides the output component that publishes decoded telemetry
// batches to a NATS subject.
//
// The publisher is an ordinary subscriber of the fan-out registry: each
// delivered batch is marshaled once and published as one message, so
// downstream consumers see frames in the same order the sensors produced
// them.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/svjp05/seismic-web-server/component"
	"github.com/svjp05/seismic-web-server/errors"
	"github.com/svjp05/seismic-web-server/metric"
	"github.com/svjp05/seismic-web-server/subscribe"
	"github.com/svjp05/seismic-web-server/telemetry"
)

// Publisher is the outbound messaging dependency. *natsclient.Client
// satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Config holds configuration for the NATS output
type Config struct {
	// Subject is the NATS subject batches are published to
	Subject string `json:"subject" schema:"type:string,description:Publish subject,category:basic"`
}

// DefaultConfig returns default configuration for the NATS output
func DefaultConfig() Config {
	return Config{
		Subject: "seismic.telemetry",
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Subject == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "nats-output", "Validate", "subject is required")
	}
	return nil
}

// batchEnvelope is the published message body.
type batchEnvelope struct {
	PublishedAt time.Time       `json:"publishedAt"`
	Samples     telemetry.Batch `json:"samples"`
}

// Metrics holds Prometheus metrics for the NATS output
type Metrics struct {
	batchesPublished prometheus.Counter
	bytesPublished   prometheus.Counter
	publishErrors    prometheus.Counter
}

// newMetrics creates and registers NATS output metrics
func newMetrics(registry *metric.MetricsRegistry, name string) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		batchesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "seismic",
			Subsystem:   "nats_output",
			Name:        "batches_published_total",
			Help:        "Total batches published to NATS",
			ConstLabels: prometheus.Labels{"output": name},
		}),
		bytesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "seismic",
			Subsystem:   "nats_output",
			Name:        "bytes_published_total",
			Help:        "Total bytes published to NATS",
			ConstLabels: prometheus.Labels{"output": name},
		}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "seismic",
			Subsystem:   "nats_output",
			Name:        "publish_errors_total",
			Help:        "Batches that failed to publish",
			ConstLabels: prometheus.Labels{"output": name},
		}),
	}

	registry.RegisterCounter(name, "batches_published", metrics.batchesPublished)
	registry.RegisterCounter(name, "bytes_published", metrics.bytesPublished)
	registry.RegisterCounter(name, "publish_errors", metrics.publishErrors)

	return metrics
}

// Output publishes telemetry batches from the fan-out registry to NATS.
type Output struct {
	name      string
	config    Config
	registry  *subscribe.Registry
	publisher Publisher
	logger    *slog.Logger

	subID     uuid.UUID
	ctx       context.Context
	cancel    context.CancelFunc
	running   atomic.Bool
	startTime time.Time
	mu        sync.Mutex

	batchesPublished atomic.Int64
	errorCount       atomic.Int64
	lastActivity     atomic.Value // stores time.Time

	metrics *Metrics
}

// Ensure Output implements the required interfaces
var _ component.LifecycleComponent = (*Output)(nil)

// Deps holds runtime dependencies for the NATS output
type Deps struct {
	Name            string
	Config          Config
	Registry        *subscribe.Registry
	Publisher       Publisher
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// NewOutput creates a NATS output component
func NewOutput(deps Deps) (*Output, error) {
	if deps.Registry == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil registry"),
			"nats-output", "NewOutput", "registry validation")
	}
	if deps.Publisher == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil publisher"),
			"nats-output", "NewOutput", "publisher validation")
	}

	config := deps.Config
	if config.Subject == "" {
		config.Subject = DefaultConfig().Subject
	}

	name := deps.Name
	if name == "" {
		name = "nats-output"
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", name, "subject", config.Subject)
	}

	o := &Output{
		name:      name,
		config:    config,
		registry:  deps.Registry,
		publisher: deps.Publisher,
		logger:    logger,
		metrics:   newMetrics(deps.MetricsRegistry, name),
	}
	o.lastActivity.Store(time.Time{})
	return o, nil
}

// Meta returns the component metadata
func (o *Output) Meta() component.Metadata {
	return component.Metadata{
		Name:        o.name,
		Type:        "output",
		Description: fmt.Sprintf("NATS telemetry publisher on %s", o.config.Subject),
		Version:     "1.0.0",
	}
}

// Health returns the current health status
func (o *Output) Health() component.HealthStatus {
	running := o.running.Load()
	uptime := time.Duration(0)
	if running && !o.startTime.IsZero() {
		uptime = time.Since(o.startTime)
	}

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(o.errorCount.Load()),
		Uptime:     uptime,
	}
}

// DataFlow returns the current data flow metrics
func (o *Output) DataFlow() component.FlowMetrics {
	published := o.batchesPublished.Load()
	errorCount := o.errorCount.Load()
	lastActivity, _ := o.lastActivity.Load().(time.Time)

	var perSecond, errorRate float64
	if uptime := time.Since(o.startTime).Seconds(); uptime > 0 && !o.startTime.IsZero() {
		perSecond = float64(published) / uptime
	}
	if published > 0 {
		errorRate = float64(errorCount) / float64(published)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize validates the configuration
func (o *Output) Initialize() error {
	return o.config.Validate()
}

// Start subscribes the publisher to the fan-out registry
func (o *Output) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running.Load() {
		return nil
	}

	o.ctx, o.cancel = context.WithCancel(ctx)
	o.subID = o.registry.Subscribe(o.publishBatch)
	o.running.Store(true)
	o.startTime = time.Now()

	o.logger.Info("NATS output started", "subject", o.config.Subject)
	return nil
}

// Stop unsubscribes from the registry. Idempotent.
func (o *Output) Stop(time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running.CompareAndSwap(true, false) {
		return nil
	}

	o.registry.Unsubscribe(o.subID)
	o.cancel()
	return nil
}

// publishBatch is the registry subscriber: one delivered batch becomes one
// published message.
func (o *Output) publishBatch(batch telemetry.Batch) {
	if !o.running.Load() || len(batch) == 0 {
		return
	}

	data, err := json.Marshal(batchEnvelope{
		PublishedAt: time.Now().UTC(),
		Samples:     batch,
	})
	if err != nil {
		o.trackError()
		o.logger.Error("Failed to marshal batch", "error", err)
		return
	}

	if err := o.publisher.Publish(o.ctx, o.config.Subject, data); err != nil {
		o.trackError()
		o.logger.Warn("Failed to publish batch", "error", err)
		return
	}

	o.batchesPublished.Add(1)
	o.lastActivity.Store(time.Now())
	if o.metrics != nil {
		o.metrics.batchesPublished.Inc()
		o.metrics.bytesPublished.Add(float64(len(data)))
	}
}

func (o *Output) trackError() {
	o.errorCount.Add(1)
	if o.metrics != nil {
		o.metrics.publishErrors.Inc()
	}
}
