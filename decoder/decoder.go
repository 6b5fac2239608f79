// Package decoder turns raw transport chunks into timestamped telemetry
// batches and fans them out to subscribers.
//
// One Decoder is bound to one transport, which picks the entry point matching
// its framing: HandleChunk buffers byte-stream input until a newline completes
// a unit, HandleMessage decodes each pushed message as already-delimited.
// Complete units are decoded with the frame grammar. Decoded samples get
// synthesized timestamps anchored at the unit's arrival instant, carry the
// transport identity and environmental metadata, and are delivered as one
// batch per frame. Decoding is serialized: at most one unit is in flight at a
// time, so batches leave in strict arrival order.
package decoder

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/svjp05/seismic-web-server/errors"
	"github.com/svjp05/seismic-web-server/frame"
	"github.com/svjp05/seismic-web-server/metric"
	"github.com/svjp05/seismic-web-server/subscribe"
	"github.com/svjp05/seismic-web-server/telemetry"
)

// Metrics holds Prometheus metrics for the decoder
type Metrics struct {
	unitsDecoded   *prometheus.CounterVec
	samplesDecoded prometheus.Counter
	decodeErrors   prometheus.Counter
	decodeDuration prometheus.Histogram
}

// newMetrics creates and registers decoder metrics
func newMetrics(registry *metric.MetricsRegistry, name string) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		unitsDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "seismic",
			Subsystem:   "stream",
			Name:        "units_decoded_total",
			Help:        "Total units decoded, by result kind",
			ConstLabels: prometheus.Labels{"decoder": name},
		}, []string{"kind"}),
		samplesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "seismic",
			Subsystem:   "stream",
			Name:        "samples_decoded_total",
			Help:        "Total samples produced from decoded units",
			ConstLabels: prometheus.Labels{"decoder": name},
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "seismic",
			Subsystem:   "stream",
			Name:        "decode_errors_total",
			Help:        "Units that failed to decode",
			ConstLabels: prometheus.Labels{"decoder": name},
		}),
		decodeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "seismic",
			Subsystem:   "stream",
			Name:        "decode_duration_seconds",
			Help:        "Time spent decoding and delivering one unit",
			Buckets:     []float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
			ConstLabels: prometheus.Labels{"decoder": name},
		}),
	}

	registry.RegisterCounterVec(name, "units_decoded", metrics.unitsDecoded)
	registry.RegisterCounter(name, "samples_decoded", metrics.samplesDecoded)
	registry.RegisterCounter(name, "decode_errors", metrics.decodeErrors)
	registry.RegisterHistogram(name, "decode_duration", metrics.decodeDuration)

	return metrics
}

// Deps holds runtime dependencies for a Decoder
type Deps struct {
	Name string

	// Source is the transport identity attached to every decoded sample.
	Source string

	// Step overrides the assumed inter-sample interval. Zero means the
	// sensor's nominal rate.
	Step time.Duration

	// Registry receives one Deliver call per decoded frame.
	Registry *subscribe.Registry

	// OnError receives decode failures. The stream continues after each.
	OnError func(error)

	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger

	// Clock supplies arrival instants. Nil means time.Now.
	Clock func() time.Time
}

// maxPendingBytes caps the partial-unit buffer. A stream that never carries
// a line delimiter (wrong line speed, binary noise) is dropped and reported
// rather than accumulated.
const maxPendingBytes = 64 * 1024

// Decoder is the per-transport decode pipeline. Its HandleChunk or
// HandleMessage method is the handler wired into a transport.
type Decoder struct {
	name     string
	source   string
	registry *subscribe.Registry
	onError  func(error)
	logger   *slog.Logger
	clock    func() time.Time
	synth    telemetry.Synthesizer

	// mu serializes the whole pipeline: buffering, decode, and delivery.
	mu      sync.Mutex
	pending strings.Builder
	closed  atomic.Bool

	unitsDecoded   atomic.Int64
	samplesDecoded atomic.Int64
	errorCount     atomic.Int64

	metrics *Metrics
	core    *metric.Metrics
}

// New creates a decoder bound to one transport's chunk stream.
func New(deps Deps) (*Decoder, error) {
	if deps.Registry == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil registry"),
			"decoder", "New", "registry validation")
	}

	name := deps.Name
	if name == "" {
		name = "decoder"
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", name, "source", deps.Source)
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	d := &Decoder{
		name:     name,
		source:   deps.Source,
		registry: deps.Registry,
		onError:  deps.OnError,
		logger:   logger,
		clock:    clock,
		synth:    telemetry.Synthesizer{Step: deps.Step},
		metrics:  newMetrics(deps.MetricsRegistry, name),
	}
	if deps.MetricsRegistry != nil {
		d.core = deps.MetricsRegistry.CoreMetrics()
	}
	return d, nil
}

// HandleChunk consumes one transport chunk. Text up to each newline forms a
// complete unit and is decoded immediately; the trailing remainder is kept
// until a later chunk completes it.
func (d *Decoder) HandleChunk(chunk string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed.Load() {
		return
	}

	d.pending.WriteString(chunk)
	buffered := d.pending.String()

	idx := strings.IndexByte(buffered, '\n')
	if idx < 0 {
		if d.pending.Len() > maxPendingBytes {
			d.pending.Reset()
			d.reportError(errors.WrapInvalid(errors.ErrUnitTooLong,
				"decoder", "HandleChunk", "pending unit overflow"))
		}
		return
	}

	d.pending.Reset()
	for idx >= 0 {
		unit := buffered[:idx]
		buffered = buffered[idx+1:]
		d.processUnit(unit)
		idx = strings.IndexByte(buffered, '\n')
	}
	d.pending.WriteString(buffered)
}

// HandleMessage consumes one message-delimited unit. Push transports deliver
// discrete messages, so nothing is buffered: the message decodes immediately,
// with or without a trailing line delimiter. A message carrying embedded
// newlines decodes as one unit per line.
func (d *Decoder) HandleMessage(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed.Load() {
		return
	}

	for _, unit := range strings.Split(msg, "\n") {
		if strings.TrimSpace(unit) == "" {
			continue
		}
		d.processUnit(unit)
	}
}

// Close decodes any buffered trailing unit and stops the pipeline. Calling
// Close twice, or HandleChunk after Close, is a no-op.
func (d *Decoder) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.closed.CompareAndSwap(false, true) {
		return
	}

	if rest := d.pending.String(); strings.TrimSpace(rest) != "" {
		d.processUnit(rest)
	}
	d.pending.Reset()
}

// UnitsDecoded returns the number of units decoded so far.
func (d *Decoder) UnitsDecoded() int64 { return d.unitsDecoded.Load() }

// SamplesDecoded returns the number of samples produced so far.
func (d *Decoder) SamplesDecoded() int64 { return d.samplesDecoded.Load() }

// ErrorCount returns the number of units that failed to decode.
func (d *Decoder) ErrorCount() int64 { return d.errorCount.Load() }

// reportError counts a stream fault and surfaces it without stopping intake.
// Caller holds d.mu.
func (d *Decoder) reportError(err error) {
	d.errorCount.Add(1)
	if d.metrics != nil {
		d.metrics.decodeErrors.Inc()
	}
	d.logger.Debug("Unit failed to decode", "error", err)
	if d.onError != nil {
		d.onError(err)
	}
}

// processUnit decodes one complete unit and delivers the resulting batch.
// Caller holds d.mu.
func (d *Decoder) processUnit(unit string) {
	arrival := d.clock()
	start := time.Now()

	result, err := frame.Decode(unit)
	if err != nil {
		d.reportError(err)
		return
	}

	d.unitsDecoded.Add(1)
	if d.metrics != nil {
		d.metrics.unitsDecoded.WithLabelValues(result.Kind.String()).Inc()
	}
	if d.core != nil {
		d.core.FramesDecoded.WithLabelValues(d.source, result.Kind.String()).Inc()
	}

	var batch telemetry.Batch
	switch result.Kind {
	case frame.KindNoData:
		return
	case frame.KindBare, frame.KindMultiChannel:
		batch = d.buildChannelBatch(arrival, result)
	case frame.KindEnvelope:
		batch = d.buildEnvelopeBatch(arrival, result.Envelope)
	}

	if len(batch) == 0 {
		return
	}

	d.samplesDecoded.Add(int64(len(batch)))
	if d.metrics != nil {
		d.metrics.samplesDecoded.Add(float64(len(batch)))
		d.metrics.decodeDuration.Observe(time.Since(start).Seconds())
	}
	if d.core != nil {
		for _, s := range batch {
			d.core.SamplesDecoded.WithLabelValues(d.source, s.Channel.String()).Inc()
		}
		d.core.BatchesDelivered.WithLabelValues(d.source).Inc()
		d.core.DecodeDuration.WithLabelValues(d.source).Observe(time.Since(start).Seconds())
	}

	d.registry.Deliver(batch)
}

// buildChannelBatch turns line-grammar segments into samples. Each channel is
// timestamped independently from the shared arrival instant, so same-index
// samples across channels stay time-aligned.
func (d *Decoder) buildChannelBatch(arrival time.Time, result frame.Result) telemetry.Batch {
	var batch telemetry.Batch
	for _, seg := range result.Segments {
		n := len(seg.Values)
		for i, v := range seg.Values {
			batch = append(batch, telemetry.Sample{
				Amplitude: v,
				Timestamp: d.synth.At(arrival, n, i),
				Channel:   seg.Channel,
				Metadata:  d.sampleMetadata(result.Meta, i, n),
			})
		}
	}
	return batch
}

// sampleMetadata builds the metadata map attached to one transport-decoded
// sample.
func (d *Decoder) sampleMetadata(meta frame.Metadata, index, size int) map[string]any {
	m := map[string]any{
		telemetry.MetaSource:     d.source,
		telemetry.MetaRaw:        true,
		telemetry.MetaBatchIndex: index,
		telemetry.MetaBatchSize:  size,
	}
	if meta.Temperature != nil {
		m[telemetry.MetaTemperature] = *meta.Temperature
	}
	if meta.Humidity != nil {
		m[telemetry.MetaHumidity] = *meta.Humidity
	}
	if meta.Voltage != nil {
		m[telemetry.MetaVoltage] = *meta.Voltage
	}
	return m
}

// buildEnvelopeBatch turns a structured envelope into a single-sample batch.
// The envelope carries its own timestamp; arrival is the fallback when the
// payload has none.
func (d *Decoder) buildEnvelopeBatch(arrival time.Time, env *frame.Envelope) telemetry.Batch {
	if env == nil {
		return nil
	}

	ts := env.Payload.Time()
	if ts.IsZero() {
		ts = arrival
	}

	m := map[string]any{
		telemetry.MetaSource:     d.source,
		telemetry.MetaRaw:        true,
		telemetry.MetaBatchIndex: 0,
		telemetry.MetaBatchSize:  1,
	}
	for k, v := range env.Payload.Metadata {
		m[k] = v
	}

	return telemetry.Batch{{
		Amplitude: env.Payload.Amplitude.Float64(),
		Timestamp: ts,
		Channel:   telemetry.ChannelUnlabeled,
		Metadata:  m,
	}}
}
