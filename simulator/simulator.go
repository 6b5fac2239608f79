// Package simulator generates synthetic sensor traffic in the wire grammar,
// for soak testing a pipeline without hardware attached.
package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/svjp05/seismic-web-server/component"
	"github.com/svjp05/seismic-web-server/errors"
	"github.com/svjp05/seismic-web-server/frame"
	"github.com/svjp05/seismic-web-server/metric"
)

// WriteFunc delivers one encoded frame. A transport's Write method satisfies
// it.
type WriteFunc func(ctx context.Context, data []byte) error

// Config holds configuration for the simulator
type Config struct {
	// FramesPerSecond paces frame generation
	FramesPerSecond float64 `json:"frames_per_second" schema:"type:float,description:Frame generation rate,category:basic"`

	// BatchSize is the number of samples per channel per frame
	BatchSize int `json:"batch_size" schema:"type:int,description:Samples per channel per frame,category:basic"`

	// Channels is how many waveform channels to emit (1-3)
	Channels int `json:"channels" schema:"type:int,description:Waveform channels per frame (1-3),category:basic"`

	// Amplitude scales the synthetic waveform
	Amplitude float64 `json:"amplitude" schema:"type:float,description:Peak waveform amplitude,category:basic"`

	// WithMetadata prepends a synthetic environmental prefix to each frame
	WithMetadata bool `json:"with_metadata" schema:"type:bool,description:Emit T/H/V metadata prefix,category:advanced"`

	// Seed makes the waveform reproducible; 0 derives one from the clock
	Seed int64 `json:"seed" schema:"type:int,description:Waveform RNG seed,category:advanced"`
}

// DefaultConfig returns default configuration for the simulator
func DefaultConfig() Config {
	return Config{
		FramesPerSecond: 10,
		BatchSize:       10,
		Channels:        3,
		Amplitude:       2.0,
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.FramesPerSecond <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "simulator", "Validate",
			"frames_per_second must be positive")
	}
	if c.BatchSize < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "simulator", "Validate",
			"batch_size must be at least 1")
	}
	if c.Channels < 1 || c.Channels > 3 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "simulator", "Validate",
			"channels must be between 1 and 3")
	}
	return nil
}

// Metrics holds Prometheus metrics for the simulator
type Metrics struct {
	framesGenerated prometheus.Counter
	writeErrors     prometheus.Counter
}

// newMetrics creates and registers simulator metrics
func newMetrics(registry *metric.MetricsRegistry, name string) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		framesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "seismic",
			Subsystem:   "simulator",
			Name:        "frames_generated_total",
			Help:        "Total synthetic frames generated",
			ConstLabels: prometheus.Labels{"simulator": name},
		}),
		writeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "seismic",
			Subsystem:   "simulator",
			Name:        "write_errors_total",
			Help:        "Synthetic frames that failed to write",
			ConstLabels: prometheus.Labels{"simulator": name},
		}),
	}

	registry.RegisterCounter(name, "frames_generated", metrics.framesGenerated)
	registry.RegisterCounter(name, "write_errors", metrics.writeErrors)

	return metrics
}

// Simulator emits rate-limited synthetic frames through a WriteFunc.
type Simulator struct {
	name    string
	config  Config
	write   WriteFunc
	logger  *slog.Logger
	limiter *rate.Limiter
	rng     *rand.Rand

	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.Mutex
	wg        sync.WaitGroup
	phase     float64

	framesGenerated atomic.Int64
	errorCount      atomic.Int64

	metrics *Metrics
}

// Ensure Simulator implements the lifecycle interface
var _ component.LifecycleComponent = (*Simulator)(nil)

// Deps holds runtime dependencies for the simulator
type Deps struct {
	Name            string
	Config          Config
	Write           WriteFunc
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// New creates a simulator writing frames through the given WriteFunc.
func New(deps Deps) (*Simulator, error) {
	if deps.Write == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil write function"),
			"simulator", "New", "write validation")
	}

	name := deps.Name
	if name == "" {
		name = "simulator"
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", name)
	}

	seed := deps.Config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Simulator{
		name:    name,
		config:  deps.Config,
		write:   deps.Write,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(deps.Config.FramesPerSecond), 1),
		rng:     rand.New(rand.NewSource(seed)),
		metrics: newMetrics(deps.MetricsRegistry, name),
	}, nil
}

// Meta returns the component metadata
func (s *Simulator) Meta() component.Metadata {
	return component.Metadata{
		Name:        s.name,
		Type:        "input",
		Description: "Synthetic sensor traffic generator",
		Version:     "1.0.0",
	}
}

// Health returns the current health status
func (s *Simulator) Health() component.HealthStatus {
	running := s.running.Load()
	uptime := time.Duration(0)
	if running && !s.startTime.IsZero() {
		uptime = time.Since(s.startTime)
	}

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(s.errorCount.Load()),
		Uptime:     uptime,
	}
}

// DataFlow returns the current data flow metrics
func (s *Simulator) DataFlow() component.FlowMetrics {
	frames := s.framesGenerated.Load()

	var perSecond float64
	if uptime := time.Since(s.startTime).Seconds(); uptime > 0 && !s.startTime.IsZero() {
		perSecond = float64(frames) / uptime
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
	}
}

// Initialize validates the configuration
func (s *Simulator) Initialize() error {
	return s.config.Validate()
}

// Start launches the generation loop
func (s *Simulator) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return nil
	}

	s.shutdown = make(chan struct{})
	s.done = make(chan struct{})
	s.running.Store(true)
	s.startTime = time.Now()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.done)
		s.generate(ctx)
	}()

	return nil
}

// Stop cancels the generation loop. Idempotent.
func (s *Simulator) Stop(timeout time.Duration) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.mu.Lock()
	if s.shutdown != nil {
		select {
		case <-s.shutdown:
		default:
			close(s.shutdown)
		}
	}
	done := s.done
	s.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-time.After(timeout):
			return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
				"simulator", "Stop", "graceful shutdown")
		}
	}

	return nil
}

// generate is the paced generation loop.
func (s *Simulator) generate(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		default:
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return
		}

		unit, err := s.nextFrame()
		if err != nil {
			s.errorCount.Add(1)
			continue
		}

		if err := s.write(ctx, []byte(unit+"\n")); err != nil {
			s.errorCount.Add(1)
			if s.metrics != nil {
				s.metrics.writeErrors.Inc()
			}
			s.logger.Debug("Failed to write synthetic frame", "error", err)
			continue
		}

		s.framesGenerated.Add(1)
		if s.metrics != nil {
			s.metrics.framesGenerated.Inc()
		}
	}
}

// nextFrame builds one frame of noisy sine waveforms. Y lags X by a quarter
// period and Z by a half period, so channels are distinguishable downstream.
func (s *Simulator) nextFrame() (string, error) {
	x := s.series(0)
	var y, z []float64
	if s.config.Channels >= 2 {
		y = s.series(math.Pi / 2)
	}
	if s.config.Channels >= 3 {
		z = s.series(math.Pi)
	}

	var meta frame.Metadata
	if s.config.WithMetadata {
		temp := 20 + s.rng.Intn(10)
		hum := 40 + s.rng.Intn(30)
		volt := 85 + s.rng.Intn(15)
		meta = frame.Metadata{Temperature: &temp, Humidity: &hum, Voltage: &volt}
	}

	return frame.EncodeChannels(meta, x, y, z)
}

// series produces one channel's samples and advances the waveform phase.
func (s *Simulator) series(offset float64) []float64 {
	out := make([]float64, s.config.BatchSize)
	for i := range out {
		v := s.config.Amplitude * math.Sin(s.phase+offset+float64(i)*0.1)
		v += (s.rng.Float64() - 0.5) * s.config.Amplitude * 0.05
		out[i] = math.Round(v*100) / 100
	}
	s.phase += float64(s.config.BatchSize) * 0.1
	return out
}
