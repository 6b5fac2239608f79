// Package serial provides the byte-stream transport adapter for a local
// serial sensor line.
//
// The adapter owns the hardware line exclusively. Open negotiates line
// parameters (bit rate and framing); flow-control lines are disabled by
// default to avoid unintended hardware resets, with caller-overridable
// RTS/DTR states applied once after opening. Reading is a blocking pull loop
// on a background goroutine so the caller is never blocked waiting for
// hardware input.
package serial

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.bug.st/serial"

	"github.com/svjp05/seismic-web-server/component"
	"github.com/svjp05/seismic-web-server/errors"
	"github.com/svjp05/seismic-web-server/metric"
	"github.com/svjp05/seismic-web-server/transport"
)

// readDeadline bounds each blocking read so the loop observes cancellation
// at the next read boundary.
const readDeadline = 100 * time.Millisecond

// linePort is the subset of the serial port handle the adapter uses.
// go.bug.st/serial.Port satisfies it; tests inject fakes.
type linePort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	SetRTS(rts bool) error
	SetDTR(dtr bool) error
}

// openFunc opens the underlying hardware line. Replaced in tests.
type openFunc func(portName string, mode *serial.Mode) (linePort, error)

func systemOpen(portName string, mode *serial.Mode) (linePort, error) {
	return serial.Open(portName, mode)
}

// Config holds configuration for the serial transport
type Config struct {
	// PortName is the OS device path (e.g. /dev/ttyUSB0)
	PortName string `json:"port_name" schema:"type:string,description:Serial device path,category:basic"`

	// BitRate is the line speed in bits per second
	BitRate int `json:"bit_rate" schema:"type:int,description:Line speed in bits per second,category:basic"`

	// DataBits is the character size (5-8)
	DataBits int `json:"data_bits" schema:"type:int,description:Data bits per character,category:framing"`

	// StopBits is 1 or 2
	StopBits int `json:"stop_bits" schema:"type:int,description:Stop bits (1 or 2),category:framing"`

	// Parity is one of none, odd, even, mark, space
	Parity string `json:"parity" schema:"type:string,description:Parity mode (none odd even mark space),category:framing"`

	// FlowControl is the flow-control mode; only "none" is supported and
	// it is the default, so that no handshake line toggles on open
	FlowControl string `json:"flow_control" schema:"type:string,description:Flow control mode (none),category:framing"`

	// RTSLineState is the RTS level applied once after opening
	RTSLineState bool `json:"rts_line_state" schema:"type:bool,description:RTS line state after open,category:advanced"`

	// DTRLineState is the DTR level applied once after opening
	DTRLineState bool `json:"dtr_line_state" schema:"type:bool,description:DTR line state after open,category:advanced"`
}

// DefaultConfig returns sensible defaults for the serial transport: 115200
// 8N1, flow control disabled, handshake lines low.
func DefaultConfig() Config {
	return Config{
		BitRate:     115200,
		DataBits:    8,
		StopBits:    1,
		Parity:      "none",
		FlowControl: "none",
	}
}

// Validate implements config validation. Unsupported option combinations
// fail here (and so at open), never at first read.
func (c *Config) Validate() error {
	if c.PortName == "" {
		return errors.WrapInvalid(fmt.Errorf("empty port name"),
			"serial-transport", "Validate", "port name validation")
	}
	if c.BitRate <= 0 {
		return errors.WrapInvalid(fmt.Errorf("invalid bit rate %d", c.BitRate),
			"serial-transport", "Validate", "bit rate validation")
	}
	if c.DataBits < 5 || c.DataBits > 8 {
		return errors.WrapInvalid(fmt.Errorf("invalid data bits %d", c.DataBits),
			"serial-transport", "Validate", "data bits validation")
	}
	if c.StopBits != 1 && c.StopBits != 2 {
		return errors.WrapInvalid(fmt.Errorf("invalid stop bits %d", c.StopBits),
			"serial-transport", "Validate", "stop bits validation")
	}
	if _, err := parseParity(c.Parity); err != nil {
		return err
	}
	if c.FlowControl != "" && c.FlowControl != "none" {
		return errors.WrapFatal(
			fmt.Errorf("%w: flow control %q", errors.ErrNotSupported, c.FlowControl),
			"serial-transport", "Validate", "flow control validation")
	}
	return nil
}

// parseParity maps the config string to the driver constant.
func parseParity(p string) (serial.Parity, error) {
	switch p {
	case "", "none":
		return serial.NoParity, nil
	case "odd":
		return serial.OddParity, nil
	case "even":
		return serial.EvenParity, nil
	case "mark":
		return serial.MarkParity, nil
	case "space":
		return serial.SpaceParity, nil
	default:
		return serial.NoParity, errors.WrapInvalid(
			fmt.Errorf("invalid parity %q", p),
			"serial-transport", "parseParity", "parity validation")
	}
}

// mode builds the driver line parameters from the config.
func (c *Config) mode() (*serial.Mode, error) {
	parity, err := parseParity(c.Parity)
	if err != nil {
		return nil, err
	}
	stopBits := serial.OneStopBit
	if c.StopBits == 2 {
		stopBits = serial.TwoStopBits
	}
	return &serial.Mode{
		BaudRate: c.BitRate,
		DataBits: c.DataBits,
		Parity:   parity,
		StopBits: stopBits,
	}, nil
}

// Metrics holds Prometheus metrics for the serial transport
type Metrics struct {
	chunksReceived prometheus.Counter
	bytesReceived  prometheus.Counter
	bytesWritten   prometheus.Counter
	readErrors     prometheus.Counter
	writeErrors    prometheus.Counter
	lastActivity   prometheus.Gauge
}

// newMetrics creates and registers serial transport metrics
func newMetrics(registry *metric.MetricsRegistry, name string) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		chunksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "seismic",
			Subsystem:   "serial",
			Name:        "chunks_received_total",
			Help:        "Total chunks read from the serial line",
			ConstLabels: prometheus.Labels{"transport": name},
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "seismic",
			Subsystem:   "serial",
			Name:        "bytes_received_total",
			Help:        "Total bytes read from the serial line",
			ConstLabels: prometheus.Labels{"transport": name},
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "seismic",
			Subsystem:   "serial",
			Name:        "bytes_written_total",
			Help:        "Total bytes written to the serial line",
			ConstLabels: prometheus.Labels{"transport": name},
		}),
		readErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "seismic",
			Subsystem:   "serial",
			Name:        "read_errors_total",
			Help:        "Read errors encountered on the serial line",
			ConstLabels: prometheus.Labels{"transport": name},
		}),
		writeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "seismic",
			Subsystem:   "serial",
			Name:        "write_errors_total",
			Help:        "Write errors encountered on the serial line",
			ConstLabels: prometheus.Labels{"transport": name},
		}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "seismic",
			Subsystem:   "serial",
			Name:        "last_activity_timestamp",
			Help:        "Unix timestamp of last received chunk",
			ConstLabels: prometheus.Labels{"transport": name},
		}),
	}

	registry.RegisterCounter(name, "chunks_received", metrics.chunksReceived)
	registry.RegisterCounter(name, "bytes_received", metrics.bytesReceived)
	registry.RegisterCounter(name, "bytes_written", metrics.bytesWritten)
	registry.RegisterCounter(name, "read_errors", metrics.readErrors)
	registry.RegisterCounter(name, "write_errors", metrics.writeErrors)
	registry.RegisterGauge(name, "last_activity", metrics.lastActivity)

	return metrics
}

// Transport implements the byte-stream adapter over a local serial line.
type Transport struct {
	name      string
	config    Config
	handler   transport.ChunkHandler
	callbacks transport.Callbacks
	logger    *slog.Logger

	open openFunc

	// Lifecycle management
	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	port      linePort

	// Write direction is independent of the read loop; this mutex only
	// keeps two concurrent writers from interleaving one unit.
	writeMu sync.Mutex

	// Statistics (atomic for thread safety)
	chunksReceived atomic.Int64
	bytesReceived  atomic.Int64
	errorCount     atomic.Int64
	lastActivity   atomic.Value // stores time.Time

	// Prometheus metrics
	metrics *Metrics
}

// Ensure Transport implements the required interfaces
var (
	_ transport.Transport          = (*Transport)(nil)
	_ component.LifecycleComponent = (*Transport)(nil)
)

// Deps holds runtime dependencies for the serial transport
type Deps struct {
	Name            string
	Config          Config
	Handler         transport.ChunkHandler
	Callbacks       transport.Callbacks
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// New creates a serial transport. The handler is required; it receives each
// decoded text chunk on the read loop goroutine.
func New(deps Deps) (*Transport, error) {
	if deps.Handler == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil chunk handler"),
			"serial-transport", "New", "handler validation")
	}

	name := deps.Name
	if name == "" {
		name = "serial-transport"
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", name, "port", deps.Config.PortName)
	}

	t := &Transport{
		name:      name,
		config:    deps.Config,
		handler:   deps.Handler,
		callbacks: deps.Callbacks,
		logger:    logger,
		open:      systemOpen,
		metrics:   newMetrics(deps.MetricsRegistry, name),
	}
	t.lastActivity.Store(time.Time{})
	return t, nil
}

// Meta returns the component metadata
func (t *Transport) Meta() component.Metadata {
	return component.Metadata{
		Name:        t.name,
		Type:        "transport",
		Description: fmt.Sprintf("Serial byte-stream transport on %s at %d baud", t.config.PortName, t.config.BitRate),
		Version:     "1.0.0",
	}
}

// Health returns the current health status of the transport
func (t *Transport) Health() component.HealthStatus {
	t.mu.RLock()
	opened := t.port != nil
	t.mu.RUnlock()

	running := t.running.Load()
	uptime := time.Duration(0)
	if running && !t.startTime.IsZero() {
		uptime = time.Since(t.startTime)
	}

	return component.HealthStatus{
		Healthy:    running && opened,
		LastCheck:  time.Now(),
		ErrorCount: int(t.errorCount.Load()),
		Uptime:     uptime,
	}
}

// DataFlow returns the current data flow metrics
func (t *Transport) DataFlow() component.FlowMetrics {
	chunks := t.chunksReceived.Load()
	bytes := t.bytesReceived.Load()
	errorCount := t.errorCount.Load()
	lastActivity, _ := t.lastActivity.Load().(time.Time)

	var chunksPerSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(t.startTime).Seconds(); uptime > 0 && !t.startTime.IsZero() {
		chunksPerSecond = float64(chunks) / uptime
		bytesPerSecond = float64(bytes) / uptime
	}
	if chunks > 0 {
		errorRate = float64(errorCount) / float64(chunks)
	}

	return component.FlowMetrics{
		MessagesPerSecond: chunksPerSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Source returns the transport identity attached to decoded samples
func (t *Transport) Source() string {
	return "serial:" + t.config.PortName
}

// Initialize validates the configuration without touching hardware
func (t *Transport) Initialize() error {
	return t.config.Validate()
}

// Start opens the line, applies handshake line states, and launches the
// blocking read loop on a background goroutine.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running.Load() {
		return nil // Already running, idempotent
	}

	mode, err := t.config.mode()
	if err != nil {
		return err
	}

	port, err := t.open(t.config.PortName, mode)
	if err != nil {
		return errors.WrapTransient(err, "serial-transport", "Start", "port open")
	}

	// Handshake lines are applied exactly once after opening; both default
	// to low so opening never resets the attached hardware.
	if err := port.SetRTS(t.config.RTSLineState); err != nil {
		_ = port.Close()
		return errors.WrapTransient(err, "serial-transport", "Start", "set RTS line state")
	}
	if err := port.SetDTR(t.config.DTRLineState); err != nil {
		_ = port.Close()
		return errors.WrapTransient(err, "serial-transport", "Start", "set DTR line state")
	}

	// Bounded reads let the loop observe shutdown between chunks.
	if err := port.SetReadTimeout(readDeadline); err != nil {
		_ = port.Close()
		return errors.WrapTransient(err, "serial-transport", "Start", "set read timeout")
	}

	t.port = port
	t.shutdown = make(chan struct{})
	t.done = make(chan struct{})
	t.running.Store(true)
	t.startTime = time.Now()

	if t.callbacks.OnConnect != nil {
		t.callbacks.OnConnect()
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer close(t.done)
		t.readLoop(ctx)
	}()

	return nil
}

// Stop cancels the read loop and releases the line. Stopping twice, or
// stopping after natural end-of-stream, is a no-op: the read handle is
// released exactly once.
func (t *Transport) Stop(timeout time.Duration) error {
	if !t.running.CompareAndSwap(true, false) {
		return nil
	}

	t.mu.Lock()
	if t.shutdown != nil {
		select {
		case <-t.shutdown:
		default:
			close(t.shutdown)
		}
	}
	// Closing the port unblocks a read in flight.
	t.closePortLocked()
	done := t.done
	t.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-time.After(timeout):
			return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
				"serial-transport", "Stop", "graceful shutdown")
		}
	}

	return nil
}

// closePortLocked releases the read handle exactly once. Caller holds t.mu.
func (t *Transport) closePortLocked() {
	if t.port != nil {
		_ = t.port.Close()
		t.port = nil
	}
}

// readLoop is the blocking pull loop. It runs until end-of-stream, a fatal
// read error, or cancellation, and observes cancellation at read boundaries.
func (t *Transport) readLoop(ctx context.Context) {
	buf := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			t.release()
			return
		case <-t.shutdown:
			return
		default:
		}

		t.mu.RLock()
		port := t.port
		t.mu.RUnlock()
		if port == nil {
			return
		}

		n, err := port.Read(buf)
		if err != nil {
			select {
			case <-t.shutdown:
				return
			default:
			}

			if err == io.EOF {
				// Natural end-of-stream: the line is gone.
				t.logger.Info("Serial line reached end of stream")
				t.release()
				if t.callbacks.OnDisconnect != nil {
					t.callbacks.OnDisconnect()
				}
				return
			}

			// Any other driver error is terminal for this line: the
			// loop releases the port and signals disconnect so the
			// caller can decide whether to reopen.
			t.errorCount.Add(1)
			if t.metrics != nil {
				t.metrics.readErrors.Inc()
			}
			t.logger.Warn("Serial read failed, closing line", "error", err)
			if t.callbacks.OnError != nil {
				t.callbacks.OnError(errors.WrapTransient(err, "serial-transport", "readLoop", "port read"))
			}
			t.release()
			if t.callbacks.OnDisconnect != nil {
				t.callbacks.OnDisconnect()
			}
			return
		}

		if n == 0 {
			// Read timeout, used purely as a cancellation check.
			continue
		}

		now := time.Now()
		t.chunksReceived.Add(1)
		t.bytesReceived.Add(int64(n))
		t.lastActivity.Store(now)
		if t.metrics != nil {
			t.metrics.chunksReceived.Inc()
			t.metrics.bytesReceived.Add(float64(n))
			t.metrics.lastActivity.Set(float64(now.Unix()))
		}

		// One chunk is decoded and handled at a time: frames stay in
		// strict arrival order.
		t.handler(transport.DecodeText(buf[:n]))
	}
}

// release marks the transport stopped from inside the read loop and closes
// the handle once.
func (t *Transport) release() {
	t.running.Store(false)
	t.mu.Lock()
	t.closePortLocked()
	t.mu.Unlock()
}

// Write sends one encoded unit, blocking until the chunk is fully
// transmitted. Each call is atomic with respect to the line.
func (t *Transport) Write(ctx context.Context, data []byte) error {
	t.mu.RLock()
	port := t.port
	t.mu.RUnlock()

	if port == nil || !t.running.Load() {
		return errors.WrapInvalid(errors.ErrWriteAfterClose,
			"serial-transport", "Write", "port state check")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	for len(data) > 0 {
		select {
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), "serial-transport", "Write", "context check")
		default:
		}

		n, err := port.Write(data)
		if err != nil {
			t.errorCount.Add(1)
			if t.metrics != nil {
				t.metrics.writeErrors.Inc()
			}
			return errors.WrapTransient(err, "serial-transport", "Write", "port write")
		}
		if t.metrics != nil {
			t.metrics.bytesWritten.Add(float64(n))
		}
		data = data[n:]
	}

	return nil
}
