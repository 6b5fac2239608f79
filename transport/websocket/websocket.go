// Package websocket provides the push transport adapter: a client connection
// to a sensor gateway that pushes telemetry frames as text messages.
//
// The adapter dials once at start and reads until the peer closes or the
// caller stops it. Connection recovery policy belongs to the caller; the
// adapter only reports loss through the disconnect callback.
package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/svjp05/seismic-web-server/component"
	"github.com/svjp05/seismic-web-server/errors"
	"github.com/svjp05/seismic-web-server/metric"
	"github.com/svjp05/seismic-web-server/transport"
)

// Config holds configuration for the websocket transport
type Config struct {
	// URL is the gateway endpoint (ws:// or wss://)
	URL string `json:"url" schema:"type:string,description:Gateway websocket URL,category:basic"`

	// HandshakeTimeout bounds the opening handshake
	HandshakeTimeout time.Duration `json:"handshake_timeout" schema:"type:duration,description:Opening handshake timeout,category:advanced"`
}

// DefaultConfig returns sensible defaults for the websocket transport.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
	}
}

// Validate checks the endpoint before any dialing happens.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(fmt.Errorf("empty URL"),
			"websocket-transport", "Validate", "URL validation")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return errors.WrapInvalid(err, "websocket-transport", "Validate", "URL validation")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.WrapInvalid(fmt.Errorf("unsupported scheme %q", u.Scheme),
			"websocket-transport", "Validate", "scheme validation")
	}
	return nil
}

// Metrics holds Prometheus metrics for the websocket transport
type Metrics struct {
	chunksReceived prometheus.Counter
	bytesReceived  prometheus.Counter
	bytesWritten   prometheus.Counter
	readErrors     prometheus.Counter
	writeErrors    prometheus.Counter
	connected      prometheus.Gauge
}

// newMetrics creates and registers websocket transport metrics
func newMetrics(registry *metric.MetricsRegistry, name string) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		chunksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "seismic",
			Subsystem:   "websocket",
			Name:        "chunks_received_total",
			Help:        "Total text chunks received from the gateway",
			ConstLabels: prometheus.Labels{"transport": name},
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "seismic",
			Subsystem:   "websocket",
			Name:        "bytes_received_total",
			Help:        "Total bytes received from the gateway",
			ConstLabels: prometheus.Labels{"transport": name},
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "seismic",
			Subsystem:   "websocket",
			Name:        "bytes_written_total",
			Help:        "Total bytes written to the gateway",
			ConstLabels: prometheus.Labels{"transport": name},
		}),
		readErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "seismic",
			Subsystem:   "websocket",
			Name:        "read_errors_total",
			Help:        "Read errors on the gateway connection",
			ConstLabels: prometheus.Labels{"transport": name},
		}),
		writeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "seismic",
			Subsystem:   "websocket",
			Name:        "write_errors_total",
			Help:        "Write errors on the gateway connection",
			ConstLabels: prometheus.Labels{"transport": name},
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "seismic",
			Subsystem:   "websocket",
			Name:        "connected",
			Help:        "1 while the gateway connection is established",
			ConstLabels: prometheus.Labels{"transport": name},
		}),
	}

	registry.RegisterCounter(name, "chunks_received", metrics.chunksReceived)
	registry.RegisterCounter(name, "bytes_received", metrics.bytesReceived)
	registry.RegisterCounter(name, "bytes_written", metrics.bytesWritten)
	registry.RegisterCounter(name, "read_errors", metrics.readErrors)
	registry.RegisterCounter(name, "write_errors", metrics.writeErrors)
	registry.RegisterGauge(name, "connected", metrics.connected)

	return metrics
}

// Transport implements the push adapter over a websocket client connection.
type Transport struct {
	name      string
	config    Config
	handler   transport.ChunkHandler
	callbacks transport.Callbacks
	logger    *slog.Logger

	dialer *websocket.Dialer

	conn   *websocket.Conn
	connMu sync.Mutex

	// gorilla/websocket allows at most one concurrent writer
	writeMu sync.Mutex

	// Lifecycle management
	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.Mutex
	wg        sync.WaitGroup

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

// Deps holds runtime dependencies for the websocket transport
type Deps struct {
	Name            string
	Config          Config
	Handler         transport.ChunkHandler
	Callbacks       transport.Callbacks
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// New creates a websocket transport. The handler is required; it receives
// each pushed text chunk on the read pump goroutine.
func New(deps Deps) (*Transport, error) {
	if deps.Handler == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil chunk handler"),
			"websocket-transport", "New", "handler validation")
	}

	name := deps.Name
	if name == "" {
		name = "websocket-transport"
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", name, "url", deps.Config.URL)
	}

	handshake := deps.Config.HandshakeTimeout
	if handshake <= 0 {
		handshake = DefaultConfig().HandshakeTimeout
	}

	t := &Transport{
		name:      name,
		config:    deps.Config,
		handler:   deps.Handler,
		callbacks: deps.Callbacks,
		logger:    logger,
		dialer:    &websocket.Dialer{HandshakeTimeout: handshake},
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
		Description: fmt.Sprintf("Websocket push transport for %s", t.config.URL),
		Version:     "1.0.0",
	}
}

// Health returns the current health status of the transport
func (t *Transport) Health() component.HealthStatus {
	t.connMu.Lock()
	connected := t.conn != nil
	t.connMu.Unlock()

	running := t.running.Load()
	uptime := time.Duration(0)
	if running && !t.startTime.IsZero() {
		uptime = time.Since(t.startTime)
	}

	return component.HealthStatus{
		Healthy:    running && connected,
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
	return "websocket:" + t.config.URL
}

// Initialize validates the configuration without dialing
func (t *Transport) Initialize() error {
	return t.config.Validate()
}

// Start dials the gateway and launches the read pump. Dialing failures are
// returned synchronously so the caller can apply its own retry policy.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running.Load() {
		return nil // Already running, idempotent
	}

	conn, resp, err := t.dialer.DialContext(ctx, t.config.URL, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return errors.WrapTransient(
			fmt.Errorf("%w: dial %s: %v", errors.ErrConnectionLost, t.config.URL, err),
			"websocket-transport", "Start", "gateway dial")
	}

	t.connMu.Lock()
	t.conn = conn
	t.connMu.Unlock()

	t.shutdown = make(chan struct{})
	t.done = make(chan struct{})
	t.running.Store(true)
	t.startTime = time.Now()

	if t.metrics != nil {
		t.metrics.connected.Set(1)
	}
	if t.callbacks.OnConnect != nil {
		t.callbacks.OnConnect()
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer close(t.done)
		t.readPump(ctx, conn)
	}()

	return nil
}

// Stop closes the connection and waits for the read pump. Idempotent.
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
	done := t.done
	t.mu.Unlock()

	// Closing the connection unblocks a read in flight.
	t.closeConn()

	if done != nil {
		select {
		case <-done:
		case <-time.After(timeout):
			return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
				"websocket-transport", "Stop", "graceful shutdown")
		}
	}

	return nil
}

// closeConn releases the connection exactly once.
func (t *Transport) closeConn() {
	t.connMu.Lock()
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	t.connMu.Unlock()
	if t.metrics != nil {
		t.metrics.connected.Set(0)
	}
}

// readPump reads pushed messages until the peer closes, a read error occurs,
// or the transport is stopped. Text and binary payloads both go through
// chunk sanitation before reaching the handler.
func (t *Transport) readPump(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			t.teardown(false)
			return
		case <-t.shutdown:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-t.shutdown:
				return
			default:
			}

			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger.Info("Gateway closed the connection")
			} else {
				t.errorCount.Add(1)
				if t.metrics != nil {
					t.metrics.readErrors.Inc()
				}
				if t.callbacks.OnError != nil {
					t.callbacks.OnError(errors.WrapTransient(
						fmt.Errorf("%w: %v", errors.ErrConnectionLost, err),
						"websocket-transport", "readPump", "message read"))
				}
			}
			t.teardown(true)
			return
		}

		now := time.Now()
		t.chunksReceived.Add(1)
		t.bytesReceived.Add(int64(len(message)))
		t.lastActivity.Store(now)
		if t.metrics != nil {
			t.metrics.chunksReceived.Inc()
			t.metrics.bytesReceived.Add(float64(len(message)))
		}

		// One chunk is handled at a time: frames stay in arrival order.
		t.handler(transport.DecodeText(message))
	}
}

// teardown marks the transport stopped from inside the read pump.
func (t *Transport) teardown(notify bool) {
	t.running.Store(false)
	t.closeConn()
	if notify && t.callbacks.OnDisconnect != nil {
		t.callbacks.OnDisconnect()
	}
}

// Write sends one encoded unit as a single text message. Each call is
// atomic with respect to the connection.
func (t *Transport) Write(ctx context.Context, data []byte) error {
	select {
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "websocket-transport", "Write", "context check")
	default:
	}

	t.connMu.Lock()
	conn := t.conn
	t.connMu.Unlock()

	if conn == nil || !t.running.Load() {
		return errors.WrapInvalid(errors.ErrWriteAfterClose,
			"websocket-transport", "Write", "connection state check")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.errorCount.Add(1)
		if t.metrics != nil {
			t.metrics.writeErrors.Inc()
		}
		return errors.WrapTransient(err, "websocket-transport", "Write", "message write")
	}

	if t.metrics != nil {
		t.metrics.bytesWritten.Add(float64(len(data)))
	}
	return nil
}
