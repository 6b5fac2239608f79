package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all core pipeline metrics (not component-specific)
type Metrics struct {
	// Pipeline metrics
	ServiceStatus    *prometheus.GaugeVec
	FramesDecoded    *prometheus.CounterVec
	SamplesDecoded   *prometheus.CounterVec
	BatchesDelivered *prometheus.CounterVec
	DecodeDuration   *prometheus.HistogramVec
	ErrorsTotal      *prometheus.CounterVec

	// NATS metrics
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all core pipeline metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "seismic",
				Subsystem: "service",
				Name:      "status",
				Help:      "Service status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"service"},
		),

		FramesDecoded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "seismic",
				Subsystem: "decoder",
				Name:      "frames_decoded_total",
				Help:      "Total number of frames decoded",
			},
			[]string{"source", "kind"},
		),

		SamplesDecoded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "seismic",
				Subsystem: "decoder",
				Name:      "samples_decoded_total",
				Help:      "Total number of samples decoded",
			},
			[]string{"source", "channel"},
		),

		BatchesDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "seismic",
				Subsystem: "fanout",
				Name:      "batches_delivered_total",
				Help:      "Total number of batches delivered to subscribers",
			},
			[]string{"source"},
		),

		DecodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "seismic",
				Subsystem: "decoder",
				Name:      "decode_duration_seconds",
				Help:      "Frame decode and fan-out duration in seconds",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
			},
			[]string{"source"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "seismic",
				Subsystem: "pipeline",
				Name:      "errors_total",
				Help:      "Total number of errors by component and type",
			},
			[]string{"component", "type"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "seismic",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (1=connected, 0=disconnected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "seismic",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}
