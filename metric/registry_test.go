package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NotNil(t, registry)
	require.NotNil(t, registry.PrometheusRegistry())
	require.NotNil(t, registry.CoreMetrics())
}

func TestRegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "seismic",
		Subsystem: "test",
		Name:      "ops_total",
		Help:      "Test counter",
	})

	require.NoError(t, registry.RegisterCounter("serial-0", "ops", counter))

	counter.Add(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(counter))
}

func TestRegisterDuplicateFails(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "seismic",
		Subsystem: "test",
		Name:      "dup_total",
		Help:      "Test counter",
	})

	require.NoError(t, registry.RegisterCounter("decoder", "dup", counter))
	err := registry.RegisterCounter("decoder", "dup", counter)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "seismic",
		Subsystem: "test",
		Name:      "depth",
		Help:      "Test gauge",
	})

	require.NoError(t, registry.RegisterGauge("decoder", "depth", gauge))
	assert.True(t, registry.Unregister("decoder", "depth"))
	assert.False(t, registry.Unregister("decoder", "depth"))

	// Can re-register after unregister.
	require.NoError(t, registry.RegisterGauge("decoder", "depth", gauge))
}

func TestCoreMetricsRegistered(t *testing.T) {
	registry := NewMetricsRegistry()

	registry.CoreMetrics().SamplesDecoded.WithLabelValues("serial-0", "X").Add(5)

	count, err := testutil.GatherAndCount(registry.PrometheusRegistry(),
		"seismic_decoder_samples_decoded_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
