package simulator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svjp05/seismic-web-server/frame"
	"github.com/svjp05/seismic-web-server/telemetry"
)

// sink collects written frames.
type sink struct {
	mu     sync.Mutex
	frames []string
}

func (s *sink) write(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, string(data))
	return nil
}

func (s *sink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.frames...)
}

func newTestSimulator(t *testing.T, cfg Config) (*Simulator, *sink) {
	t.Helper()

	dst := &sink{}
	sim, err := New(Deps{
		Name:   "test-simulator",
		Config: cfg,
		Write:  dst.write,
	})
	require.NoError(t, err)
	return sim, dst
}

func TestNewRequiresWriteFunc(t *testing.T) {
	_, err := New(Deps{Config: DefaultConfig()})
	assert.Error(t, err)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"zero rate", func(c *Config) { c.FramesPerSecond = 0 }, false},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }, false},
		{"zero channels", func(c *Config) { c.Channels = 0 }, false},
		{"four channels", func(c *Config) { c.Channels = 4 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestGeneratedFramesDecode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FramesPerSecond = 200
	cfg.BatchSize = 4
	cfg.Seed = 42

	sim, dst := newTestSimulator(t, cfg)
	require.NoError(t, sim.Initialize())
	require.NoError(t, sim.Start(context.Background()))
	defer sim.Stop(time.Second)

	require.Eventually(t, func() bool {
		return len(dst.all()) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	for _, raw := range dst.all()[:3] {
		assert.True(t, strings.HasSuffix(raw, "\n"), "frames are newline terminated")

		result, err := frame.Decode(strings.TrimSuffix(raw, "\n"))
		require.NoError(t, err)
		require.Equal(t, frame.KindMultiChannel, result.Kind)
		require.Len(t, result.Segments, 3)
		for i, ch := range []telemetry.Channel{telemetry.ChannelX, telemetry.ChannelY, telemetry.ChannelZ} {
			assert.Equal(t, ch, result.Segments[i].Channel)
			assert.Len(t, result.Segments[i].Values, 4)
		}
	}
}

func TestMetadataPrefixEmittedWhenEnabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FramesPerSecond = 200
	cfg.Channels = 1
	cfg.WithMetadata = true
	cfg.Seed = 7

	sim, dst := newTestSimulator(t, cfg)
	require.NoError(t, sim.Start(context.Background()))
	defer sim.Stop(time.Second)

	require.Eventually(t, func() bool {
		return len(dst.all()) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	result, err := frame.Decode(strings.TrimSuffix(dst.all()[0], "\n"))
	require.NoError(t, err)
	require.NotNil(t, result.Meta.Temperature)
	require.NotNil(t, result.Meta.Humidity)
	require.NotNil(t, result.Meta.Voltage)
	assert.GreaterOrEqual(t, *result.Meta.Temperature, 20)
	assert.Less(t, *result.Meta.Temperature, 30)
}

func TestSeededRunsAreReproducible(t *testing.T) {
	run := func() []string {
		cfg := DefaultConfig()
		cfg.FramesPerSecond = 500
		cfg.Seed = 99

		sim, dst := newTestSimulator(t, cfg)
		require.NoError(t, sim.Start(context.Background()))
		require.Eventually(t, func() bool {
			return len(dst.all()) >= 2
		}, 2*time.Second, 5*time.Millisecond)
		require.NoError(t, sim.Stop(time.Second))
		return dst.all()[:2]
	}

	assert.Equal(t, run(), run())
}

func TestStopIsIdempotent(t *testing.T) {
	sim, _ := newTestSimulator(t, DefaultConfig())
	require.NoError(t, sim.Start(context.Background()))

	require.NoError(t, sim.Stop(time.Second))
	require.NoError(t, sim.Stop(time.Second))
	assert.False(t, sim.running.Load())
}
