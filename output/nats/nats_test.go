package nats

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svjp05/seismic-web-server/subscribe"
	"github.com/svjp05/seismic-web-server/telemetry"
)

// fakePublisher records published messages.
type fakePublisher struct {
	mu       sync.Mutex
	messages []published
	fail     bool
}

type published struct {
	subject string
	data    []byte
}

func (p *fakePublisher) Publish(_ context.Context, subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return stderrors.New("publish failed")
	}
	p.messages = append(p.messages, published{subject: subject, data: data})
	return nil
}

func (p *fakePublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.messages...)
}

func newTestOutput(t *testing.T) (*Output, *subscribe.Registry, *fakePublisher) {
	t.Helper()

	registry := subscribe.NewRegistry(subscribe.RegistryDeps{})
	pub := &fakePublisher{}

	o, err := NewOutput(Deps{
		Name:      "test-nats-output",
		Config:    Config{Subject: "seismic.telemetry"},
		Registry:  registry,
		Publisher: pub,
	})
	require.NoError(t, err)
	return o, registry, pub
}

func sampleBatch() telemetry.Batch {
	return telemetry.Batch{
		{Amplitude: 1.5, Timestamp: time.Unix(100, 0).UTC(), Channel: telemetry.ChannelX},
		{Amplitude: 2.5, Timestamp: time.Unix(101, 0).UTC(), Channel: telemetry.ChannelX},
	}
}

func TestNewOutputValidation(t *testing.T) {
	registry := subscribe.NewRegistry(subscribe.RegistryDeps{})

	_, err := NewOutput(Deps{Publisher: &fakePublisher{}})
	assert.Error(t, err, "registry is required")

	_, err = NewOutput(Deps{Registry: registry})
	assert.Error(t, err, "publisher is required")
}

func TestDeliveredBatchIsPublished(t *testing.T) {
	o, registry, pub := newTestOutput(t)
	require.NoError(t, o.Initialize())
	require.NoError(t, o.Start(context.Background()))
	defer o.Stop(time.Second)

	registry.Deliver(sampleBatch())

	msgs := pub.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "seismic.telemetry", msgs[0].subject)

	var env batchEnvelope
	require.NoError(t, json.Unmarshal(msgs[0].data, &env))
	require.Len(t, env.Samples, 2)
	assert.Equal(t, 1.5, env.Samples[0].Amplitude)
	assert.Equal(t, telemetry.ChannelX, env.Samples[0].Channel)
	assert.False(t, env.PublishedAt.IsZero())
}

func TestEmptyBatchNotPublished(t *testing.T) {
	o, registry, pub := newTestOutput(t)
	require.NoError(t, o.Start(context.Background()))
	defer o.Stop(time.Second)

	registry.Deliver(telemetry.Batch{})

	assert.Empty(t, pub.all())
}

func TestPublishFailureCountedAndDeliveryContinues(t *testing.T) {
	o, registry, pub := newTestOutput(t)
	require.NoError(t, o.Start(context.Background()))
	defer o.Stop(time.Second)

	pub.mu.Lock()
	pub.fail = true
	pub.mu.Unlock()
	registry.Deliver(sampleBatch())

	pub.mu.Lock()
	pub.fail = false
	pub.mu.Unlock()
	registry.Deliver(sampleBatch())

	assert.Len(t, pub.all(), 1)
	assert.Equal(t, int64(1), o.errorCount.Load())
}

func TestStopUnsubscribes(t *testing.T) {
	o, registry, pub := newTestOutput(t)
	require.NoError(t, o.Start(context.Background()))
	assert.Equal(t, 1, registry.Len())

	require.NoError(t, o.Stop(time.Second))
	require.NoError(t, o.Stop(time.Second))
	assert.Equal(t, 0, registry.Len())

	registry.Deliver(sampleBatch())
	assert.Empty(t, pub.all())
}

func TestDefaultSubjectApplied(t *testing.T) {
	registry := subscribe.NewRegistry(subscribe.RegistryDeps{})
	o, err := NewOutput(Deps{Registry: registry, Publisher: &fakePublisher{}})
	require.NoError(t, err)
	assert.Equal(t, "seismic.telemetry", o.config.Subject)
}
