package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svjp05/seismic-web-server/errors"
	"github.com/svjp05/seismic-web-server/transport"
)

// gateway is a test websocket server that pushes frames to its single client.
type gateway struct {
	server *httptest.Server

	mu       sync.Mutex
	conn     *websocket.Conn
	received []string
}

func newGateway(t *testing.T) *gateway {
	t.Helper()

	g := &gateway{}
	upgrader := websocket.Upgrader{}
	g.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		g.mu.Lock()
		g.conn = conn
		g.mu.Unlock()

		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				return
			}
			g.mu.Lock()
			g.received = append(g.received, string(message))
			g.mu.Unlock()
		}
	}))
	t.Cleanup(g.server.Close)
	return g
}

func (g *gateway) url() string {
	return "ws" + strings.TrimPrefix(g.server.URL, "http")
}

func (g *gateway) push(t *testing.T, frame string) {
	t.Helper()
	require.Eventually(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.conn != nil
	}, time.Second, 5*time.Millisecond, "client never connected")

	g.mu.Lock()
	defer g.mu.Unlock()
	require.NoError(t, g.conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func (g *gateway) closeConn() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn != nil {
		_ = g.conn.Close()
	}
}

func newTestTransport(t *testing.T, url string, handler transport.ChunkHandler, callbacks transport.Callbacks) *Transport {
	t.Helper()

	if handler == nil {
		handler = func(string) {}
	}
	cfg := DefaultConfig()
	cfg.URL = url

	tr, err := New(Deps{
		Name:      "test-websocket",
		Config:    cfg,
		Handler:   handler,
		Callbacks: callbacks,
	})
	require.NoError(t, err)
	return tr
}

func TestNewRequiresHandler(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "ws://localhost:9/feed"
	_, err := New(Deps{Config: cfg})
	assert.Error(t, err)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name  string
		url   string
		valid bool
	}{
		{"plain websocket", "ws://gateway.local/feed", true},
		{"secure websocket", "wss://gateway.local/feed", true},
		{"empty", "", false},
		{"http scheme", "http://gateway.local/feed", false},
		{"garbage", "://no-scheme", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.URL = tt.url
			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestStartReportsDialFailure(t *testing.T) {
	tr := newTestTransport(t, "ws://127.0.0.1:1/feed", nil, transport.Callbacks{})
	err := tr.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.False(t, tr.running.Load())
}

func TestPushedChunksReachHandlerInOrder(t *testing.T) {
	g := newGateway(t)

	var mu sync.Mutex
	var got []string
	handler := func(chunk string) {
		mu.Lock()
		got = append(got, chunk)
		mu.Unlock()
	}

	connected := make(chan struct{})
	tr := newTestTransport(t, g.url(), handler, transport.Callbacks{
		OnConnect: func() { close(connected) },
	})
	require.NoError(t, tr.Initialize())
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Stop(time.Second)

	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatal("connect callback not invoked")
	}

	g.push(t, "X1.00,2.00,Y0.50,0.60")
	g.push(t, "5.5")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"X1.00,2.00,Y0.50,0.60", "5.5"}, got)
}

func TestPushedChunksAreSanitized(t *testing.T) {
	g := newGateway(t)

	chunks := make(chan string, 1)
	tr := newTestTransport(t, g.url(), func(chunk string) { chunks <- chunk }, transport.Callbacks{})
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Stop(time.Second)

	g.push(t, "X1\x002\x1b,3")

	select {
	case got := <-chunks:
		assert.Equal(t, "X12,3", got)
	case <-time.After(time.Second):
		t.Fatal("chunk not delivered")
	}
}

func TestGatewayCloseReportsDisconnectWithoutReconnect(t *testing.T) {
	g := newGateway(t)

	disconnected := make(chan struct{})
	tr := newTestTransport(t, g.url(), nil, transport.Callbacks{
		OnDisconnect: func() { close(disconnected) },
	})
	require.NoError(t, tr.Start(context.Background()))

	g.push(t, "warm-up") // ensure the server handler holds the connection
	g.closeConn()

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("disconnect callback not invoked")
	}

	assert.Eventually(t, func() bool {
		return !tr.running.Load()
	}, time.Second, 5*time.Millisecond)

	// Stop after connection loss is a no-op.
	require.NoError(t, tr.Stop(time.Second))
}

func TestWriteSendsTextMessage(t *testing.T) {
	g := newGateway(t)

	tr := newTestTransport(t, g.url(), nil, transport.Callbacks{})
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Stop(time.Second)

	require.NoError(t, tr.Write(context.Background(), []byte("T25H60V90,X1,2")))

	assert.Eventually(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return len(g.received) == 1 && g.received[0] == "T25H60V90,X1,2"
	}, time.Second, 5*time.Millisecond)
}

func TestWriteAfterStopFails(t *testing.T) {
	g := newGateway(t)

	tr := newTestTransport(t, g.url(), nil, transport.Callbacks{})
	require.NoError(t, tr.Start(context.Background()))
	require.NoError(t, tr.Stop(time.Second))

	err := tr.Write(context.Background(), []byte("5.5"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrWriteAfterClose)
}

func TestStopIsIdempotent(t *testing.T) {
	g := newGateway(t)

	tr := newTestTransport(t, g.url(), nil, transport.Callbacks{})
	require.NoError(t, tr.Start(context.Background()))

	require.NoError(t, tr.Stop(time.Second))
	require.NoError(t, tr.Stop(time.Second))
}

func TestSourceIdentity(t *testing.T) {
	tr := newTestTransport(t, "ws://gateway.local/feed", nil, transport.Callbacks{})
	assert.Equal(t, "websocket:ws://gateway.local/feed", tr.Source())
}
