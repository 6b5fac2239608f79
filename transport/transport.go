// Package transport defines the uniform adapter contract that normalizes
// heterogeneous I/O (network push, local serial line) into "raw text chunk
// in / encoded text chunk out".
package transport

import (
	"context"

	"github.com/svjp05/seismic-web-server/component"
)

// ChunkHandler receives one raw text chunk from a transport. Chunks are
// delivered one at a time per transport, in arrival order.
type ChunkHandler func(chunk string)

// Callbacks exposes connection lifecycle events to the caller. All fields are
// optional. OnError reports transport-level failures (refused or broken
// connection); it does not imply the connection is already closed — the
// caller must close explicitly. This pipeline never retries on its own:
// retry policy belongs to the caller.
type Callbacks struct {
	OnConnect    func()
	OnDisconnect func()
	OnError      func(err error)
}

// Transport is an open channel to a sensor. The adapter owns the underlying
// handle exclusively; lifecycle is opened → streaming → closed (terminal).
// All operations return explicit errors — adapter failures never panic past
// the adapter boundary. A missing capability is reported at construction or
// open, not discovered mid-stream.
type Transport interface {
	component.LifecycleComponent

	// Write sends one already-encoded unit. Each call is atomic with
	// respect to the underlying handle: concurrent writers never
	// interleave a single unit. Writes may run concurrently with the
	// read direction without coordination.
	Write(ctx context.Context, data []byte) error

	// Source returns the transport identity attached to decoded samples.
	Source() string
}
