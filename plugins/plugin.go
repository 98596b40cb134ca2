// Package plugins defines the capability interfaces between transport
// plugins and the sync layer. The sync layer depends only on these
// interfaces; concrete transports live in subpackages.
package plugins

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/opd-ai/tagmesh/transport"
)

// ErrNotRunning indicates use of a plugin that has not been started.
var ErrNotRunning = errors.New("plugin not running")

// SimplexReader is one incoming one-way stream, such as a file.
type SimplexReader interface {
	Reader() io.Reader
	// Dispose releases the stream. recognised tells the plugin whether the
	// stream belonged to a contact, and so whether its source may be
	// discarded. It is called exactly once.
	Dispose(exception, recognised bool) error
}

// SimplexWriter is one outgoing one-way stream.
type SimplexWriter interface {
	Writer() io.Writer
	// Capacity is the number of bytes the stream can carry.
	Capacity() int64
	// ShouldFlush reports whether the writer should be flushed after each
	// batch of records rather than only at the end.
	ShouldFlush() bool
	// Dispose releases the stream. It is called exactly once.
	Dispose(exception bool) error
}

// DuplexConnection is a two-way connection.
type DuplexConnection interface {
	Reader() io.Reader
	Writer() io.Writer
	// Dispose releases the connection. It is called exactly once.
	Dispose(exception, recognised bool) error
}

// Plugin is the part every transport plugin shares.
type Plugin interface {
	ID() transport.TransportID
	MaxFrameLength() int
	MaxLatency() time.Duration
	Start(ctx context.Context) error
	Stop() error
}

// SimplexPlugin is a plugin carrying one-way streams.
type SimplexPlugin interface {
	Plugin
	CreateWriter() (SimplexWriter, error)
}

// DuplexPlugin is a plugin carrying two-way connections.
type DuplexPlugin interface {
	Plugin
	CreateConnection(ctx context.Context, address string) (DuplexConnection, error)
}

// Callback receives the streams plugins accept.
type Callback interface {
	ReaderAvailable(t transport.TransportID, r SimplexReader)
	ConnectionAvailable(t transport.TransportID, c DuplexConnection)
}
