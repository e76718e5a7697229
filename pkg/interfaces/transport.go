package interfaces

import (
	"context"

	"studysync/pkg/types"
)

// Transport is one open bidirectional message stream. The connection manager
// is its sole owner; nothing else reads, writes, or closes it.
type Transport interface {
	// ReadMessage blocks until the next raw frame arrives or the stream fails.
	ReadMessage() ([]byte, error)

	// WriteMessage sends one raw frame. Implementations must serialize writes.
	WriteMessage(data []byte) error

	// Close tears the stream down. Safe to call more than once.
	Close() error
}

// Dialer opens a Transport to an endpoint. Abstracted so the connection
// manager's state machine can be driven by an in-memory fake in tests.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, subprotocols []string) (Transport, error)
}

// EnvelopeSender is the outbound half of the connection manager as seen by
// the event router: transmit now if connected, queue otherwise.
type EnvelopeSender interface {
	Send(env *types.Envelope) error
}
