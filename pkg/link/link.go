// Package link provides the framed byte streams connecting zrm sessions to a
// router. Frames are length-prefixed (u32 LE); the bytes inside are protocol
// envelopes.
package link

import (
	"context"
	"net"
)

// MaxFrame caps a single frame, matching protocol.MaxPayload plus headroom
// for the envelope header and key.
const MaxFrame = 1<<24 + 4096

// Stream is a bidirectional frame channel. SendBytes is safe for concurrent
// use; RecvBytes expects a single reader goroutine.
type Stream interface {
	SendBytes([]byte) error
	RecvBytes() ([]byte, error)
	Close() error
}

// Listener accepts inbound streams.
type Listener interface {
	// Accept blocks until an inbound stream is available or ctx is done.
	Accept(ctx context.Context) (Stream, error)
	Addr() net.Addr
	Close() error
}

// Link dials and listens for a specific kind of connection.
type Link interface {
	Kind() string
	Listen(ctx context.Context, address string) (Listener, error)
	Dial(ctx context.Context, address string) (Stream, error)
}
