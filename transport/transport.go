// Package transport carries frames between the client and a server.
//
// A Conn moves whole frames: text frames hold control messages and binary
// frames hold data records. Splitting and batching is done by the caller.
package transport

import (
	"context"
	"errors"
)

type FrameKind uint8

const (
	FrameText FrameKind = iota
	FrameBinary

	// FrameClose is returned by Receive when the peer closed the connection.
	FrameClose
)

func (k FrameKind) String() string {
	switch k {
	case FrameText:
		return "text"
	case FrameBinary:
		return "binary"
	case FrameClose:
		return "close"
	default:
		return "unknown"
	}
}

type Frame struct {
	Kind FrameKind
	Data []byte
}

// ErrClosed is returned when sending on a Conn that was closed locally.
var ErrClosed = errors.New("transport: connection closed")

type Conn interface {
	// Send writes a frame. It is safe to call from several goroutines.
	Send(ctx context.Context, frame Frame) error

	// Receive blocks for the next frame. It must only be called from one
	// goroutine.
	Receive() (Frame, error)

	// Close closes the connection and unblocks Receive.
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, addr string, clientName string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, addr string, clientName string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, addr string, clientName string) (Conn, error) {
	return f(ctx, addr, clientName)
}
