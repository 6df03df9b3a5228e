package transport

import (
	"context"
	"io"
	"sync"
)

// PipeBuffer is the number of frames each direction of a Pipe holds.
const PipeBuffer = 64

// Pipe returns two connected in-memory Conns. Frames sent on one are received
// on the other, in order. Closing either end makes the other end receive a
// FrameClose frame followed by io.EOF.
func Pipe() (Conn, Conn) {
	ab := make(chan Frame, PipeBuffer)
	ba := make(chan Frame, PipeBuffer)
	done := make(chan struct{})
	once := &sync.Once{}

	a := &pipeConn{in: ba, out: ab, done: done, once: once}
	b := &pipeConn{in: ab, out: ba, done: done, once: once}

	return a, b
}

type pipeConn struct {
	in  <-chan Frame
	out chan<- Frame

	// done is shared by both ends
	done chan struct{}
	once *sync.Once

	closeSeen bool
}

func (p *pipeConn) Send(ctx context.Context, frame Frame) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}

	select {
	case p.out <- frame:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeConn) Receive() (Frame, error) {
	// Frames sent before the close are still delivered.
	select {
	case frame := <-p.in:
		return frame, nil
	default:
	}

	select {
	case frame := <-p.in:
		return frame, nil
	case <-p.done:
		select {
		case frame := <-p.in:
			return frame, nil
		default:
		}

		if !p.closeSeen {
			p.closeSeen = true
			return Frame{Kind: FrameClose}, nil
		}

		return Frame{}, io.EOF
	}
}

func (p *pipeConn) Close() error {
	p.once.Do(func() {
		close(p.done)
	})

	return nil
}
