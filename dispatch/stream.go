package dispatch

import (
	"context"
	"io"

	"maestro/status"
)

// Stream is a lazy, finite, non-restartable sequence of server-stream
// response payloads terminated by a status. Items dropped by the consumer
// (a Stream that is never fully drained) are considered consumed once
// Close is called.
type Stream struct {
	d    *Dispatcher
	c    *call
	done bool
}

func newStream(d *Dispatcher, c *call) *Stream {
	return &Stream{d: d, c: c}
}

// Next blocks until the next item arrives, the call reaches a terminal
// status, ctx is done, or the transport closes. A clean end of stream is
// reported as io.EOF; any other error is terminal and final.
func (s *Stream) Next(ctx context.Context) ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}

	// Prefer already-buffered items over a pending terminal status, so
	// in-order delivery holds even if both become ready at once.
	select {
	case item := <-s.c.items:
		return item, nil
	default:
	}

	select {
	case item := <-s.c.items:
		return item, nil

	case t := <-s.c.termCh:
		s.done = true
		if t.err != nil {
			return nil, t.err
		}
		return nil, io.EOF

	case <-s.d.closed:
		s.done = true
		return nil, s.d.closeErrOrDefault()

	case <-ctx.Done():
		s.done = true
		err := status.Cancel(ctx.Err().Error())
		s.d.cancelCall(s.c.key, err)
		return nil, err
	}
}

// Close cancels the call if it has not already reached a terminal state.
// Idempotent.
func (s *Stream) Close() {
	if s.done {
		return
	}
	s.done = true
	s.d.cancelCall(s.c.key, status.Cancel("stream closed by caller"))
}
