package dispatch

import (
	"sync"

	"maestro/status"
)

// Kind distinguishes the two RPC shapes the dispatcher understands. Unary
// and server-stream calls are modeled as distinct types with distinct
// delivery channels rather than a single generic handle.
type Kind int

const (
	Unary Kind = iota
	ServerStream
)

// callKey uniquely identifies one in-flight call. Cancellation always looks
// the call up by key through the dispatcher, and a *call holds no reference
// back to the dispatcher. A Stream does keep a direct *call reference for
// reading its item and terminal channels.
type callKey struct {
	channelID uint32
	serviceID uint32
	methodID  uint32
	callID    uint32
}

// terminal is the one-shot outcome delivered to a caller: either a
// successful payload or a failure. For a server-stream call this carries
// only the terminal status, never a payload.
type terminal struct {
	payload []byte
	err     *status.Error
}

// call is the dispatcher's bookkeeping for one in-flight invocation.
type call struct {
	key  callKey
	kind Kind

	resultCh chan terminal // unary: buffered 1, written at most once

	items    chan []byte   // server-stream: bounded item queue, in order
	termCh   chan terminal // server-stream: buffered 1, written at most once
	cancelCh chan struct{} // closed exactly once, on any terminal path

	once sync.Once
}

func newUnaryCall(key callKey) *call {
	return &call{
		key:      key,
		kind:     Unary,
		resultCh: make(chan terminal, 1),
		cancelCh: make(chan struct{}),
	}
}

func newStreamCall(key callKey, queueSize int) *call {
	return &call{
		key:      key,
		kind:     ServerStream,
		items:    make(chan []byte, queueSize),
		termCh:   make(chan terminal, 1),
		cancelCh: make(chan struct{}),
	}
}

// complete delivers the terminal outcome, via normal completion or
// cancellation alike. Idempotent: only the first caller's outcome is
// observed, so a completion racing a cancellation can never deliver twice.
func (c *call) complete(t terminal) {
	c.once.Do(func() {
		if c.kind == Unary {
			c.resultCh <- t
		} else {
			c.termCh <- t
		}
		close(c.cancelCh)
	})
}

// pushItem enqueues a server-stream payload, blocking when the queue is
// full (this is how backpressure reaches the transport) unless the call is
// concurrently completed or cancelled, in which case the item is dropped.
//
// The dispatcher only ever calls pushItem from its single reader goroutine,
// so at most one call to pushItem is ever in flight for a given call.
func (c *call) pushItem(payload []byte) {
	select {
	case c.items <- payload:
	case <-c.cancelCh:
	}
}
