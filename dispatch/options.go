package dispatch

import (
	"io"
	"log"

	"maestro/frame"
	"maestro/middleware"
)

// defaultStreamQueueSize is the bounded per-stream item queue size used
// unless overridden.
const defaultStreamQueueSize = 16

// Option configures a Dispatcher at construction time.
type Option func(*Dispatcher)

// WithLogger sets the logger used for protocol violations and transport
// teardown. The default logs nowhere.
func WithLogger(logger *log.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithMaxFrameSize overrides the decoder's and encoder's per-frame size
// bound. The default is frame.DefaultMaxFrameSize.
func WithMaxFrameSize(n int) Option {
	return func(d *Dispatcher) { d.maxFrameSize = n }
}

// WithStreamQueueSize overrides the bounded queue depth used for every
// server-stream call opened on this dispatcher.
func WithStreamQueueSize(n int) Option {
	return func(d *Dispatcher) { d.streamQueueSize = n }
}

// WithMiddleware installs an outgoing middleware chain around every unary
// call submitted through this dispatcher.
func WithMiddleware(mw ...middleware.Middleware) Option {
	return func(d *Dispatcher) {
		if len(mw) == 0 {
			return
		}
		d.chain = middleware.Chain(mw...)
	}
}

func defaultLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func defaultOptions(d *Dispatcher) {
	d.maxFrameSize = frame.DefaultMaxFrameSize
	d.streamQueueSize = defaultStreamQueueSize
	d.logger = defaultLogger()
}
