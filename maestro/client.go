// Package maestro is the client surface for the Maestro control protocol:
// a thin layer over a dispatch.Dispatcher that lets callers address RPCs
// by fully-qualified "service.Method" name instead of raw 32-bit hashes,
// and a Manager that keeps one Client per paired device address.
package maestro

import (
	"context"
	"time"

	"maestro/dispatch"
	"maestro/packet"
)

// Client offers the two operation shapes of the Maestro client surface:
// unary calls and server-stream calls, addressed by name.
type Client struct {
	d *dispatch.Dispatcher
}

// Open binds a Client to transport over channelID and starts the
// dispatcher's reader. The caller owns transport acquisition (pairing,
// RFCOMM socket setup) and passes the already-connected stream in.
func Open(transport dispatch.Transport, channelID uint32, opts ...dispatch.Option) *Client {
	return &Client{d: dispatch.New(transport, channelID, opts...)}
}

// Close tears down the underlying dispatcher and transport.
func (c *Client) Close() error {
	return c.d.Close()
}

// callOptions collects per-call settings applied via CallOption.
type callOptions struct {
	timeout time.Duration
}

// CallOption configures a single call.
type CallOption func(*callOptions)

// WithTimeout bounds a call: if no terminal packet arrives within d, the
// call is cancelled and returns a Cancelled status error.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

func (c *Client) callContext(ctx context.Context, opts []CallOption) (context.Context, context.CancelFunc) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.timeout)
}

// CallUnary invokes "service.method" with payload and blocks for the
// response. service and method are hashed with the Pigweed 65599 scheme to
// derive the wire-level service_id/method_id.
func (c *Client) CallUnary(ctx context.Context, service, method string, payload []byte, opts ...CallOption) ([]byte, error) {
	ctx, cancel := c.callContext(ctx, opts)
	defer cancel()

	return c.d.CallUnary(ctx, packet.Hash(service), packet.Hash(method), payload)
}

// CallMethod invokes a fully-qualified "service.Method" path in one call,
// splitting it with packet.SplitMethodPath.
func (c *Client) CallMethod(ctx context.Context, path string, payload []byte, opts ...CallOption) ([]byte, error) {
	service, method := packet.SplitMethodPath(path)
	return c.CallUnary(ctx, service, method, payload, opts...)
}

// CallServerStream opens "service.method" as a server-stream call and
// returns a Stream the caller pulls items from.
func (c *Client) CallServerStream(ctx context.Context, service, method string, payload []byte) (*dispatch.Stream, error) {
	return c.d.CallServerStream(ctx, packet.Hash(service), packet.Hash(method), payload)
}

// CallMethodStream is the server-stream analogue of CallMethod.
func (c *Client) CallMethodStream(ctx context.Context, path string, payload []byte) (*dispatch.Stream, error) {
	service, method := packet.SplitMethodPath(path)
	return c.CallServerStream(ctx, service, method, payload)
}
