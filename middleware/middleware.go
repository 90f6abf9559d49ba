// Package middleware wraps a dispatcher's outgoing unary call submission
// with cross-cutting concerns: logging, timeouts, rate limiting.
package middleware

import "context"

// Request is the outgoing unary submission a middleware may observe or
// delay before it reaches the transport.
type Request struct {
	ServiceID uint32
	MethodID  uint32
	Payload   []byte
}

// Response is the decoded result of a successful unary call.
type Response struct {
	Payload []byte
}

// HandlerFunc performs (or continues) a unary submission.
type HandlerFunc func(ctx context.Context, req *Request) (*Response, error)

// Middleware wraps a HandlerFunc with additional behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one, applied outermost-first: the first
// middleware in the list sees the call first and the final result last.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
