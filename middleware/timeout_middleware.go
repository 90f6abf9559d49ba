package middleware

import (
	"context"
	"time"

	"maestro/status"
)

// TimeoutMiddleware bounds a submission to d, racing the wrapped handler
// against the deadline. The client surface's per-call WithTimeout option
// does not use this middleware: it only sets a context deadline that the
// dispatcher observes. This form is for composed call sites that want the
// behavior applied uniformly.
func TimeoutMiddleware(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (*Response, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			type result struct {
				resp *Response
				err  error
			}
			done := make(chan result, 1)
			go func() {
				resp, err := next(ctx, req)
				done <- result{resp, err}
			}()

			select {
			case r := <-done:
				return r.resp, r.err
			case <-ctx.Done():
				return nil, status.Cancel("timeout middleware: deadline exceeded")
			}
		}
	}
}
