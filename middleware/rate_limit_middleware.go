package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"maestro/status"
)

// RateLimitMiddleware throttles outgoing submissions with a token-bucket
// limiter, so a host juggling several paired devices does not flood any
// one RFCOMM channel with requests.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (*Response, error) {
			if !limiter.Allow() {
				return nil, status.New(status.KindRPC, status.ResourceExhausted, "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
