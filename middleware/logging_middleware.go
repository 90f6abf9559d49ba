package middleware

import (
	"context"
	"log"
	"time"
)

// LoggingMiddleware logs call duration and outcome for every outgoing
// unary submission that passes through it.
func LoggingMiddleware(logger *log.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (*Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			logger.Printf("service=%#x method=%#x duration=%s", req.ServiceID, req.MethodID, time.Since(start))
			if err != nil {
				logger.Printf("service=%#x method=%#x error: %s", req.ServiceID, req.MethodID, err)
			}
			return resp, err
		}
	}
}
