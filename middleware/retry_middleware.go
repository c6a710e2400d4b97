package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryMiddleware re-runs a handler whose error looks transient, backing off
// exponentially from baseDelay. Other errors return at once.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (any, error) {
			value, err := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if err == nil || !retryable(err) {
					return value, err
				}
				logrus.WithFields(logrus.Fields{"method": req.Method, "attempt": i + 1}).
					WithError(err).Warn("retrying request")

				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(baseDelay * time.Duration(1<<i)):
				}
				value, err = next(ctx, req)
			}
			return value, err
		}
	}
}

func retryable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "connection refused")
}
