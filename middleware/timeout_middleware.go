package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when the handler did not finish in time. The
// handler keeps running with a cancelled context.
var ErrTimeout = errors.New("request timed out")

func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type result struct {
				value any
				err   error
			}
			done := make(chan result, 1)
			go func() {
				// The caller's recover cannot see this goroutine.
				defer func() {
					if p := recover(); p != nil {
						done <- result{err: fmt.Errorf("panic: %v", p)}
					}
				}()
				value, err := next(ctx, req)
				done <- result{value, err}
			}()

			select {
			case res := <-done:
				return res.value, res.err
			case <-ctx.Done():
				return nil, ErrTimeout
			}
		}
	}
}
