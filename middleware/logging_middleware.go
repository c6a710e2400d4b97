package middleware

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

func LoggingMiddleware(log logrus.FieldLogger) Middleware {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (any, error) {
			start := time.Now()
			value, err := next(ctx, req)
			entry := log.WithFields(logrus.Fields{
				"method":   req.Method,
				"id":       req.ID,
				"duration": time.Since(start),
			})
			if err != nil {
				entry.WithError(err).Warn("request failed")
			} else {
				entry.Info("request handled")
			}
			return value, err
		}
	}
}
