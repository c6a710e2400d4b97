// Package middleware wraps rpc responders. A middleware sees every request
// a responder receives, including events, and may short-circuit it.
package middleware

import (
	"context"
)

// Request is a decoded inbound request. ID is 0 for events.
type Request struct {
	ID     uint64
	Method string
	Value  any
}

type HandlerFunc func(ctx context.Context, req *Request) (any, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
