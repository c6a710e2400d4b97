package rpc

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"mux-rpc/codec"
	"mux-rpc/message"
	"mux-rpc/middleware"
)

type responder struct {
	config  codec.Config
	handler middleware.HandlerFunc
}

// Register installs the responder for method, replacing any previous one.
// The session middlewares wrap handler.
func (r *RPC) Register(method string, handler HandlerFunc, opts ...EncodingOption) {
	h := middleware.Chain(r.middlewares...)(func(ctx context.Context, req *middleware.Request) (any, error) {
		return handler(ctx, req.Value)
	})

	r.mu.Lock()
	r.responders[method] = &responder{config: newConfig(opts), handler: h}
	r.mu.Unlock()
}

// Unregister removes the responder for method, if any.
func (r *RPC) Unregister(method string) {
	r.mu.Lock()
	delete(r.responders, method)
	r.mu.Unlock()
}

// handleRequest runs on the transport's dispatch goroutine. The handler
// itself runs on its own goroutine so a slow handler never holds up later
// requests; responses therefore leave in completion order.
func (r *RPC) handleRequest(data []byte) {
	req, err := message.DecodeRequest(data)
	if err != nil {
		r.log.WithError(err).Warn("dropping malformed request")
		return
	}

	// Counted in the same section as the lookup so End never sees zero
	// between them.
	r.mu.Lock()
	resp, ok := r.responders[req.Method]
	if ok {
		r.responding++
	}
	r.mu.Unlock()

	if !ok {
		// No codec is known for this method, so the value stays undecoded.
		r.reply(req, nil, unknownMethod(req.Method))
		r.endMaybe()
		return
	}

	value, err := codec.Unmarshal(resp.config.RequestCodec(r.codec), req.Value)
	if err != nil {
		r.reply(req, nil, fmt.Sprintf("decode request: %v", err))
		r.doneResponding()
		return
	}

	go r.respond(resp, req, value)
}

func (r *RPC) respond(resp *responder, req *message.Request, value any) {
	defer r.doneResponding()

	result, err := r.invoke(resp, req, value)
	if req.IsEvent() {
		if err != nil {
			r.log.WithFields(logrus.Fields{"method": req.Method}).WithError(err).Debug("event handler failed")
		}
		return
	}
	if err != nil {
		r.reply(req, nil, err.Error())
		return
	}

	data, err := codec.Marshal(resp.config.ResponseCodec(r.codec), result)
	if err != nil {
		r.reply(req, nil, fmt.Sprintf("encode response: %v", err))
		return
	}
	r.reply(req, data, "")
}

// invoke turns a handler panic into an ordinary error.
func (r *RPC) invoke(resp *responder, req *message.Request, value any) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.WithField("method", req.Method).Errorf("handler panic: %v", p)
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return resp.handler(r.ctx, &middleware.Request{ID: req.ID, Method: req.Method, Value: value})
}

// reply answers req unless it is an event. A non-empty errText marks failure.
func (r *RPC) reply(req *message.Request, data []byte, errText string) {
	if req.IsEvent() {
		return
	}
	res := &message.Response{ID: req.ID, Value: data}
	if errText != "" {
		res = &message.Response{ID: req.ID, IsError: true, Error: errText}
	}
	if err := r.response.Send(message.EncodeResponse(res)); err != nil {
		r.log.WithFields(logrus.Fields{"method": req.Method, "id": req.ID}).WithError(err).Debug("response not sent")
	}
}

func (r *RPC) doneResponding() {
	r.mu.Lock()
	r.responding--
	r.mu.Unlock()
	r.endMaybe()
}
