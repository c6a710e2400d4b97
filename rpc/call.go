package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"mux-rpc/codec"
	"mux-rpc/message"
	"mux-rpc/transport"
)

// Call is the asynchronous result of Go. It settles exactly once: with the
// peer's response, or with the terminal error when the channel closes.
type Call struct {
	ID     uint64
	Method string
	Value  any
	Err    error

	config codec.Config
	done   chan struct{}
}

func (c *Call) settle(value any, err error) {
	c.Value = value
	c.Err = err
	close(c.done)
}

// Done is closed when the call has settled.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the call settles or ctx ends. Giving up on ctx does not
// withdraw the call: it stays pending until a response or close settles it.
func (c *Call) Wait(ctx context.Context) (any, error) {
	select {
	case <-c.done:
		return c.Value, c.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Go sends a request and returns its pending Call without waiting.
func (r *RPC) Go(method string, value any, opts ...EncodingOption) (*Call, error) {
	if r.Closed() {
		return nil, ErrChannelClosed
	}

	cfg := newConfig(opts)
	data, err := codec.Marshal(cfg.RequestCodec(r.codec), value)
	if err != nil {
		return nil, fmt.Errorf("rpc: encode request for %s: %w", method, err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrChannelClosed
	}
	id := r.nextID()
	call := &Call{ID: id, Method: method, config: cfg, done: make(chan struct{})}
	// Register before sending so a fast response always finds its call.
	r.requests[id] = call
	r.mu.Unlock()

	err = r.request.Send(message.EncodeRequest(&message.Request{ID: id, Method: method, Value: data}))
	if err != nil {
		if r.removeCall(id) == nil {
			// Close won the race and already rejected the call.
			return call, nil
		}
		r.endMaybe()
		return nil, sendError(err)
	}

	r.log.WithFields(logrus.Fields{"method": method, "id": id}).Debug("request sent")
	return call, nil
}

// Call sends a request and waits for its result.
func (r *RPC) Call(ctx context.Context, method string, value any, opts ...EncodingOption) (any, error) {
	call, err := r.Go(method, value, opts...)
	if err != nil {
		return nil, err
	}
	return call.Wait(ctx)
}

// Emit sends an event: the peer runs its responder but never answers, and
// nothing is left pending here.
func (r *RPC) Emit(method string, value any, opts ...EncodingOption) error {
	if r.Closed() {
		return ErrChannelClosed
	}

	cfg := newConfig(opts)
	data, err := codec.Marshal(cfg.RequestCodec(r.codec), value)
	if err != nil {
		return fmt.Errorf("rpc: encode event for %s: %w", method, err)
	}
	if err := r.request.Send(message.EncodeRequest(&message.Request{ID: 0, Method: method, Value: data})); err != nil {
		return sendError(err)
	}
	return nil
}

// nextID skips 0 on wrap, it marks events. Caller holds r.mu.
func (r *RPC) nextID() uint64 {
	id := r.id
	r.id++
	if r.id == 0 {
		r.id = 1
	}
	return id
}

func (r *RPC) removeCall(id uint64) *Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	call := r.requests[id]
	delete(r.requests, id)
	return call
}

// Pending returns the number of calls awaiting a response.
func (r *RPC) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func (r *RPC) handleResponse(data []byte) {
	res, err := message.DecodeResponse(data)
	if err != nil {
		r.log.WithError(err).Warn("dropping malformed response")
		return
	}
	if res.ID == 0 {
		return
	}

	call := r.removeCall(res.ID)
	if call == nil {
		r.log.WithField("id", res.ID).Debug("response for unknown request")
		return
	}

	if res.IsError {
		call.settle(nil, &RemoteError{Message: res.Error})
	} else if value, err := codec.Unmarshal(call.config.ResponseCodec(r.codec), res.Value); err != nil {
		call.settle(nil, fmt.Errorf("rpc: decode response for %s: %w", call.Method, err))
	} else {
		call.settle(value, nil)
	}

	r.endMaybe()
}

func sendError(err error) error {
	if errors.Is(err, transport.ErrChannelClosed) || errors.Is(err, transport.ErrMuxClosed) {
		return fmt.Errorf("%w: %v", ErrChannelClosed, err)
	}
	return fmt.Errorf("rpc: send: %w", err)
}
