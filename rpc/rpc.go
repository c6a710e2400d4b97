// Package rpc runs request/response RPC over one channel of a multiplexed
// stream. Both peers are symmetric: each may register responders, issue
// calls and fire events.
//
// Lifecycle:
//
//	Active ──End──→ Draining ──(no pending calls, no running handlers)──→ Closed
//	   └──────────────Destroy / peer close / stream failure──────────────→ Closed
//
// On close every pending call is rejected with the terminal error: the
// Destroy error if one was given, ErrChannelClosed otherwise.
package rpc

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"mux-rpc/codec"
	"mux-rpc/middleware"
	"mux-rpc/transport"
)

// Protocol is the channel protocol name both peers must use.
const Protocol = "protomux-rpc"

// HandlerFunc answers one request. value is decoded with the responder's
// request codec, or is the raw []byte when none applies.
type HandlerFunc func(ctx context.Context, value any) (any, error)

// RPC is one session on a mux channel. It is safe for concurrent use.
type RPC struct {
	mux      transport.Mux
	channel  transport.Channel
	request  transport.Message
	response transport.Message
	log      logrus.FieldLogger

	codec       codec.Codec
	middlewares []middleware.Middleware

	// ctx is handed to handlers and cancelled on close.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	id         uint64
	ending     bool
	closed     bool
	err        error
	responding int
	requests   map[uint64]*Call
	responders map[string]*responder
	handshake  []byte

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once

	onOpen    observers[[]byte]
	onClose   observers[struct{}]
	onDestroy observers[struct{}]
}

// New creates the rpc channel on mux, registers its two message types and
// opens it. It fails with ErrDuplicateChannel if the same channel exists.
func New(mux transport.Mux, opts ...Option) (*RPC, error) {
	o := &options{log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &RPC{
		mux:         mux,
		log:         o.log.WithField("protocol", Protocol),
		codec:       o.codec,
		middlewares: o.middlewares,
		ctx:         ctx,
		cancel:      cancel,
		id:          1,
		requests:    make(map[uint64]*Call),
		responders:  make(map[string]*responder),
		ready:       make(chan struct{}),
		done:        make(chan struct{}),
	}

	ch, err := mux.CreateChannel(transport.ChannelOptions{
		Protocol:  Protocol,
		ID:        o.id,
		OnOpen:    r.handleOpen,
		OnClose:   r.handleClose,
		OnDestroy: r.handleDestroy,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("rpc: create channel: %w", err)
	}
	r.channel = ch
	r.request = ch.AddMessage(r.handleRequest)
	r.response = ch.AddMessage(r.handleResponse)
	for _, rs := range o.responders {
		r.Register(rs.method, rs.handler, rs.opts...)
	}

	if err := ch.Open(o.handshake); err != nil {
		ch.Close()
		return nil, fmt.Errorf("rpc: open channel: %w", err)
	}
	return r, nil
}

// Mux returns the mux the session runs on.
func (r *RPC) Mux() transport.Mux {
	return r.mux
}

// Stream returns the connection under the mux.
func (r *RPC) Stream() io.ReadWriteCloser {
	return r.mux.Stream()
}

// Ready is closed once the peer has opened its side of the channel. The
// local side is open as soon as New returns, so calls may be issued before
// Ready; the peer buffers them until it opens.
func (r *RPC) Ready() <-chan struct{} {
	return r.ready
}

// Done is closed once the session has closed and pending calls are rejected.
func (r *RPC) Done() <-chan struct{} {
	return r.done
}

// Handshake returns the payload the peer opened with, nil before Ready.
func (r *RPC) Handshake() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handshake
}

// Closed reports whether the channel is closed. Calls fail once it is.
func (r *RPC) Closed() bool {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	return closed || r.channel.Closed()
}

// Cork holds outgoing frames until Uncork, so several sends leave in one write.
func (r *RPC) Cork() {
	r.channel.Cork()
}

func (r *RPC) Uncork() {
	r.channel.Uncork()
}

func (r *RPC) handleOpen(handshake []byte) {
	r.mu.Lock()
	r.handshake = handshake
	r.mu.Unlock()
	r.readyOnce.Do(func() { close(r.ready) })
	r.log.Debug("channel open")
	r.onOpen.notify(handshake)
}

func (r *RPC) handleDestroy() {
	r.log.Debug("channel destroyed")
	r.onDestroy.notify(struct{}{})
}
