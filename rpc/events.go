package rpc

import (
	"slices"
	"sync"
)

// observers is a subscriber list for one notification.
type observers[T any] struct {
	mu  sync.Mutex
	fns []func(T)
}

func (o *observers[T]) add(fn func(T)) {
	o.mu.Lock()
	o.fns = append(o.fns, fn)
	o.mu.Unlock()
}

func (o *observers[T]) notify(v T) {
	o.mu.Lock()
	fns := slices.Clone(o.fns)
	o.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

// OnOpen subscribes to the peer opening the channel; fn gets its handshake.
func (r *RPC) OnOpen(fn func(handshake []byte)) {
	r.onOpen.add(fn)
}

// OnClose subscribes to the channel closing. It fires exactly once.
func (r *RPC) OnClose(fn func()) {
	r.onClose.add(func(struct{}) { fn() })
}

// OnDestroy subscribes to the transport destroying the channel underneath
// the session. It fires after OnClose.
func (r *RPC) OnDestroy(fn func()) {
	r.onDestroy.add(func(struct{}) { fn() })
}
