package rpc

import (
	"context"
)

// End drains the session: it waits for every pending call to settle and
// every running handler to return, then closes the channel. New calls are
// still accepted while draining. End returns ctx.Err() if ctx ends first;
// the drain continues in the background.
func (r *RPC) End(ctx context.Context) error {
	r.mu.Lock()
	r.ending = true
	r.mu.Unlock()

	r.endMaybe()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// endMaybe closes the channel once draining has nothing left to wait for.
// It runs after every event that can shrink either counter.
func (r *RPC) endMaybe() {
	r.mu.Lock()
	drained := r.ending && !r.closed && r.responding == 0 && len(r.requests) == 0
	r.mu.Unlock()

	if drained {
		r.channel.Close()
	}
}

// Destroy closes the channel at once without draining. Pending calls are
// rejected with err, or ErrChannelDestroyed when err is nil, before Destroy
// returns.
func (r *RPC) Destroy(err error) {
	if err == nil {
		err = ErrChannelDestroyed
	}
	r.mu.Lock()
	if !r.closed {
		r.err = err
	}
	r.mu.Unlock()

	r.channel.Close()
}

func (r *RPC) handleClose() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		err := r.err
		if err == nil {
			err = ErrChannelClosed
		}
		pending := r.requests
		r.requests = make(map[uint64]*Call)
		r.responders = make(map[string]*responder)
		r.mu.Unlock()

		for _, call := range pending {
			call.settle(nil, err)
		}
		r.cancel()
		close(r.done)

		r.log.WithField("rejected", len(pending)).Debug("channel closed")
		r.onClose.notify(struct{}{})
	})
}
