package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdRegistry implements Registry on etcd v3.
//
// Registration uses TTL leases: if the peer crashes its KeepAlive stops, the
// lease expires and the entry disappears with it.
type EtcdRegistry struct {
	client *clientv3.Client // Thread-safe, shared across goroutines
	log    logrus.FieldLogger

	mu     sync.Mutex
	leases map[string]registration // key → live registration
}

type registration struct {
	lease  clientv3.LeaseID
	cancel context.CancelFunc // Stops KeepAlive
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{
		client: c,
		log:    logrus.StandardLogger().WithField("component", "registry"),
		leases: make(map[string]registration),
	}, nil
}

// Register puts the instance under a lease of ttl seconds and keeps the lease
// alive until Deregister or Close.
//
// Flow:
//  1. Grant a lease with the given TTL
//  2. Put the key with the lease attached
//  3. KeepAlive renews the lease in the background
func (r *EtcdRegistry) Register(ctx context.Context, protocol string, instance PeerInstance, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("registry: grant lease: %w", err)
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	k := key(protocol, instance.Addr)
	if _, err := r.client.Put(ctx, k, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("registry: put %s: %w", k, err)
	}

	// KeepAlive outlives the registration call, so it gets its own context.
	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := r.client.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return fmt.Errorf("registry: keepalive: %w", err)
	}

	r.mu.Lock()
	if old, ok := r.leases[k]; ok {
		old.cancel()
	}
	r.leases[k] = registration{lease: lease.ID, cancel: cancel}
	r.mu.Unlock()

	// Drain responses so the channel never fills up.
	go func() {
		for range ch {
		}
		r.log.WithField("key", k).Debug("keepalive stopped")
	}()
	return nil
}

// Deregister removes the instance and revokes its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, protocol string, addr string) error {
	k := key(protocol, addr)

	r.mu.Lock()
	reg, ok := r.leases[k]
	delete(r.leases, k)
	r.mu.Unlock()

	if ok {
		reg.cancel()
		if _, err := r.client.Revoke(ctx, reg.lease); err != nil {
			r.log.WithError(err).WithField("key", k).Warn("lease revoke failed")
		}
	}
	if _, err := r.client.Delete(ctx, k); err != nil {
		return fmt.Errorf("registry: delete %s: %w", k, err)
	}
	return nil
}

// Watch re-reads the full peer list on every change under the protocol
// prefix (registration, deregistration, lease expiry).
func (r *EtcdRegistry) Watch(ctx context.Context, protocol string) <-chan []PeerInstance {
	ch := make(chan []PeerInstance, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, prefix(protocol), clientv3.WithPrefix())
		for range watchChan {
			instances, err := r.Discover(ctx, protocol)
			if err != nil {
				r.log.WithError(err).Warn("rediscover after watch event failed")
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover lists every instance under /mux-rpc/{protocol}/.
func (r *EtcdRegistry) Discover(ctx context.Context, protocol string) ([]PeerInstance, error) {
	resp, err := r.client.Get(ctx, prefix(protocol), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]PeerInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance PeerInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.log.WithField("key", string(kv.Key)).Warn("skipping malformed instance")
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Close stops every KeepAlive and closes the etcd client. Leases expire on
// their own afterwards.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	for k, reg := range r.leases {
		reg.cancel()
		delete(r.leases, k)
	}
	r.mu.Unlock()
	return r.client.Close()
}
