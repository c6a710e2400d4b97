package loadbalance

import (
	"sync/atomic"

	"mux-rpc/registry"
)

// RoundRobinBalancer cycles through instances in order, lock-free.
type RoundRobinBalancer struct {
	counter atomic.Uint64
}

func (b *RoundRobinBalancer) Pick(instances []registry.PeerInstance, _ string) (*registry.PeerInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}
	index := (b.counter.Add(1) - 1) % uint64(len(instances))
	return &instances[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
