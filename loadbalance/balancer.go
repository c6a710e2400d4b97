// Package loadbalance picks which peer a call goes to.
//
// Three strategies are implemented:
//   - RoundRobin:      Stateless peers, equal capacity
//   - WeightedRandom:  Heterogeneous peers (different CPU/memory)
//   - ConsistentHash:  Peers that keep per-key state
package loadbalance

import (
	"errors"

	"mux-rpc/registry"
)

var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer selects one instance per call. Pick must be goroutine-safe.
type Balancer interface {
	// Pick selects one instance. key identifies the call for strategies with
	// affinity; others ignore it.
	Pick(instances []registry.PeerInstance, key string) (*registry.PeerInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}
