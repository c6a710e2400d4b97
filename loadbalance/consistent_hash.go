package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"mux-rpc/registry"
)

// ConsistentHashBalancer maps keys to instances on a hash ring. The same key
// keeps going to the same peer until the peer set changes, and a change only
// moves the keys of the peers that came or went.
//
// Each instance is placed on the ring as replicas virtual nodes so a few
// instances still spread evenly.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	replicas int

	mu        sync.Mutex
	signature string                            // Addresses the ring was built from
	ring      []uint32                          // Sorted hash values on the ring
	nodes     map[uint32]*registry.PeerInstance // Hash value → instance
}

// NewConsistentHashBalancer creates a ring with 100 virtual nodes per instance.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		nodes:    make(map[uint32]*registry.PeerInstance),
	}
}

// Add places an instance on the ring. Each virtual node hashes "{addr}#{i}".
func (b *ConsistentHashBalancer) Add(instance *registry.PeerInstance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.add(instance)
}

func (b *ConsistentHashBalancer) add(instance *registry.PeerInstance) {
	for i := 0; i < b.replicas; i++ {
		hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", instance.Addr, i)))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = instance
	}
	sort.Slice(b.ring, func(i, j int) bool { return b.ring[i] < b.ring[j] })
}

// Pick rebuilds the ring when the instance set changed, then finds the first
// node clockwise from the key's hash, wrapping past the end.
func (b *ConsistentHashBalancer) Pick(instances []registry.PeerInstance, key string) (*registry.PeerInstance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if instances != nil {
		b.sync(instances)
	}
	if len(b.ring) == 0 {
		return nil, ErrNoInstances
	}

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	return b.nodes[b.ring[idx]], nil
}

// sync resets the ring to instances. Caller holds b.mu.
func (b *ConsistentHashBalancer) sync(instances []registry.PeerInstance) {
	addrs := make([]string, len(instances))
	for i := range instances {
		addrs[i] = instances[i].Addr
	}
	sort.Strings(addrs)
	signature := strings.Join(addrs, ",")
	if signature == b.signature {
		return
	}

	b.signature = signature
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]*registry.PeerInstance)
	for i := range instances {
		inst := instances[i]
		b.add(&inst)
	}
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
