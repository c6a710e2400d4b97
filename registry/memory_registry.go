package registry

import (
	"context"
	"sort"
	"sync"
)

// MemoryRegistry is an in-process Registry for tests and single-host setups.
// TTLs are ignored: entries live until Deregister.
type MemoryRegistry struct {
	mu        sync.Mutex
	instances map[string]map[string]PeerInstance // protocol → addr → instance
	watchers  map[string][]chan []PeerInstance
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		instances: make(map[string]map[string]PeerInstance),
		watchers:  make(map[string][]chan []PeerInstance),
	}
}

func (m *MemoryRegistry) Register(ctx context.Context, protocol string, instance PeerInstance, ttl int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	peers, ok := m.instances[protocol]
	if !ok {
		peers = make(map[string]PeerInstance)
		m.instances[protocol] = peers
	}
	peers[instance.Addr] = instance
	m.notify(protocol)
	return nil
}

func (m *MemoryRegistry) Deregister(ctx context.Context, protocol string, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.instances[protocol][addr]; !ok {
		return nil
	}
	delete(m.instances[protocol], addr)
	m.notify(protocol)
	return nil
}

func (m *MemoryRegistry) Discover(ctx context.Context, protocol string) ([]PeerInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot(protocol), nil
}

// Watch delivers the latest list only: a watcher that falls behind skips
// intermediate states.
func (m *MemoryRegistry) Watch(ctx context.Context, protocol string) <-chan []PeerInstance {
	ch := make(chan []PeerInstance, 1)
	m.mu.Lock()
	m.watchers[protocol] = append(m.watchers[protocol], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		watchers := m.watchers[protocol]
		for i, w := range watchers {
			if w == ch {
				m.watchers[protocol] = append(watchers[:i], watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

// snapshot returns the instances sorted by address. Caller holds m.mu.
func (m *MemoryRegistry) snapshot(protocol string) []PeerInstance {
	peers := m.instances[protocol]
	out := make([]PeerInstance, 0, len(peers))
	for _, p := range peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// notify replaces any undelivered list with the current one. Caller holds m.mu.
func (m *MemoryRegistry) notify(protocol string) {
	list := m.snapshot(protocol)
	for _, ch := range m.watchers[protocol] {
		select {
		case <-ch:
		default:
		}
		ch <- list
	}
}
