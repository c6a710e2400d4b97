// Package registry advertises rpc peers so clients can find them.
//
//	Key:   /mux-rpc/{protocol}/{addr}
//	Value: JSON-encoded PeerInstance
package registry

import (
	"context"
	"errors"
)

// ErrNoPeers is returned when a protocol has no advertised peer.
var ErrNoPeers = errors.New("registry: no peers available")

// PeerInstance is one reachable peer speaking a protocol.
type PeerInstance struct {
	Addr    string
	Weight  int // Weight for load balancing
	Version string
	Methods []string // Responders the peer serves, empty if unknown
}

// Serves reports whether the peer advertises method. A peer that advertises
// nothing is assumed to serve everything.
func (p *PeerInstance) Serves(method string) bool {
	if len(p.Methods) == 0 {
		return true
	}
	for _, m := range p.Methods {
		if m == method {
			return true
		}
	}
	return false
}

type Registry interface {
	Register(ctx context.Context, protocol string, instance PeerInstance, ttl int64) error
	Deregister(ctx context.Context, protocol string, addr string) error
	Discover(ctx context.Context, protocol string) ([]PeerInstance, error)
	// Watch emits the full peer list on every change until ctx ends.
	Watch(ctx context.Context, protocol string) <-chan []PeerInstance
}

func prefix(protocol string) string {
	return "/mux-rpc/" + protocol + "/"
}

func key(protocol, addr string) string {
	return prefix(protocol) + addr
}
