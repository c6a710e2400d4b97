// Package client calls rpc peers found through a registry.
//
//	Call → discover peers (registry, kept fresh by Watch)
//	     → filter by advertised method → Balancer.Pick
//	     → cached session for the address (dial + mux + rpc.New on first use)
//	     → rpc.Call
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"mux-rpc/loadbalance"
	"mux-rpc/registry"
	"mux-rpc/rpc"
	"mux-rpc/transport"
)

var ErrClientClosed = errors.New("client: closed")

type Config struct {
	Protocol    string               // Registry key peers are advertised under, rpc.Protocol by default
	Registry    registry.Registry    // Required
	Balancer    loadbalance.Balancer // RoundRobin by default
	DialTimeout time.Duration        // 5s by default
	Options     []rpc.Option         // Applied to every session
	Logger      logrus.FieldLogger
}

type Client struct {
	cfg    Config
	log    logrus.FieldLogger
	ctx    context.Context // Lives until Close, bounds Watch
	cancel context.CancelFunc

	watchMu   sync.Mutex // Serializes the first discovery
	mu        sync.Mutex
	peers     map[string]*peer // addr → session
	instances []registry.PeerInstance
	watching  bool
	closed    bool
}

// peer is a session being dialed or ready. sess and err are set under
// Client.mu before ready closes.
type peer struct {
	ready chan struct{}
	sess  *rpc.RPC
	err   error
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.Registry == nil {
		return nil, errors.New("client: registry is required")
	}
	if cfg.Protocol == "" {
		cfg.Protocol = rpc.Protocol
	}
	if cfg.Balancer == nil {
		cfg.Balancer = &loadbalance.RoundRobinBalancer{}
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:    cfg,
		log:    cfg.Logger.WithField("component", "client"),
		ctx:    ctx,
		cancel: cancel,
		peers:  make(map[string]*peer),
	}, nil
}

// Call picks a peer serving method, keyed by the method name, and calls it.
func (c *Client) Call(ctx context.Context, method string, value any, opts ...rpc.EncodingOption) (any, error) {
	return c.CallKey(ctx, method, method, value, opts...)
}

// CallKey is Call with an explicit balancer key, so a ConsistentHashBalancer
// sends every call for key to the same peer.
func (c *Client) CallKey(ctx context.Context, key, method string, value any, opts ...rpc.EncodingOption) (any, error) {
	sess, err := c.pick(ctx, key, method)
	if err != nil {
		return nil, err
	}
	return sess.Call(ctx, method, value, opts...)
}

// Emit fires an event at one peer serving method.
func (c *Client) Emit(ctx context.Context, method string, value any, opts ...rpc.EncodingOption) error {
	sess, err := c.pick(ctx, method, method)
	if err != nil {
		return err
	}
	return sess.Emit(method, value, opts...)
}

// Broadcast calls method on every peer serving it and returns the results in
// peer order. The first failure cancels the others.
func (c *Client) Broadcast(ctx context.Context, method string, value any, opts ...rpc.EncodingOption) ([]any, error) {
	instances, err := c.candidates(ctx, method)
	if err != nil {
		return nil, err
	}

	results := make([]any, len(instances))
	g, ctx := errgroup.WithContext(ctx)
	for i := range instances {
		i, addr := i, instances[i].Addr
		g.Go(func() error {
			sess, err := c.session(ctx, addr)
			if err != nil {
				return err
			}
			v, err := sess.Call(ctx, method, value, opts...)
			if err != nil {
				return fmt.Errorf("%s: %w", addr, err)
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Close ends every session gracefully, destroying them if ctx expires first.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	var sessions []*rpc.RPC
	for addr, p := range c.peers {
		if p.sess != nil {
			sessions = append(sessions, p.sess)
		}
		delete(c.peers, addr)
	}
	c.mu.Unlock()
	c.cancel()

	var g errgroup.Group
	for _, sess := range sessions {
		sess := sess
		g.Go(func() error { return sess.End(ctx) })
	}
	if err := g.Wait(); err != nil {
		for _, sess := range sessions {
			sess.Destroy(ErrClientClosed)
		}
		return fmt.Errorf("client: close: %w", err)
	}
	return nil
}

func (c *Client) pick(ctx context.Context, key, method string) (*rpc.RPC, error) {
	instances, err := c.candidates(ctx, method)
	if err != nil {
		return nil, err
	}
	instance, err := c.cfg.Balancer.Pick(instances, key)
	if err != nil {
		return nil, err
	}
	return c.session(ctx, instance.Addr)
}

// candidates returns the peers advertising method.
func (c *Client) candidates(ctx context.Context, method string) ([]registry.PeerInstance, error) {
	all, err := c.discover(ctx)
	if err != nil {
		return nil, err
	}
	instances := make([]registry.PeerInstance, 0, len(all))
	for i := range all {
		if all[i].Serves(method) {
			instances = append(instances, all[i])
		}
	}
	if len(instances) == 0 {
		return nil, fmt.Errorf("%w: %s %s", registry.ErrNoPeers, c.cfg.Protocol, method)
	}
	return instances, nil
}

// discover reads the registry once, then follows its Watch.
func (c *Client) discover(ctx context.Context) ([]registry.PeerInstance, error) {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	if c.watching {
		instances := c.instances
		c.mu.Unlock()
		return instances, nil
	}
	c.mu.Unlock()

	// Watch first so no change between the two is missed.
	watchCtx, cancel := context.WithCancel(c.ctx)
	updates := c.cfg.Registry.Watch(watchCtx, c.cfg.Protocol)
	instances, err := c.cfg.Registry.Discover(ctx, c.cfg.Protocol)
	if err != nil {
		cancel()
		return nil, err
	}

	c.mu.Lock()
	c.watching = true
	c.instances = instances
	c.mu.Unlock()

	go func() {
		defer cancel()
		c.follow(updates)
	}()
	return instances, nil
}

func (c *Client) follow(updates <-chan []registry.PeerInstance) {
	for instances := range updates {
		live := make(map[string]bool, len(instances))
		for _, inst := range instances {
			live[inst.Addr] = true
		}

		c.mu.Lock()
		c.instances = instances
		var gone []*rpc.RPC
		for addr, p := range c.peers {
			if !live[addr] && p.sess != nil {
				gone = append(gone, p.sess)
				delete(c.peers, addr)
			}
		}
		c.mu.Unlock()

		c.log.WithField("peers", len(instances)).Debug("peer list updated")
		for _, sess := range gone {
			go sess.End(c.ctx)
		}
	}
}

// session returns the cached session for addr, dialing one if needed.
// Concurrent callers for the same addr share one dial.
func (c *Client) session(ctx context.Context, addr string) (*rpc.RPC, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	if p, ok := c.peers[addr]; ok {
		select {
		case <-p.ready:
			if p.err == nil && !p.sess.Closed() {
				c.mu.Unlock()
				return p.sess, nil
			}
		default:
			c.mu.Unlock()
			select {
			case <-p.ready:
				return p.sess, p.err
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	p := &peer{ready: make(chan struct{})}
	c.peers[addr] = p
	c.mu.Unlock()

	sess, err := c.dial(ctx, addr)

	c.mu.Lock()
	var orphan *rpc.RPC
	if err == nil && c.closed {
		// Close ran while dialing and never saw this session.
		orphan, sess, err = sess, nil, ErrClientClosed
	}
	p.sess, p.err = sess, err
	if err != nil && c.peers[addr] == p {
		delete(c.peers, addr)
	}
	c.mu.Unlock()
	close(p.ready)

	if orphan != nil {
		orphan.Destroy(ErrClientClosed)
	}
	return sess, err
}

func (c *Client) dial(ctx context.Context, addr string) (*rpc.RPC, error) {
	log := c.log.WithField("addr", addr)
	d := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}

	mux := transport.NewMux(conn, transport.WithMuxLogger(log))
	opts := append([]rpc.Option{rpc.WithLogger(log)}, c.cfg.Options...)
	sess, err := rpc.New(mux, opts...)
	if err != nil {
		mux.Close()
		return nil, err
	}
	sess.OnClose(func() {
		c.forget(addr, sess)
		go mux.Close()
	})

	select {
	case <-sess.Ready():
		log.Debug("session open")
		return sess, nil
	case <-mux.Done():
		return nil, fmt.Errorf("client: %s closed before the session opened", addr)
	case <-ctx.Done():
		sess.Destroy(ctx.Err())
		mux.Close()
		return nil, ctx.Err()
	}
}

func (c *Client) forget(addr string, sess *rpc.RPC) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.peers[addr]; ok && p.sess == sess {
		delete(c.peers, addr)
	}
}
