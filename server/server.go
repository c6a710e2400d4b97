// Package server hosts rpc sessions over TCP, one stream mux and one rpc
// session per accepted connection.
//
// Request processing pipeline:
//
//	Accept conn → handleConn
//	  → transport.NewMux(conn) → rpc.New(mux, responders...)
//	    → per request: Middleware Chain → handler (reflect.Call for services) → response
//
// Sessions are symmetric: OnSession hands each one out so the server can call
// back into the connected peer.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"mux-rpc/codec"
	"mux-rpc/middleware"
	"mux-rpc/registry"
	"mux-rpc/rpc"
	"mux-rpc/transport"
)

// ErrShutdown is the terminal error of sessions cut off by a Shutdown that
// ran out of time.
var ErrShutdown = errors.New("server: shutting down")

const registerTimeout = 5 * time.Second

type handlerEntry struct {
	handler rpc.HandlerFunc
	opts    []rpc.EncodingOption
}

// Server accepts connections and serves the registered responders on each.
type Server struct {
	name        string // Registry key peers are advertised under
	ttl         int64  // Registry lease TTL in seconds
	log         logrus.FieldLogger
	sessionOpts []rpc.Option

	mu            sync.Mutex
	services      map[string]*service // "Arith" → *service
	handlers      map[string]handlerEntry
	middlewares   []middleware.Middleware
	onSession     []func(*rpc.RPC)
	sessions      map[*rpc.RPC]struct{}
	listener      net.Listener
	registry      registry.Registry // nil if not using discovery
	advertiseAddr string            // Address registered for clients, differs from a ":8080" listen address

	ctx      context.Context // Cancelled to tear down every mux
	cancel   context.CancelFunc
	conns    sync.WaitGroup
	shutdown atomic.Bool // Set before closing the listener so Accept errors are expected
}

// Option configures a Server.
type Option func(*Server)

// WithName sets the registry key the server advertises under, rpc.Protocol by default.
func WithName(name string) Option {
	return func(s *Server) { s.name = name }
}

// WithTTL sets the registry lease TTL in seconds, 10 by default.
func WithTTL(ttl int64) Option {
	return func(s *Server) { s.ttl = ttl }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Server) { s.log = log }
}

// WithSessionOptions applies opts to every session, for example a default encoding.
func WithSessionOptions(opts ...rpc.Option) Option {
	return func(s *Server) { s.sessionOpts = append(s.sessionOpts, opts...) }
}

func NewServer(opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		name:     rpc.Protocol,
		ttl:      10,
		log:      logrus.StandardLogger(),
		services: make(map[string]*service),
		handlers: make(map[string]handlerEntry),
		sessions: make(map[*rpc.RPC]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "server")
	return s
}

// Register exposes the exported methods of rcvr (e.g. &Arith{}) as
// "Arith.Method" responders. Args and reply travel as JSON.
func (s *Server) Register(rcvr any) error {
	svc, err := newService(rcvr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.services[svc.name]; dup {
		return fmt.Errorf("server: service already defined: %s", svc.name)
	}
	s.services[svc.name] = svc
	return nil
}

// Handle registers a plain responder served on every session.
func (s *Server) Handle(method string, handler rpc.HandlerFunc, opts ...rpc.EncodingOption) {
	s.mu.Lock()
	s.handlers[method] = handlerEntry{handler: handler, opts: opts}
	s.mu.Unlock()
}

// Use appends a middleware. Middlewares apply in the order added, to sessions
// accepted afterwards.
func (s *Server) Use(mw middleware.Middleware) {
	s.mu.Lock()
	s.middlewares = append(s.middlewares, mw)
	s.mu.Unlock()
}

// OnSession subscribes to every newly accepted session.
func (s *Server) OnSession(fn func(*rpc.RPC)) {
	s.mu.Lock()
	s.onSession = append(s.onSession, fn)
	s.mu.Unlock()
}

// Methods lists every method the server answers, sorted.
func (s *Server) Methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var methods []string
	for m := range s.handlers {
		methods = append(methods, m)
	}
	for name, svc := range s.services {
		for m := range svc.method {
			methods = append(methods, name+"."+m)
		}
	}
	sort.Strings(methods)
	return methods
}

// Addr returns the listener address, nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve listens on address and serves until Shutdown.
//
// Parameters:
//   - advertiseAddr: the address to register (e.g., "127.0.0.1:8080"). This
//     differs from the listen address because ":8080" is not routable.
//     Empty means the listener address.
//   - reg: the registry implementation. Pass nil to skip discovery.
func (s *Server) Serve(network, address string, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.ServeListener(listener, advertiseAddr, reg)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(listener net.Listener, advertiseAddr string, reg registry.Registry) error {
	if advertiseAddr == "" {
		advertiseAddr = listener.Addr().String()
	}
	s.mu.Lock()
	s.listener = listener
	s.advertiseAddr = advertiseAddr
	s.registry = reg
	s.mu.Unlock()

	if reg != nil {
		ctx, cancel := context.WithTimeout(s.ctx, registerTimeout)
		err := reg.Register(ctx, s.name, registry.PeerInstance{
			Addr:    advertiseAddr,
			Weight:  10,
			Methods: s.Methods(),
		}, s.ttl)
		cancel()
		if err != nil {
			listener.Close()
			return fmt.Errorf("server: advertise %s: %w", advertiseAddr, err)
		}
	}
	s.log.WithField("addr", listener.Addr().String()).Info("serving")

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		s.conns.Add(1)
		go s.handleConn(conn)
	}
}

// sessionOptions builds the options of one session: logger, middlewares, then
// every responder so they are in place before the channel opens.
func (s *Server) sessionOptions(log logrus.FieldLogger) []rpc.Option {
	s.mu.Lock()
	defer s.mu.Unlock()

	opts := []rpc.Option{rpc.WithLogger(log)}
	opts = append(opts, s.sessionOpts...)
	opts = append(opts, rpc.WithMiddleware(s.middlewares...))
	for method, h := range s.handlers {
		opts = append(opts, rpc.WithResponder(method, h.handler, h.opts...))
	}
	for name, svc := range s.services {
		for m, mt := range svc.method {
			svc, mt := svc, mt
			opts = append(opts, rpc.WithResponder(name+"."+m, func(ctx context.Context, v any) (any, error) {
				return svc.call(ctx, mt, v.([]byte))
			}, rpc.WithValueEncoding(codec.Binary)))
		}
	}
	return opts
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.conns.Done()
	log := s.log.WithField("addr", conn.RemoteAddr().String())

	mux := transport.NewMux(conn, transport.WithMuxLogger(log), transport.WithMuxContext(s.ctx))
	defer mux.Close()

	sess, err := rpc.New(mux, s.sessionOptions(log)...)
	if err != nil {
		log.WithError(err).Error("session setup failed")
		return
	}

	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	hooks := slices.Clone(s.onSession)
	s.mu.Unlock()

	log.Debug("session started")
	for _, hook := range hooks {
		hook(sess)
	}

	// A session whose peer never shows up still ends with the mux.
	select {
	case <-sess.Done():
	case <-mux.Done():
		sess.Destroy(nil)
	}

	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
	log.Debug("session closed")
}

// Shutdown performs graceful shutdown:
//  1. Deregister from the registry, so clients stop picking this server
//  2. Set the shutdown flag and close the listener
//  3. End every session, letting in-flight calls and handlers finish
//  4. Wait for every connection to flush its last frames and close
//  5. If ctx expires first, destroy what is left and return ctx.Err()
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	reg, addr, listener := s.registry, s.advertiseAddr, s.listener
	s.mu.Unlock()

	if reg != nil {
		if err := reg.Deregister(ctx, s.name, addr); err != nil {
			s.log.WithError(err).Warn("deregister failed")
		}
	}

	s.shutdown.Store(true)
	if listener != nil {
		listener.Close()
	}

	s.mu.Lock()
	sessions := make([]*rpc.RPC, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	var g errgroup.Group
	for _, sess := range sessions {
		sess := sess
		g.Go(func() error { return sess.End(ctx) })
	}
	err := g.Wait()
	if err != nil {
		for _, sess := range sessions {
			sess.Destroy(ErrShutdown)
		}
	}

	// Each connection flushes its last responses in handleConn's mux.Close;
	// cancelling first would cut them off.
	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	s.cancel()
	if err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
