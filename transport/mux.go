package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"mux-rpc/protocol"
)

// StreamMux multiplexes channels over a single connection.
//
// Three goroutines run under one errgroup:
//
//	readLoop:     decode frames in arrival order, route them to channels
//	writeLoop:    drain queued frames to the connection, flush per batch
//	dispatchLoop: run channel callbacks one at a time, in arrival order
//
// Callbacks never run on the read goroutine, so a callback that sends can
// never stall frame decoding.
type StreamMux struct {
	conn  io.ReadWriteCloser
	log   logrus.FieldLogger
	group *errgroup.Group

	mu       sync.Mutex
	channels map[uint32]*channel    // local number → channel
	byKey    map[string]*channel    // (protocol, id) → channel
	remotes  map[uint32]*channel    // peer's number → paired channel
	unpaired map[string]*remoteOpen // peer opens with no opened local channel yet
	orphans  map[uint32]*remoteOpen // same records, by peer's number
	nextID   uint32
	corked   int
	batch    []byte
	closed   bool
	err      error

	writes     *queue[[]byte]
	events     *queue[func()]
	done       chan struct{}
	writerDone chan struct{}
}

// remoteOpen holds a peer open and the messages that followed it until a
// local channel pairs with it.
type remoteOpen struct {
	remoteID  uint32
	handshake []byte
	queued    []*protocol.Header
	bodies    [][]byte
}

type MuxOption func(*muxOptions)

type muxOptions struct {
	log logrus.FieldLogger
	ctx context.Context
}

// WithMuxLogger sets the logger, logrus.StandardLogger() by default.
func WithMuxLogger(log logrus.FieldLogger) MuxOption {
	return func(o *muxOptions) { o.log = log }
}

// WithMuxContext ties the mux lifetime to ctx: cancelling it flushes queued
// frames, then closes the stream.
func WithMuxContext(ctx context.Context) MuxOption {
	return func(o *muxOptions) { o.ctx = ctx }
}

// NewMux starts multiplexing over conn.
func NewMux(conn io.ReadWriteCloser, opts ...MuxOption) *StreamMux {
	o := &muxOptions{
		log: logrus.StandardLogger(),
		ctx: context.Background(),
	}
	for _, opt := range opts {
		opt(o)
	}

	group, ctx := errgroup.WithContext(o.ctx)
	m := &StreamMux{
		conn:       conn,
		log:        o.log.WithField("component", "mux"),
		group:      group,
		channels:   make(map[uint32]*channel),
		byKey:      make(map[string]*channel),
		remotes:    make(map[uint32]*channel),
		unpaired:   make(map[string]*remoteOpen),
		orphans:    make(map[uint32]*remoteOpen),
		writes:     newQueue[[]byte](),
		events:     newQueue[func()](),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}

	group.Go(func() error {
		err := m.readLoop()
		m.destroy(err)
		if isClosedErr(err) {
			return nil
		}
		return err
	})
	group.Go(m.writeLoop)
	group.Go(m.dispatchLoop)
	group.Go(func() error {
		select {
		case <-ctx.Done():
			// Frames queued before the cancel still go out. A stream failure
			// closes the conn, which unblocks the writer.
			m.writes.close()
			select {
			case <-m.writerDone:
			case <-m.done:
			}
			m.destroy(ctx.Err())
		case <-m.done:
		}
		return nil
	})
	return m
}

// Stream returns the underlying connection.
func (m *StreamMux) Stream() io.ReadWriteCloser {
	return m.conn
}

// Done is closed once the stream is gone.
func (m *StreamMux) Done() <-chan struct{} {
	return m.done
}

// Wait blocks until every loop has exited and returns the first stream error.
func (m *StreamMux) Wait() error {
	return m.group.Wait()
}

// Close flushes queued frames, then tears the stream down. Channels still
// open see OnClose followed by OnDestroy.
func (m *StreamMux) Close() error {
	m.writes.close()
	<-m.writerDone
	m.destroy(nil)
	return nil
}

func channelKey(protocol string, id []byte) string {
	return protocol + "\x00" + string(id)
}

// CreateChannel registers a channel; it is not visible to the peer until Open.
func (m *StreamMux) CreateChannel(opts ChannelOptions) (Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrMuxClosed
	}
	key := channelKey(opts.Protocol, opts.ID)
	if _, dup := m.byKey[key]; dup {
		return nil, ErrDuplicateChannel
	}

	m.nextID++
	c := &channel{
		mux:  m,
		id:   m.nextID,
		key:  key,
		opts: opts,
		log:  m.log.WithField("protocol", opts.Protocol),
	}
	m.channels[c.id] = c
	m.byKey[key] = c
	return c, nil
}

// writeFrame queues one frame, or appends it to the cork batch.
// Caller holds m.mu.
func (m *StreamMux) writeFrame(h *protocol.Header, body []byte) error {
	if m.closed {
		return ErrMuxClosed
	}
	if m.corked > 0 {
		m.batch = protocol.AppendFrame(m.batch, h, body)
		return nil
	}
	if !m.writes.push(protocol.AppendFrame(nil, h, body)) {
		return ErrMuxClosed
	}
	return nil
}

func (m *StreamMux) cork() {
	m.mu.Lock()
	m.corked++
	m.mu.Unlock()
}

func (m *StreamMux) uncork() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.corked == 0 {
		return
	}
	m.corked--
	if m.corked == 0 && len(m.batch) > 0 {
		batch := m.batch
		m.batch = nil
		if !m.closed {
			m.writes.push(batch)
		}
	}
}

func (m *StreamMux) readLoop() error {
	r := bufio.NewReader(m.conn)
	for {
		header, body, err := protocol.ReadFrame(r)
		if err != nil {
			return err
		}

		switch header.Type {
		case protocol.FrameOpen:
			m.onOpenFrame(header, body)
		case protocol.FrameClose:
			m.onCloseFrame(header)
		case protocol.FrameMessage:
			m.onMessageFrame(header, body)
		}
	}
}

func (m *StreamMux) writeLoop() error {
	defer close(m.writerDone)
	w := bufio.NewWriter(m.conn)
	for {
		frames, ok := m.writes.popAll()
		if !ok {
			return nil
		}
		for _, frame := range frames {
			if _, err := w.Write(frame); err != nil {
				m.conn.Close()
				return err
			}
		}
		if err := w.Flush(); err != nil {
			m.conn.Close()
			return err
		}
	}
}

func (m *StreamMux) dispatchLoop() error {
	for {
		fns, ok := m.events.popAll()
		if !ok {
			return nil
		}
		for _, fn := range fns {
			fn()
		}
	}
}

func (m *StreamMux) onOpenFrame(h *protocol.Header, body []byte) {
	open, err := protocol.Decode(protocol.OpenEncoding, body)
	if err != nil {
		m.log.WithError(err).Warn("dropping malformed open frame")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := channelKey(open.Protocol, open.ID)
	if c, ok := m.byKey[key]; ok && c.opened && !c.paired {
		m.pair(c, h.Channel, open.Handshake)
		return
	}
	ro := &remoteOpen{remoteID: h.Channel, handshake: open.Handshake}
	m.unpaired[key] = ro
	m.orphans[h.Channel] = ro
}

func (m *StreamMux) onCloseFrame(h *protocol.Header) {
	m.mu.Lock()
	c, ok := m.remotes[h.Channel]
	if !ok {
		if ro, orphan := m.orphans[h.Channel]; orphan {
			delete(m.orphans, h.Channel)
			for key, v := range m.unpaired {
				if v == ro {
					delete(m.unpaired, key)
				}
			}
		}
		m.mu.Unlock()
		return
	}
	m.forget(c)
	m.mu.Unlock()

	m.events.push(c.notifyClose)
}

func (m *StreamMux) onMessageFrame(h *protocol.Header, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.remotes[h.Channel]; ok {
		m.deliver(c, h.Message, body)
		return
	}
	if ro, ok := m.orphans[h.Channel]; ok {
		ro.queued = append(ro.queued, h)
		ro.bodies = append(ro.bodies, body)
		return
	}
	m.log.WithField("channel", h.Channel).Warn("dropping message for unknown channel")
}

// pair links a locally opened channel with the peer's open. Caller holds m.mu.
func (m *StreamMux) pair(c *channel, remoteID uint32, handshake []byte) {
	c.paired = true
	c.remoteID = remoteID
	m.remotes[remoteID] = c

	if c.opts.OnOpen != nil {
		onOpen := c.opts.OnOpen
		m.events.push(func() {
			if !c.Closed() {
				onOpen(handshake)
			}
		})
	}
}

// deliver queues a message callback. Caller holds m.mu.
func (m *StreamMux) deliver(c *channel, msgType byte, body []byte) {
	if int(msgType) >= len(c.messages) {
		c.log.WithField("type", msgType).Warn("dropping message of unregistered type")
		return
	}
	onMessage := c.messages[msgType]
	m.events.push(func() {
		if !c.Closed() {
			onMessage(body)
		}
	})
}

// forget marks c closed and drops it from every table. Caller holds m.mu.
func (m *StreamMux) forget(c *channel) {
	c.closed = true
	delete(m.channels, c.id)
	delete(m.byKey, c.key)
	if c.paired {
		delete(m.remotes, c.remoteID)
	}
}

func (m *StreamMux) destroy(err error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.err = err
	open := make([]*channel, 0, len(m.channels))
	for _, c := range m.channels {
		open = append(open, c)
	}
	for _, c := range open {
		m.forget(c)
	}
	m.batch = nil
	m.mu.Unlock()

	if err != nil && !isClosedErr(err) {
		m.log.WithError(err).Error("stream failed")
	}

	close(m.done)
	m.conn.Close()
	m.writes.close()
	for _, c := range open {
		c := c
		m.events.push(func() {
			c.notifyClose()
			if c.opts.OnDestroy != nil {
				c.opts.OnDestroy()
			}
		})
	}
	m.events.close()
}

// Err returns the error that ended the stream, nil for a local Close or EOF.
func (m *StreamMux) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if isClosedErr(m.err) {
		return nil
	}
	return m.err
}

func isClosedErr(err error) bool {
	return err == nil ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled)
}
