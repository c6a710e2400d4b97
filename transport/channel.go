package transport

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"mux-rpc/protocol"
)

var errAlreadyOpen = errors.New("transport: channel already opened")

// channel state is guarded by mux.mu.
type channel struct {
	mux  *StreamMux
	id   uint32
	key  string
	opts ChannelOptions
	log  logrus.FieldLogger

	messages []func(data []byte)
	opened   bool
	paired   bool
	remoteID uint32
	closed   bool

	closeOnce sync.Once
}

func (c *channel) AddMessage(onMessage func(data []byte)) Message {
	c.mux.mu.Lock()
	defer c.mux.mu.Unlock()
	c.messages = append(c.messages, onMessage)
	return &sender{channel: c, msgType: byte(len(c.messages) - 1)}
}

// Open announces the channel to the peer. If the peer already opened the
// same channel, the pair completes here and buffered messages are delivered.
func (c *channel) Open(handshake []byte) error {
	m := c.mux
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.closed {
		return ErrChannelClosed
	}
	if c.opened {
		return errAlreadyOpen
	}

	body := protocol.Encode(protocol.OpenEncoding, &protocol.OpenFrame{
		Protocol:  c.opts.Protocol,
		ID:        c.opts.ID,
		Handshake: handshake,
	})
	if err := m.writeFrame(&protocol.Header{Type: protocol.FrameOpen, Channel: c.id}, body); err != nil {
		return err
	}
	c.opened = true

	if ro, ok := m.unpaired[c.key]; ok {
		delete(m.unpaired, c.key)
		delete(m.orphans, ro.remoteID)
		m.pair(c, ro.remoteID, ro.handshake)
		for i, h := range ro.queued {
			m.deliver(c, h.Message, ro.bodies[i])
		}
	}
	return nil
}

// Close is idempotent. OnClose runs on the calling goroutine.
func (c *channel) Close() error {
	m := c.mux
	m.mu.Lock()
	if c.closed {
		m.mu.Unlock()
		return nil
	}
	wasOpen := c.opened
	m.forget(c)
	if wasOpen && !m.closed {
		if err := m.writeFrame(&protocol.Header{Type: protocol.FrameClose, Channel: c.id}, nil); err != nil {
			c.log.WithError(err).Debug("close frame not sent")
		}
	}
	m.mu.Unlock()

	c.notifyClose()
	return nil
}

func (c *channel) Cork() {
	c.mux.cork()
}

func (c *channel) Uncork() {
	c.mux.uncork()
}

func (c *channel) Closed() bool {
	c.mux.mu.Lock()
	defer c.mux.mu.Unlock()
	return c.closed
}

func (c *channel) notifyClose() {
	c.closeOnce.Do(func() {
		if c.opts.OnClose != nil {
			c.opts.OnClose()
		}
	})
}

type sender struct {
	channel *channel
	msgType byte
}

func (s *sender) Send(data []byte) error {
	c := s.channel
	m := c.mux
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.closed {
		return ErrChannelClosed
	}
	return m.writeFrame(&protocol.Header{
		Type:    protocol.FrameMessage,
		Channel: c.id,
		Message: s.msgType,
	}, data)
}
