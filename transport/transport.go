// Package transport defines the channel contract the rpc engine consumes and
// provides StreamMux, which carries many such channels over one connection.
//
// A channel is identified by (protocol, id). Both peers create and open a
// channel with the same pair; once both opens are seen the channel is paired
// and OnOpen fires with the peer's handshake. Each channel registers message
// types in order with AddMessage; the peer must register the same types in
// the same order.
package transport

import (
	"errors"
	"io"
)

var (
	// ErrDuplicateChannel is returned by CreateChannel when (protocol, id) is already in use.
	ErrDuplicateChannel = errors.New("transport: duplicate channel")
	// ErrChannelClosed is returned when sending on or opening a closed channel.
	ErrChannelClosed = errors.New("transport: channel closed")
	// ErrMuxClosed is returned once the underlying stream is gone.
	ErrMuxClosed = errors.New("transport: mux closed")
)

// Mux creates channels on a shared stream.
type Mux interface {
	CreateChannel(opts ChannelOptions) (Channel, error)
	Stream() io.ReadWriteCloser
}

// ChannelOptions names a channel and carries its lifecycle callbacks.
//
// OnOpen fires once the peer opened the same channel. OnClose fires exactly
// once, whether closed locally, by the peer, or by stream failure. OnDestroy
// fires after OnClose only when the stream failed underneath the channel.
type ChannelOptions struct {
	Protocol  string
	ID        []byte
	OnOpen    func(handshake []byte)
	OnClose   func()
	OnDestroy func()
}

// Channel is one logical sub-stream.
type Channel interface {
	// AddMessage registers the next message type and its receive callback.
	AddMessage(onMessage func(data []byte)) Message
	Open(handshake []byte) error
	Close() error
	// Cork holds outgoing frames until the matching Uncork.
	Cork()
	Uncork()
	Closed() bool
}

// Message sends one registered message type.
type Message interface {
	Send(data []byte) error
}
