package rpc

import (
	"errors"
	"fmt"
	"strings"

	"mux-rpc/transport"
)

var (
	// ErrDuplicateChannel is returned by New when the mux already has an rpc
	// channel with the same id.
	ErrDuplicateChannel = transport.ErrDuplicateChannel
	// ErrChannelClosed rejects calls made after close, and pending calls when
	// the channel closes without a recorded error.
	ErrChannelClosed = errors.New("channel closed")
	// ErrChannelDestroyed is the terminal error of Destroy(nil).
	ErrChannelDestroyed = errors.New("channel destroyed")
)

// RemoteError carries the failure text the peer sent back. Only the text
// crosses the wire; the peer's error type and cause are gone.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

const unknownMethodPrefix = "unknown method '"

func unknownMethod(method string) string {
	return fmt.Sprintf("unknown method '%s'", method)
}

// IsUnknownMethod reports whether err is the peer saying it has no responder.
func IsUnknownMethod(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && strings.HasPrefix(re.Message, unknownMethodPrefix)
}
