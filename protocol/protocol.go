// Package protocol implements the binary building blocks of mux-rpc: the
// compact field encodings used inside messages (see State) and the frame
// format the stream multiplexer writes to the connection.
//
// A connection carries many logical channels. Each frame is a fixed-size
// 14-byte header followed by a variable-length body. The receiver reads the
// header first to learn the body length, then reads exactly that many bytes.
//
// Frame format:
//
//	0      3  4  5         9  10       14
//	┌──────┬──┬──┬─────────┬──┬─────────┬───────────────┐
//	│magic │v │ft│ channel │mt│ bodyLen │    body ...    │
//	│ pmx  │01│  │ uint32  │  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴─────────┴──┴─────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic number bytes: "pmx" (protocol mux).
const (
	MagicNumber byte = 0x70 // 'p'
	MagicByte2  byte = 0x6d // 'm'
	MagicByte3  byte = 0x78 // 'x'
	Version     byte = 0x01
	HeaderSize  int  = 14 // 3 (magic) + 1 (version) + 1 (frameType) + 4 (channel) + 1 (msgType) + 4 (bodyLen)

	// MaxBodySize bounds a single frame so a corrupt length cannot force a huge allocation.
	MaxBodySize uint32 = 64 * 1024 * 1024
)

// ErrInvalidFrame is wrapped by every header validation failure.
var ErrInvalidFrame = errors.New("protocol: invalid frame")

// FrameType distinguishes channel control frames from message frames.
type FrameType byte

const (
	FrameOpen    FrameType = 0 // Sender opened a channel, body is an OpenFrame
	FrameClose   FrameType = 1 // Sender closed a channel, no body
	FrameMessage FrameType = 2 // Message on an open channel
)

func (t FrameType) String() string {
	switch t {
	case FrameOpen:
		return "open"
	case FrameClose:
		return "close"
	case FrameMessage:
		return "message"
	default:
		return fmt.Sprintf("frame(%d)", byte(t))
	}
}

// Header is the fixed 14-byte frame header.
type Header struct {
	Type    FrameType
	Channel uint32 // Sender's local channel number
	Message byte   // Message type index within the channel, FrameMessage only
	BodyLen uint32
}

// WriteFrame writes a complete frame (header + body) to w.
// Callers sharing w across goroutines must serialize whole frames.
func WriteFrame(w io.Writer, h *Header, body []byte) error {
	_, err := w.Write(AppendFrame(nil, h, body))
	return err
}

// AppendFrame appends the encoded frame to dst, used to batch corked frames
// into a single write.
func AppendFrame(dst []byte, h *Header, body []byte) []byte {
	var buf [HeaderSize]byte
	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = byte(h.Type)
	binary.BigEndian.PutUint32(buf[5:9], h.Channel)
	buf[9] = h.Message
	binary.BigEndian.PutUint32(buf[10:14], uint32(len(body)))
	dst = append(dst, buf[:]...)
	return append(dst, body...)
}

// ReadFrame reads a complete frame (header + body) from r.
func ReadFrame(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("%w: invalid magic number: %x", ErrInvalidFrame, headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("%w: unsupported version: %d", ErrInvalidFrame, headerBuf[3])
	}

	frameType := FrameType(headerBuf[4])
	if frameType != FrameOpen && frameType != FrameClose && frameType != FrameMessage {
		return nil, nil, fmt.Errorf("%w: unsupported frame type: %d", ErrInvalidFrame, headerBuf[4])
	}

	bodyLen := binary.BigEndian.Uint32(headerBuf[10:14])
	if bodyLen > MaxBodySize {
		return nil, nil, fmt.Errorf("%w: body too large: %d", ErrInvalidFrame, bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		Type:    frameType,
		Channel: binary.BigEndian.Uint32(headerBuf[5:9]),
		Message: headerBuf[9],
		BodyLen: bodyLen,
	}, body, nil
}

// OpenFrame is the body of a FrameOpen.
type OpenFrame struct {
	Protocol  string
	ID        []byte
	Handshake []byte
}

type openEncoding struct{}

// OpenEncoding is the two-phase codec for OpenFrame bodies.
var OpenEncoding Encoding[*OpenFrame] = openEncoding{}

func (openEncoding) Preencode(s *State, m *OpenFrame) {
	s.PreencodeString(m.Protocol)
	s.PreencodeBytes(m.ID)
	s.PreencodeBytes(m.Handshake)
}

func (openEncoding) Encode(s *State, m *OpenFrame) {
	s.EncodeString(m.Protocol)
	s.EncodeBytes(m.ID)
	s.EncodeBytes(m.Handshake)
}

func (openEncoding) Decode(s *State) (*OpenFrame, error) {
	var (
		m   OpenFrame
		err error
	)
	if m.Protocol, err = s.DecodeString(); err != nil {
		return nil, err
	}
	if m.ID, err = s.DecodeBytes(); err != nil {
		return nil, err
	}
	if m.Handshake, err = s.DecodeBytes(); err != nil {
		return nil, err
	}
	return &m, nil
}
