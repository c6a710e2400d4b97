package protocol

import (
	"encoding/binary"
	"errors"
	"unicode/utf8"
)

// ErrOutOfBounds is returned when a decode runs past the end of the buffer.
var ErrOutOfBounds = errors.New("protocol: out of bounds")

// ErrInvalidString is returned when a decoded string is not valid UTF-8.
var ErrInvalidString = errors.New("protocol: invalid utf-8 string")

// State carries the cursor for the two-phase encoding discipline.
//
// Sizing pass: call the Preencode* methods, each adds to End.
// Writing pass: Alloc, then the Encode* methods in the same order, each
// advances Start. Decoding reads forward from Start to End.
type State struct {
	Start  int
	End    int
	Buffer []byte
}

// NewDecodeState wraps data for a single forward decode pass.
func NewDecodeState(data []byte) *State {
	return &State{Start: 0, End: len(data), Buffer: data}
}

// Alloc sizes Buffer to the byte count accumulated by the sizing pass.
func (s *State) Alloc() {
	s.Buffer = make([]byte, s.End)
}

// Remaining is the number of bytes not yet consumed.
func (s *State) Remaining() int {
	return s.End - s.Start
}

// Uint uses a compact variable width layout:
//
//	n <= 0xfc         1 byte
//	n <= 0xffff       0xfd + uint16 little-endian
//	n <= 0xffffffff   0xfe + uint32 little-endian
//	otherwise         0xff + uint64 little-endian
func uintSize(n uint64) int {
	switch {
	case n <= 0xfc:
		return 1
	case n <= 0xffff:
		return 3
	case n <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

func (s *State) PreencodeUint(n uint64) {
	s.End += uintSize(n)
}

func (s *State) EncodeUint(n uint64) {
	b := s.Buffer[s.Start:]
	switch {
	case n <= 0xfc:
		b[0] = byte(n)
		s.Start++
	case n <= 0xffff:
		b[0] = 0xfd
		binary.LittleEndian.PutUint16(b[1:3], uint16(n))
		s.Start += 3
	case n <= 0xffffffff:
		b[0] = 0xfe
		binary.LittleEndian.PutUint32(b[1:5], uint32(n))
		s.Start += 5
	default:
		b[0] = 0xff
		binary.LittleEndian.PutUint64(b[1:9], n)
		s.Start += 9
	}
}

func (s *State) DecodeUint() (uint64, error) {
	if s.Remaining() < 1 {
		return 0, ErrOutOfBounds
	}
	prefix := s.Buffer[s.Start]
	s.Start++

	var width int
	switch prefix {
	case 0xfd:
		width = 2
	case 0xfe:
		width = 4
	case 0xff:
		width = 8
	default:
		return uint64(prefix), nil
	}
	if s.Remaining() < width {
		return 0, ErrOutOfBounds
	}
	b := s.Buffer[s.Start : s.Start+width]
	s.Start += width
	switch width {
	case 2:
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	default:
		return binary.LittleEndian.Uint64(b), nil
	}
}

// Bytes are length-prefixed with a Uint.
func (s *State) PreencodeBytes(b []byte) {
	s.PreencodeUint(uint64(len(b)))
	s.End += len(b)
}

func (s *State) EncodeBytes(b []byte) {
	s.EncodeUint(uint64(len(b)))
	s.Start += copy(s.Buffer[s.Start:], b)
}

// DecodeBytes returns a copy, so the result outlives the frame buffer.
func (s *State) DecodeBytes() ([]byte, error) {
	n, err := s.DecodeUint()
	if err != nil {
		return nil, err
	}
	if uint64(s.Remaining()) < n {
		return nil, ErrOutOfBounds
	}
	out := make([]byte, n)
	s.Start += copy(out, s.Buffer[s.Start:s.Start+int(n)])
	return out, nil
}

func (s *State) PreencodeString(v string) {
	s.PreencodeUint(uint64(len(v)))
	s.End += len(v)
}

func (s *State) EncodeString(v string) {
	s.EncodeUint(uint64(len(v)))
	s.Start += copy(s.Buffer[s.Start:], v)
}

func (s *State) DecodeString() (string, error) {
	n, err := s.DecodeUint()
	if err != nil {
		return "", err
	}
	if uint64(s.Remaining()) < n {
		return "", ErrOutOfBounds
	}
	b := s.Buffer[s.Start : s.Start+int(n)]
	if !utf8.Valid(b) {
		return "", ErrInvalidString
	}
	s.Start += int(n)
	return string(b), nil
}

// Flags packs up to eight booleans into one byte, first flag in the low bit.
func (s *State) PreencodeFlags() {
	s.End++
}

func (s *State) EncodeFlags(flags ...bool) {
	var b byte
	for i, f := range flags {
		if f && i < 8 {
			b |= 1 << i
		}
	}
	s.Buffer[s.Start] = b
	s.Start++
}

// DecodeFlags returns the raw flag byte; callers test the bits they own.
func (s *State) DecodeFlags() (byte, error) {
	if s.Remaining() < 1 {
		return 0, ErrOutOfBounds
	}
	b := s.Buffer[s.Start]
	s.Start++
	return b, nil
}

// Encoding is a two-phase codec for one message type.
type Encoding[T any] interface {
	Preencode(s *State, m T)
	Encode(s *State, m T)
	Decode(s *State) (T, error)
}

// Encode runs the sizing pass, allocates once, then runs the writing pass.
func Encode[T any](enc Encoding[T], m T) []byte {
	s := &State{}
	enc.Preencode(s, m)
	s.Alloc()
	enc.Encode(s, m)
	return s.Buffer
}

// Decode decodes one message from data.
func Decode[T any](enc Encoding[T], data []byte) (T, error) {
	return enc.Decode(NewDecodeState(data))
}
