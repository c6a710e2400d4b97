// Package codec provides the value encodings applied to request and response
// payloads, and the precedence rules that pick one for a call or responder.
//
// The wire layer never looks inside a value: a sender encodes with its
// locally resolved codec and the receiver decodes with its own. Both sides
// must agree by convention.
package codec

import (
	"errors"
	"fmt"
)

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
	CodecTypeString CodecType = 2
	CodecTypeProto  CodecType = 3
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	case CodecTypeString:
		return "string"
	case CodecTypeProto:
		return "proto"
	default:
		return fmt.Sprintf("codec(%d)", byte(t))
	}
}

// Codec turns a Go value into payload bytes and back.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
	Type() CodecType
}

// ErrNotRaw is returned when no codec applies and the value is not a byte slice.
var ErrNotRaw = errors.New("codec: raw value must be []byte")

var (
	JSON   Codec = &JSONCodec{}
	Binary Codec = &BinaryCodec{}
	String Codec = &StringCodec{}
)

// GetCodec returns the shared codec for types that need no configuration.
func GetCodec(codecType CodecType) (Codec, error) {
	switch codecType {
	case CodecTypeJSON:
		return JSON, nil
	case CodecTypeBinary:
		return Binary, nil
	case CodecTypeString:
		return String, nil
	default:
		return nil, fmt.Errorf("codec: no shared codec for %s", codecType)
	}
}

// Marshal encodes v with c. A nil codec means raw passthrough.
func Marshal(c Codec, v any) ([]byte, error) {
	if c != nil {
		return c.Encode(v)
	}
	switch b := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	default:
		return nil, fmt.Errorf("%w, got %T", ErrNotRaw, v)
	}
}

// Unmarshal decodes data with c. A nil codec returns data unchanged.
func Unmarshal(c Codec, data []byte) (any, error) {
	if c != nil {
		return c.Decode(data)
	}
	return data, nil
}
