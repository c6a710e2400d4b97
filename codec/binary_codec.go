package codec

import (
	"fmt"
)

// BinaryCodec passes bytes through unchanged. Strings are accepted on encode
// and sent as their UTF-8 bytes.
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case *[]byte:
		return *b, nil
	case string:
		return []byte(b), nil
	default:
		return nil, fmt.Errorf("BinaryCodec: cannot encode %T", v)
	}
}

func (c *BinaryCodec) Decode(data []byte) (any, error) {
	return data, nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

// StringCodec carries UTF-8 text.
type StringCodec struct{}

func (c *StringCodec) Encode(v any) ([]byte, error) {
	switch s := v.(type) {
	case string:
		return []byte(s), nil
	case []byte:
		return s, nil
	case fmt.Stringer:
		return []byte(s.String()), nil
	default:
		return nil, fmt.Errorf("StringCodec: cannot encode %T", v)
	}
}

func (c *StringCodec) Decode(data []byte) (any, error) {
	return string(data), nil
}

func (c *StringCodec) Type() CodecType {
	return CodecTypeString
}
