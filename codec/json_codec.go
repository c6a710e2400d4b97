package codec

import (
	"encoding/json"
)

// JSONCodec uses Go's standard library encoding/json for serialization.
// Decode yields the generic form: map[string]any, []any, float64, string, bool or nil.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}

// TypedJSON decodes into a fresh T, so handlers receive concrete values.
type TypedJSON[T any] struct{}

// JSONOf returns a JSON codec that decodes into T.
func JSONOf[T any]() Codec {
	return TypedJSON[T]{}
}

func (TypedJSON[T]) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (TypedJSON[T]) Decode(data []byte) (any, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (TypedJSON[T]) Type() CodecType {
	return CodecTypeJSON
}
