package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// ProtoCodec encodes protobuf messages. New returns an empty message of the
// type expected on decode.
type ProtoCodec struct {
	New func() proto.Message
}

// Proto returns a codec that decodes into messages built by newMsg.
func Proto(newMsg func() proto.Message) Codec {
	return &ProtoCodec{New: newMsg}
}

func (c *ProtoCodec) Encode(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("ProtoCodec: %T is not a proto.Message", v)
	}
	return proto.Marshal(m)
}

func (c *ProtoCodec) Decode(data []byte) (any, error) {
	if c.New == nil {
		return nil, fmt.Errorf("ProtoCodec: no message constructor")
	}
	m := c.New()
	if err := proto.Unmarshal(data, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *ProtoCodec) Type() CodecType {
	return CodecTypeProto
}
