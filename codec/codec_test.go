package codec

import (
	"errors"
	"reflect"
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type AddArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

func TestJSONCodec(t *testing.T) {
	data, err := JSON.Encode(&AddArgs{A: 1, B: 2})
	if err != nil {
		t.Fatalf("JSONCodec Encode failed: %v", err)
	}
	if string(data) != `{"a":1,"b":2}` {
		t.Fatalf("unexpected encoding %s", data)
	}

	v, err := JSON.Decode(data)
	if err != nil {
		t.Fatalf("JSONCodec Decode failed: %v", err)
	}
	want := map[string]any{"a": float64(1), "b": float64(2)}
	if !reflect.DeepEqual(v, want) {
		t.Errorf("got %#v, want %#v", v, want)
	}
}

func TestTypedJSON(t *testing.T) {
	c := JSONOf[AddArgs]()
	data, err := c.Encode(AddArgs{A: 3, B: 4})
	if err != nil {
		t.Fatal(err)
	}
	v, err := c.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	args, ok := v.(AddArgs)
	if !ok || args.A != 3 || args.B != 4 {
		t.Fatalf("got %#v", v)
	}

	if _, err := c.Decode([]byte("{")); err == nil {
		t.Fatal("expect error for malformed json")
	}
}

func TestBinaryCodec(t *testing.T) {
	for _, in := range []any{[]byte("raw"), "raw"} {
		data, err := Binary.Encode(in)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "raw" {
			t.Fatalf("got %q", data)
		}
	}
	if _, err := Binary.Encode(42); err == nil {
		t.Fatal("expect error for int")
	}
	v, _ := Binary.Decode([]byte{1, 2})
	if !reflect.DeepEqual(v, []byte{1, 2}) {
		t.Fatalf("got %#v", v)
	}
}

func TestStringCodec(t *testing.T) {
	data, err := String.Encode("hi")
	if err != nil {
		t.Fatal(err)
	}
	v, err := String.Decode(data)
	if err != nil || v != "hi" {
		t.Fatalf("got %#v, %v", v, err)
	}
}

func TestProtoCodec(t *testing.T) {
	c := Proto(func() proto.Message { return &wrapperspb.StringValue{} })

	data, err := c.Encode(wrapperspb.String("hello"))
	if err != nil {
		t.Fatal(err)
	}
	v, err := c.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	msg, ok := v.(*wrapperspb.StringValue)
	if !ok || msg.GetValue() != "hello" {
		t.Fatalf("got %#v", v)
	}

	if _, err := c.Encode("not a message"); err == nil {
		t.Fatal("expect error for non-proto value")
	}
}

func TestMarshalRaw(t *testing.T) {
	data, err := Marshal(nil, []byte("x"))
	if err != nil || string(data) != "x" {
		t.Fatalf("got %q, %v", data, err)
	}
	data, err = Marshal(nil, nil)
	if err != nil || data != nil {
		t.Fatalf("nil value: got %v, %v", data, err)
	}
	if _, err := Marshal(nil, "text"); !errors.Is(err, ErrNotRaw) {
		t.Fatalf("expect ErrNotRaw, got %v", err)
	}

	v, err := Unmarshal(nil, []byte("y"))
	if err != nil || !reflect.DeepEqual(v, []byte("y")) {
		t.Fatalf("got %#v, %v", v, err)
	}
}

func TestConfigPrecedence(t *testing.T) {
	session := Binary

	cases := []struct {
		name     string
		cfg      Config
		session  Codec
		request  Codec
		response Codec
	}{
		{"raw", Config{}, nil, nil, nil},
		{"session", Config{}, session, session, session},
		{"value", Config{Value: JSON}, session, JSON, JSON},
		{"overrides", Config{Value: JSON, Request: String, Response: Binary}, nil, String, Binary},
		{"request only", Config{Request: String}, session, String, session},
	}

	for _, tc := range cases {
		if got := tc.cfg.RequestCodec(tc.session); got != tc.request {
			t.Errorf("%s: request codec %v, want %v", tc.name, got, tc.request)
		}
		if got := tc.cfg.ResponseCodec(tc.session); got != tc.response {
			t.Errorf("%s: response codec %v, want %v", tc.name, got, tc.response)
		}
	}
}

func TestGetCodec(t *testing.T) {
	c, err := GetCodec(CodecTypeJSON)
	if err != nil || c.Type() != CodecTypeJSON {
		t.Fatalf("got %v, %v", c, err)
	}
	if _, err := GetCodec(CodecTypeProto); err == nil {
		t.Fatal("proto needs a constructor")
	}
}
