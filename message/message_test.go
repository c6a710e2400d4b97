package message

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"mux-rpc/protocol"
)

func TestRequestRoundTrip(t *testing.T) {
	cases := []*Request{
		{ID: 1, Method: "echo", Value: []byte("hi")},
		{ID: 0, Method: "log", Value: nil},
		{ID: 0xfd, Method: "", Value: []byte{}},
		{ID: 1 << 40, Method: "ünïcode.method", Value: bytes.Repeat([]byte{0xab}, 70000)},
	}

	for _, in := range cases {
		out, err := DecodeRequest(EncodeRequest(in))
		if err != nil {
			t.Fatalf("decode %d: %v", in.ID, err)
		}
		if out.ID != in.ID || out.Method != in.Method || !bytes.Equal(out.Value, in.Value) {
			t.Fatalf("request mismatch: got %+v, want %+v", out, in)
		}
	}
}

func TestRequestLayout(t *testing.T) {
	got := EncodeRequest(&Request{ID: 1, Method: "ab", Value: []byte{9}})
	want := []byte{1, 2, 'a', 'b', 1, 9}
	if !bytes.Equal(got, want) {
		t.Fatalf("layout: got %v, want %v", got, want)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	cases := []*Response{
		{ID: 1, Value: []byte("hi")},
		{ID: 2, Value: nil},
		{ID: 3, IsError: true, Error: "unknown method 'missing'"},
		{ID: 300, IsError: true, Error: ""},
	}

	for _, in := range cases {
		out, err := DecodeResponse(EncodeResponse(in))
		if err != nil {
			t.Fatalf("decode %d: %v", in.ID, err)
		}
		if out.ID != in.ID || out.IsError != in.IsError || out.Error != in.Error || !bytes.Equal(out.Value, in.Value) {
			t.Fatalf("response mismatch: got %+v, want %+v", out, in)
		}
		if out.IsError && out.Value != nil {
			t.Fatalf("error response must not carry a value")
		}
	}
}

func TestResponseLayout(t *testing.T) {
	ok := EncodeResponse(&Response{ID: 5, Value: []byte{7}})
	if !bytes.Equal(ok, []byte{0, 5, 1, 7}) {
		t.Fatalf("value layout: got %v", ok)
	}

	failed := EncodeResponse(&Response{ID: 5, IsError: true, Error: "x"})
	if !bytes.Equal(failed, []byte{1, 5, 1, 'x'}) {
		t.Fatalf("error layout: got %v", failed)
	}
}

func TestResponseIgnoresReservedBits(t *testing.T) {
	out, err := DecodeResponse([]byte{0b110, 5, 1, 7})
	if err != nil {
		t.Fatal(err)
	}
	if out.IsError || !bytes.Equal(out.Value, []byte{7}) {
		t.Fatalf("got %+v", out)
	}
}

func TestDecodeTruncated(t *testing.T) {
	data := EncodeRequest(&Request{ID: 1, Method: "echo", Value: []byte("hello")})
	for i := 0; i < len(data); i++ {
		if _, err := DecodeRequest(data[:i]); !errors.Is(err, protocol.ErrOutOfBounds) {
			t.Fatalf("prefix %d: expect ErrOutOfBounds, got %v", i, err)
		}
	}

	if _, err := DecodeResponse(nil); err == nil || !strings.Contains(err.Error(), "out of bounds") {
		t.Fatalf("empty response: got %v", err)
	}
}

func TestIsEvent(t *testing.T) {
	if !(&Request{ID: 0}).IsEvent() {
		t.Fatal("id 0 is an event")
	}
	if (&Request{ID: 1}).IsEvent() {
		t.Fatal("id 1 is not an event")
	}
}
