package protocol

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	header := Header{
		Type:    FrameMessage,
		Channel: 12345,
		Message: 1,
		BodyLen: 11,
	}
	body := []byte("hello world")

	var buf bytes.Buffer
	if err := WriteFrame(&buf, &header, body); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decodedHeader, decodedBody, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if decodedHeader.Type != header.Type {
		t.Errorf("Type mismatch: got %v, want %v", decodedHeader.Type, header.Type)
	}
	if decodedHeader.Channel != header.Channel {
		t.Errorf("Channel mismatch: got %d, want %d", decodedHeader.Channel, header.Channel)
	}
	if decodedHeader.Message != header.Message {
		t.Errorf("Message mismatch: got %d, want %d", decodedHeader.Message, header.Message)
	}
	if decodedHeader.BodyLen != header.BodyLen {
		t.Errorf("BodyLen mismatch: got %d, want %d", decodedHeader.BodyLen, header.BodyLen)
	}
	if !bytes.Equal(decodedBody, body) {
		t.Errorf("Body mismatch: got %s, want %s", string(decodedBody), string(body))
	}
}

func TestDecodeInvalidMagic(t *testing.T) {
	invalidHeader := []byte{0x00, 0x00, 0x00, Version, byte(FrameMessage), 0, 0, 0x30, 0x39, 0, 0x00, 0x00, 0x00, 0x0B}
	var buf bytes.Buffer
	buf.Write(invalidHeader)
	buf.Write([]byte("hello world"))

	_, _, err := ReadFrame(&buf)
	if err == nil {
		t.Fatal("Expected error for invalid magic number, but got nil")
	}
	if !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("expect ErrInvalidFrame, got %v", err)
	}
	if !bytes.Contains([]byte(err.Error()), []byte("invalid magic number")) {
		t.Errorf("Error message should contain 'invalid magic', instead: %v", err)
	}
}

func TestDecodeInvalidVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{
		MagicNumber, MagicByte2, MagicByte3,
		0xFF,
		byte(FrameClose),
		0, 0, 0, 1,
		0,
		0, 0, 0, 0,
	})

	_, _, err := ReadFrame(&buf)
	if err == nil {
		t.Fatal("expect error for bad version")
	}
	if !bytes.Contains([]byte(err.Error()), []byte("unsupported version")) {
		t.Errorf("error should mention 'unsupported version', got: %v", err)
	}
}

func TestDecodeEmptyBody(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, &Header{Type: FrameClose, Channel: 7}, nil); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	h, body, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if h.Type != FrameClose || h.Channel != 7 {
		t.Errorf("unexpected header %+v", h)
	}
	if len(body) != 0 {
		t.Errorf("Expected empty body, got length %d", len(body))
	}
}

func TestDecodeTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	frame := AppendFrame(nil, &Header{Type: FrameMessage}, []byte("abcdef"))
	buf.Write(frame[:len(frame)-2])

	if _, _, err := ReadFrame(&buf); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expect io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestAppendFrameBatches(t *testing.T) {
	var batch []byte
	batch = AppendFrame(batch, &Header{Type: FrameMessage, Channel: 1}, []byte("a"))
	batch = AppendFrame(batch, &Header{Type: FrameMessage, Channel: 2}, []byte("bc"))

	r := bytes.NewReader(batch)
	for i, want := range []string{"a", "bc"} {
		h, body, err := ReadFrame(r)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if h.Channel != uint32(i+1) || string(body) != want {
			t.Fatalf("frame %d: got channel %d body %q", i, h.Channel, body)
		}
	}
}

func TestOpenFrameRoundTrip(t *testing.T) {
	in := &OpenFrame{Protocol: "protomux-rpc", ID: []byte{1, 2}, Handshake: []byte("hello")}
	out, err := Decode(OpenEncoding, Encode(OpenEncoding, in))
	if err != nil {
		t.Fatal(err)
	}
	if out.Protocol != in.Protocol || !bytes.Equal(out.ID, in.ID) || !bytes.Equal(out.Handshake, in.Handshake) {
		t.Fatalf("got %+v, want %+v", out, in)
	}
}
