package message

import (
	"mux-rpc/protocol"
)

const flagError = 1 << 0

type requestEncoding struct{}

// RequestEncoding is the two-phase wire codec for Request.
var RequestEncoding protocol.Encoding[*Request] = requestEncoding{}

func (requestEncoding) Preencode(s *protocol.State, m *Request) {
	s.PreencodeUint(m.ID)
	s.PreencodeString(m.Method)
	s.PreencodeBytes(m.Value)
}

func (requestEncoding) Encode(s *protocol.State, m *Request) {
	s.EncodeUint(m.ID)
	s.EncodeString(m.Method)
	s.EncodeBytes(m.Value)
}

func (requestEncoding) Decode(s *protocol.State) (*Request, error) {
	var (
		m   Request
		err error
	)
	if m.ID, err = s.DecodeUint(); err != nil {
		return nil, err
	}
	if m.Method, err = s.DecodeString(); err != nil {
		return nil, err
	}
	if m.Value, err = s.DecodeBytes(); err != nil {
		return nil, err
	}
	return &m, nil
}

type responseEncoding struct{}

// ResponseEncoding is the two-phase wire codec for Response.
var ResponseEncoding protocol.Encoding[*Response] = responseEncoding{}

func (responseEncoding) Preencode(s *protocol.State, m *Response) {
	s.PreencodeFlags()
	s.PreencodeUint(m.ID)
	if m.IsError {
		s.PreencodeString(m.Error)
	} else {
		s.PreencodeBytes(m.Value)
	}
}

func (responseEncoding) Encode(s *protocol.State, m *Response) {
	s.EncodeFlags(m.IsError)
	s.EncodeUint(m.ID)
	if m.IsError {
		s.EncodeString(m.Error)
	} else {
		s.EncodeBytes(m.Value)
	}
}

// Decode branches on the error flag before touching the rest of the body.
// Reserved flag bits are ignored.
func (responseEncoding) Decode(s *protocol.State) (*Response, error) {
	flags, err := s.DecodeFlags()
	if err != nil {
		return nil, err
	}

	m := Response{IsError: flags&flagError != 0}
	if m.ID, err = s.DecodeUint(); err != nil {
		return nil, err
	}
	if m.IsError {
		m.Error, err = s.DecodeString()
	} else {
		m.Value, err = s.DecodeBytes()
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func EncodeRequest(m *Request) []byte {
	return protocol.Encode(RequestEncoding, m)
}

func DecodeRequest(data []byte) (*Request, error) {
	return protocol.Decode(RequestEncoding, data)
}

func EncodeResponse(m *Response) []byte {
	return protocol.Encode(ResponseEncoding, m)
}

func DecodeResponse(data []byte) (*Response, error) {
	return protocol.Decode(ResponseEncoding, data)
}
