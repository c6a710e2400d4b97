// Package message defines the two messages exchanged on an rpc channel and
// their wire encoding.
//
// Request layout:  uint id | string method | bytes value
// Response layout: flags (bit 0 = error) | uint id | string error OR bytes value
//
// Values are opaque here: they are whatever bytes the value encoding produced.
package message

// Request asks the peer to run method. ID 0 marks an event: the peer runs
// the handler but never answers.
type Request struct {
	ID     uint64
	Method string
	Value  []byte
}

// IsEvent reports whether no response is expected.
func (r *Request) IsEvent() bool {
	return r.ID == 0
}

// Response answers the request with the same ID.
//
//   - IsError set:   Error holds the failure text, Value is nil.
//   - IsError unset: Value holds the encoded result, Error is empty.
type Response struct {
	ID      uint64
	IsError bool
	Error   string
	Value   []byte
}
