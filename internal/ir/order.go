package ir

import (
	"cmp"
	"fmt"
)

// OrderKey is the position of an event in the global commit order.
//
// Keys compare lexicographically: RequestOrdinal first, then OutputIndex, then
// SequenceNumber. RequestOrdinal increases once per user turn, OutputIndex
// separates concurrent model outputs inside a turn, and SequenceNumber orders
// deltas inside one output.
//
// A repeated key denotes a retransmission of the same logical event.
type OrderKey struct {
	RequestOrdinal uint64 `json:"request_ordinal" msgpack:"req" yaml:"req"`
	OutputIndex    uint32 `json:"output_index" msgpack:"out" yaml:"out"`
	SequenceNumber uint64 `json:"sequence_number" msgpack:"seq" yaml:"seq"`
}

// Key is a convenience constructor used heavily in tests and scenarios.
func Key(req uint64, out uint32, seq uint64) OrderKey {
	return OrderKey{RequestOrdinal: req, OutputIndex: out, SequenceNumber: seq}
}

// Compare returns -1, 0, or +1 depending on whether k sorts before, equal to,
// or after other.
func (k OrderKey) Compare(other OrderKey) int {
	if c := cmp.Compare(k.RequestOrdinal, other.RequestOrdinal); c != 0 {
		return c
	}
	if c := cmp.Compare(k.OutputIndex, other.OutputIndex); c != 0 {
		return c
	}
	return cmp.Compare(k.SequenceNumber, other.SequenceNumber)
}

// Less reports whether k sorts strictly before other.
func (k OrderKey) Less(other OrderKey) bool {
	return k.Compare(other) < 0
}

// IsZero reports whether no component of the key is populated.
func (k OrderKey) IsZero() bool {
	return k == OrderKey{}
}

// String renders the key in the "req=1 out=2 seq=3" form used in logs.
func (k OrderKey) String() string {
	return fmt.Sprintf("req=%d out=%d seq=%d", k.RequestOrdinal, k.OutputIndex, k.SequenceNumber)
}

// MaxKey returns the larger of two keys.
func MaxKey(a, b OrderKey) OrderKey {
	if a.Less(b) {
		return b
	}
	return a
}

// StreamID names one evolving item: one reasoning block, one answer block or
// one tool call. It is assigned by the producer and must be non-empty.
type StreamID string

// Valid reports whether the id can be ingested.
func (id StreamID) Valid() bool {
	return id != ""
}
