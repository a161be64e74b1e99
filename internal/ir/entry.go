package ir

import "fmt"

// EntryKind classifies committed history entries.
type EntryKind string

const (
	// EntryMessage is the folded text of a finalized stream.
	EntryMessage EntryKind = "message"

	// EntryPartial is an unfinalized snapshot of a stream, committed only
	// when partial commits are enabled.
	EntryPartial EntryKind = "partial"

	// EntryInvocation is a tool or command call sent upstream.
	EntryInvocation EntryKind = "invocation"

	// EntryInvocationResult is the result paired with the preceding
	// invocation, real or synthetic.
	EntryInvocationResult EntryKind = "invocation_result"

	// EntryNotice is a background or diagnostic note.
	EntryNotice EntryKind = "notice"

	// EntryTurnEnd records that a turn was closed. Content is one of the
	// TurnEnd* reasons.
	EntryTurnEnd EntryKind = "turn_end"
)

// Valid reports whether k is one of the entry kinds above.
func (k EntryKind) Valid() bool {
	switch k {
	case EntryMessage, EntryPartial, EntryInvocation, EntryInvocationResult, EntryNotice, EntryTurnEnd:
		return true
	}
	return false
}

// Turn end reasons stored as the content of an EntryTurnEnd.
const (
	TurnEndCompleted   = "completed"
	TurnEndInterrupted = "interrupted"
	TurnEndSuperseded  = "superseded"
)

// HistoryEntry is the immutable unit handed to the sink and the replay log.
//
// Seq is the commit sequence number assigned by the sequencer, starting at 1
// and increasing by one per commit. Key is the order key of the event that
// produced the entry; result entries reuse their invocation's key.
type HistoryEntry struct {
	Seq       int64     `json:"seq"`
	Key       OrderKey  `json:"order_key"`
	StreamID  StreamID  `json:"stream_id"`
	Kind      EntryKind `json:"kind"`
	Content   string    `json:"content"`
	Finalized bool      `json:"finalized"`
	CallID    string    `json:"call_id"`
	Synthetic bool      `json:"synthetic"`
}

// Terminal reports whether the entry closes its stream. Entries without a
// stream never close anything.
func (e HistoryEntry) Terminal() bool {
	return e.Finalized && e.StreamID != ""
}

// String is a compact single-line rendering for logs and traces.
func (e HistoryEntry) String() string {
	s := fmt.Sprintf("#%d %s %s", e.Seq, e.Key, e.Kind)
	if e.StreamID != "" {
		s += " stream=" + string(e.StreamID)
	}
	if e.CallID != "" {
		s += " call=" + e.CallID
	}
	if e.Synthetic {
		s += " synthetic"
	}
	return s
}

// canonicalValue maps the entry onto plain values for MarshalCanonical. Every
// field is always present so the encoding is shape-stable.
func (e HistoryEntry) canonicalValue() map[string]any {
	return map[string]any{
		"seq": e.Seq,
		"order_key": map[string]any{
			"request_ordinal": e.Key.RequestOrdinal,
			"output_index":    e.Key.OutputIndex,
			"sequence_number": e.Key.SequenceNumber,
		},
		"stream_id": string(e.StreamID),
		"kind":      string(e.Kind),
		"content":   e.Content,
		"finalized": e.Finalized,
		"call_id":   e.CallID,
		"synthetic": e.Synthetic,
	}
}

// Canonical returns the canonical JSON encoding of the entry.
func (e HistoryEntry) Canonical() ([]byte, error) {
	b, err := MarshalCanonical(e.canonicalValue())
	if err != nil {
		return nil, fmt.Errorf("entry %d: %w", e.Seq, err)
	}
	return b, nil
}
