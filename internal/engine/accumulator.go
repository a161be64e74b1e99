package engine

import (
	"slices"
	"strings"

	"github.com/roach88/turnseq/internal/ir"
)

// Accumulator folds the deltas of one stream into its running value.
//
// Deltas are kept sorted by order key regardless of arrival order, and a
// repeated key is a retransmission that is ignored. Once closed or truncated
// the accumulator accepts nothing further.
type Accumulator struct {
	stream ir.StreamID
	parts  []part
	closed bool
}

type part struct {
	key  ir.OrderKey
	text string
}

// NewAccumulator creates an empty accumulator for stream.
func NewAccumulator(stream ir.StreamID) *Accumulator {
	return &Accumulator{stream: stream}
}

// Stream returns the stream this accumulator folds.
func (a *Accumulator) Stream() ir.StreamID {
	return a.stream
}

// Add inserts a delta at its key. It reports false when the accumulator is
// closed or already holds a delta with the same key.
func (a *Accumulator) Add(key ir.OrderKey, text string) bool {
	if a.closed {
		return false
	}
	i, found := slices.BinarySearchFunc(a.parts, key, func(p part, k ir.OrderKey) int {
		return p.key.Compare(k)
	})
	if found {
		return false
	}
	a.parts = slices.Insert(a.parts, i, part{key: key, text: text})
	return true
}

// Content returns the concatenation of every delta in key order.
func (a *Accumulator) Content() string {
	var b strings.Builder
	for _, p := range a.parts {
		b.WriteString(p.text)
	}
	return b.String()
}

// Len returns the number of distinct deltas held.
func (a *Accumulator) Len() int {
	return len(a.parts)
}

// LastKey returns the highest delta key, or the zero key when empty.
func (a *Accumulator) LastKey() ir.OrderKey {
	if len(a.parts) == 0 {
		return ir.OrderKey{}
	}
	return a.parts[len(a.parts)-1].key
}

// Closed reports whether Close or Truncate has been called.
func (a *Accumulator) Closed() bool {
	return a.closed
}

// Close merges the deltas ordered before the final's key with the final's
// content and returns the committed text, plus the number of deltas keyed
// after the final, which are discarded.
//
// Merge rule: an empty final yields the accumulated text; a final that already
// starts with the accumulated text replaces it; otherwise the final's content
// is appended.
func (a *Accumulator) Close(final ir.Final) (string, int) {
	var acc strings.Builder
	dropped := 0
	for _, p := range a.parts {
		if p.key.Less(final.Key) {
			acc.WriteString(p.text)
		} else {
			dropped++
		}
	}
	a.closed = true
	return mergeFinal(acc.String(), final.Content), dropped
}

// DropAfter discards every delta keyed after key and returns how many were
// discarded.
func (a *Accumulator) DropAfter(key ir.OrderKey) int {
	kept := a.parts[:0]
	for _, p := range a.parts {
		if !key.Less(p.key) {
			kept = append(kept, p)
		}
	}
	dropped := len(a.parts) - len(kept)
	clear(a.parts[len(kept):])
	a.parts = kept
	return dropped
}

// Truncate closes the accumulator early and returns its content followed by
// marker.
func (a *Accumulator) Truncate(marker string) string {
	a.closed = true
	return a.Content() + marker
}

func mergeFinal(accumulated, final string) string {
	switch {
	case final == "":
		return accumulated
	case strings.HasPrefix(final, accumulated):
		return final
	default:
		return accumulated + final
	}
}
