package harness

import (
	"fmt"

	"github.com/roach88/turnseq/internal/ir"
)

// Invariant names reported in violations.
const (
	InvariantSequence = "sequence"
	InvariantOrdering = "ordering"
	InvariantPairing  = "pairing"
	InvariantTerminal = "terminal"
	InvariantReplay   = "replay"
)

// Violation is one invariant failure in a committed sequence.
type Violation struct {
	Invariant string `json:"invariant"`
	Seq       int64  `json:"seq"`
	Message   string `json:"message"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s at #%d: %s", v.Invariant, v.Seq, v.Message)
}

// CheckInvariants checks a committed sequence, live or replayed:
//
//   - sequence: seq numbers are contiguous
//   - ordering: keys never decrease, tracked separately for producer
//     notices; synthetic notices are positional and not checked
//   - pairing: an invocation is followed by its result before any other
//     non-notice entry
//   - terminal: nothing is committed for a stream after its finalized entry
//
// An invocation still open at the end of the sequence is not a violation;
// a resumed session resolves it.
func CheckInvariants(entries []ir.HistoryEntry) []Violation {
	var (
		violations []Violation
		frontier   ir.OrderKey
		notices    ir.OrderKey
		open       *ir.HistoryEntry
		terminal   = make(map[ir.StreamID]int64)
	)
	report := func(invariant string, e ir.HistoryEntry, format string, args ...any) {
		violations = append(violations, Violation{
			Invariant: invariant,
			Seq:       e.Seq,
			Message:   fmt.Sprintf(format, args...),
		})
	}

	for i, e := range entries {
		if i > 0 && e.Seq != entries[i-1].Seq+1 {
			report(InvariantSequence, e, "follows #%d", entries[i-1].Seq)
		}
		if i == 0 && e.Seq < 1 {
			report(InvariantSequence, e, "sequence numbers start at 1")
		}

		switch {
		case e.Kind != ir.EntryNotice:
			if e.Key.Less(frontier) {
				report(InvariantOrdering, e, "key %s below committed %s", e.Key, frontier)
			}
			frontier = ir.MaxKey(frontier, e.Key)
		case !e.Synthetic:
			if e.Key.Less(notices) {
				report(InvariantOrdering, e, "notice key %s below committed notice %s", e.Key, notices)
			}
			notices = ir.MaxKey(notices, e.Key)
		}

		if e.StreamID != "" {
			if at, done := terminal[e.StreamID]; done {
				report(InvariantTerminal, e, "stream %s already finalized at #%d", e.StreamID, at)
			} else if e.Terminal() {
				terminal[e.StreamID] = e.Seq
			}
		}

		switch e.Kind {
		case ir.EntryNotice:
		case ir.EntryInvocation:
			if open != nil {
				report(InvariantPairing, e, "invocation %s committed while %s is unresolved", e.CallID, open.CallID)
			}
			open = &entries[i]
		case ir.EntryInvocationResult:
			switch {
			case open == nil:
				report(InvariantPairing, e, "result for %s without an open invocation", e.CallID)
			case open.CallID != e.CallID:
				report(InvariantPairing, e, "result for %s while %s is unresolved", e.CallID, open.CallID)
			}
			open = nil
		default:
			if open != nil {
				report(InvariantPairing, e, "%s committed while %s is unresolved", e.Kind, open.CallID)
			}
		}
	}
	return violations
}
