package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/turnseq/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string            // Assertion type for categorization
	Expected string            // Human-readable expected outcome
	Actual   string            // Human-readable actual outcome
	Entries  []ir.HistoryEntry // Committed history for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nCommitted history:\n")
	for _, entry := range e.Entries {
		fmt.Fprintf(&buf, "  %s\n", entry)
	}

	return buf.String()
}

// Matches reports whether e satisfies every field set in m.
func (m Match) Matches(e ir.HistoryEntry) bool {
	if m.Kind != "" && m.Kind != e.Kind {
		return false
	}
	if m.Stream != "" && ir.StreamID(m.Stream) != e.StreamID {
		return false
	}
	if m.Call != "" && m.Call != e.CallID {
		return false
	}
	if m.Content != nil && *m.Content != e.Content {
		return false
	}
	if m.Synthetic != nil && *m.Synthetic != e.Synthetic {
		return false
	}
	return true
}

func (m Match) String() string {
	var parts []string
	if m.Kind != "" {
		parts = append(parts, "kind="+string(m.Kind))
	}
	if m.Stream != "" {
		parts = append(parts, "stream="+m.Stream)
	}
	if m.Call != "" {
		parts = append(parts, "call="+m.Call)
	}
	if m.Content != nil {
		parts = append(parts, fmt.Sprintf("content=%q", *m.Content))
	}
	if m.Synthetic != nil {
		parts = append(parts, fmt.Sprintf("synthetic=%t", *m.Synthetic))
	}
	if len(parts) == 0 {
		return "{any}"
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// assertCommitOrder checks that each matcher is satisfied by a distinct
// entry, in order. Other entries may appear in between.
func assertCommitOrder(entries []ir.HistoryEntry, assertion Assertion) error {
	next := 0
	for _, e := range entries {
		if next < len(assertion.Entries) && assertion.Entries[next].Matches(e) {
			next++
		}
	}
	if next == len(assertion.Entries) {
		return nil
	}
	return &AssertionError{
		Type:     AssertCommitOrder,
		Expected: fmt.Sprintf("entries in order: %v", assertion.Entries),
		Actual:   fmt.Sprintf("no entry matching %s after the first %d matched", assertion.Entries[next], next),
		Entries:  entries,
	}
}

// assertKinds checks the exact sequence of committed kinds.
func assertKinds(entries []ir.HistoryEntry, assertion Assertion) error {
	kinds := make([]ir.EntryKind, len(entries))
	for i, e := range entries {
		kinds[i] = e.Kind
	}
	if slices.Equal(kinds, assertion.Kinds) {
		return nil
	}
	return &AssertionError{
		Type:     AssertKinds,
		Expected: fmt.Sprintf("%v", assertion.Kinds),
		Actual:   fmt.Sprintf("%v", kinds),
		Entries:  entries,
	}
}

// assertCount checks the number of entries matching the assertion's entry.
func assertCount(entries []ir.HistoryEntry, assertion Assertion) error {
	count := 0
	for _, e := range entries {
		if assertion.Entry.Matches(e) {
			count++
		}
	}
	if count == *assertion.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertCount,
		Expected: fmt.Sprintf("%d entries matching %s", *assertion.Count, assertion.Entry),
		Actual:   fmt.Sprintf("%d", count),
		Entries:  entries,
	}
}

// assertNeverCommitted checks that no entry matches.
func assertNeverCommitted(entries []ir.HistoryEntry, assertion Assertion) error {
	for _, e := range entries {
		if assertion.Entry.Matches(e) {
			return &AssertionError{
				Type:     AssertNeverCommitted,
				Expected: fmt.Sprintf("no entry matching %s", assertion.Entry),
				Actual:   fmt.Sprintf("committed %s", e),
				Entries:  entries,
			}
		}
	}
	return nil
}

// assertState checks the final controller state and pending count.
func assertState(result *Result, assertion Assertion) error {
	if assertion.State != "" && assertion.State != result.State {
		return &AssertionError{
			Type:     AssertState,
			Expected: "state " + assertion.State,
			Actual:   "state " + result.State,
			Entries:  result.Entries,
		}
	}
	if assertion.Pending != nil && *assertion.Pending != result.Pending {
		return &AssertionError{
			Type:     AssertState,
			Expected: fmt.Sprintf("%d pending invocations", *assertion.Pending),
			Actual:   fmt.Sprintf("%d pending invocations", result.Pending),
			Entries:  result.Entries,
		}
	}
	return nil
}

// EvaluateAssertions runs every assertion against the result and returns
// the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, assertion := range assertions {
		var err error
		switch assertion.Type {
		case AssertCommitOrder:
			err = assertCommitOrder(result.Entries, assertion)
		case AssertKinds:
			err = assertKinds(result.Entries, assertion)
		case AssertCount:
			err = assertCount(result.Entries, assertion)
		case AssertNeverCommitted:
			err = assertNeverCommitted(result.Entries, assertion)
		case AssertState:
			err = assertState(result, assertion)
		default:
			err = fmt.Errorf("unknown assertion type %q", assertion.Type)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return failures
}
