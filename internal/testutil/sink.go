package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/turnseq/internal/ir"
)

// ErrInjected is returned by sinks configured to fail.
var ErrInjected = errors.New("injected failure")

// RecordingSink records every committed entry in delivery order. It
// satisfies engine.Sink. Set FailAt to make the n-th commit (1-based) fail.
type RecordingSink struct {
	mu      sync.Mutex
	entries []ir.HistoryEntry
	calls   int

	FailAt int
}

// Commit records entry, or fails with ErrInjected on the FailAt-th call.
func (s *RecordingSink) Commit(_ context.Context, entry ir.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.FailAt > 0 && s.calls == s.FailAt {
		return ErrInjected
	}
	s.entries = append(s.entries, entry)
	return nil
}

// Entries returns a copy of the recorded entries.
func (s *RecordingSink) Entries() []ir.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ir.HistoryEntry(nil), s.entries...)
}

// Kinds returns the kind of every recorded entry, in order.
func (s *RecordingSink) Kinds() []ir.EntryKind {
	var kinds []ir.EntryKind
	for _, e := range s.Entries() {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

// ByStream returns the recorded entries of one stream.
func (s *RecordingSink) ByStream(stream ir.StreamID) []ir.HistoryEntry {
	var out []ir.HistoryEntry
	for _, e := range s.Entries() {
		if e.StreamID == stream {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of recorded entries.
func (s *RecordingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
