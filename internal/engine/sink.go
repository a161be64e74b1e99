package engine

import (
	"context"
	"iter"
	"sync"

	"github.com/roach88/turnseq/internal/ir"
)

// Sink receives committed entries in commit order, exactly once each. It
// must treat Commit as an ordered append and never reorder or mutate an
// entry it has already received.
type Sink interface {
	Commit(ctx context.Context, entry ir.HistoryEntry) error
}

// ReplayLog is the append-only durable record of committed entries.
//
// Append is called after the sink accepted the entry. An Append error halts
// the sequencer. Replay yields the committed sequence from the start; it is a
// pure read path and may be iterated any number of times.
type ReplayLog interface {
	Append(ctx context.Context, entry ir.HistoryEntry) error
	Replay(ctx context.Context) iter.Seq2[ir.HistoryEntry, error]
}

// KeyLimiter is implemented by replay logs that cannot store order key
// components above a limit. The Sequencer rejects such events at the
// ingestion boundary, before the sink sees anything the log would refuse.
type KeyLimiter interface {
	KeyLimit() uint64
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, entry ir.HistoryEntry) error

// Commit calls f.
func (f SinkFunc) Commit(ctx context.Context, entry ir.HistoryEntry) error {
	return f(ctx, entry)
}

// MemoryLog is an in-process ReplayLog. Safe for concurrent use.
type MemoryLog struct {
	mu      sync.Mutex
	entries []ir.HistoryEntry
}

// NewMemoryLog returns an empty log, optionally pre-filled with entries.
func NewMemoryLog(entries ...ir.HistoryEntry) *MemoryLog {
	return &MemoryLog{entries: append([]ir.HistoryEntry(nil), entries...)}
}

// Append records entry.
func (l *MemoryLog) Append(_ context.Context, entry ir.HistoryEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

// Replay yields a snapshot of the entries taken when iteration starts.
func (l *MemoryLog) Replay(ctx context.Context) iter.Seq2[ir.HistoryEntry, error] {
	return func(yield func(ir.HistoryEntry, error) bool) {
		for _, e := range l.Entries() {
			if err := ctx.Err(); err != nil {
				yield(ir.HistoryEntry{}, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// Entries returns a copy of the recorded entries.
func (l *MemoryLog) Entries() []ir.HistoryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ir.HistoryEntry(nil), l.entries...)
}

// Collect drains a replay sequence into a slice, stopping at the first error.
func Collect(seq iter.Seq2[ir.HistoryEntry, error]) ([]ir.HistoryEntry, error) {
	var out []ir.HistoryEntry
	for e, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, nil
}
