package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/turnseq/internal/ir"
)

const testSession = "01934f4a-0000-7000-8000-000000000001"

// createTestStore creates a new file-backed store with one session.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.CreateSession(context.Background(), testSession, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("CreateSession() failed: %v", err)
	}
	return s
}

// testEntry creates a finalized message entry.
func testEntry(seq int64, stream, content string) ir.HistoryEntry {
	return ir.HistoryEntry{
		Seq:       seq,
		Key:       ir.Key(1, 0, uint64(seq)),
		StreamID:  ir.StreamID(stream),
		Kind:      ir.EntryMessage,
		Content:   content,
		Finalized: true,
	}
}

func replayAll(t *testing.T, s *Store, session string) []ir.HistoryEntry {
	t.Helper()
	var out []ir.HistoryEntry
	for e, err := range s.Replay(context.Background(), session) {
		if err != nil {
			t.Fatalf("Replay() failed: %v", err)
		}
		out = append(out, e)
	}
	return out
}
