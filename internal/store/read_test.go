package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/roach88/turnseq/internal/ir"
)

func TestReplay_DetectsCorruption(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		if err := s.Append(ctx, testSession, testEntry(i, "A", "x")); err != nil {
			t.Fatalf("Append() failed: %v", err)
		}
	}

	// Bypass the append-only trigger to simulate on-disk damage.
	if _, err := s.db.Exec(`DROP TRIGGER entries_append_only`); err != nil {
		t.Fatalf("drop trigger: %v", err)
	}
	if _, err := s.db.Exec(`UPDATE entries SET content = 'tampered' WHERE seq = 2`); err != nil {
		t.Fatalf("update: %v", err)
	}

	var (
		seen    int
		lastErr error
	)
	for _, err := range s.Replay(ctx, testSession) {
		if err != nil {
			lastErr = err
			break
		}
		seen++
	}
	if !errors.Is(lastErr, ErrCorrupt) {
		t.Fatalf("Replay() error = %v, want ErrCorrupt", lastErr)
	}
	if seen != 1 {
		t.Errorf("yielded %d entries before the damaged one, want 1", seen)
	}
}

func TestReplay_StopsEarly(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		if err := s.Append(ctx, testSession, testEntry(i, "A", "x")); err != nil {
			t.Fatalf("Append() failed: %v", err)
		}
	}

	n := 0
	for range s.Replay(ctx, testSession) {
		n++
		if n == 2 {
			break
		}
	}

	// The connection must be free again after an early break.
	if err := s.Append(ctx, testSession, testEntry(6, "A", "x")); err != nil {
		t.Fatalf("Append() after early break failed: %v", err)
	}
}

func TestReplay_SessionsAreIsolated(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	other := "01934f4a-0000-7000-8000-000000000002"
	if err := s.CreateSession(ctx, other, time.Now()); err != nil {
		t.Fatalf("CreateSession() failed: %v", err)
	}

	if err := s.Append(ctx, testSession, testEntry(1, "A", "mine")); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	if err := s.Append(ctx, other, testEntry(1, "A", "theirs")); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	got := replayAll(t, s, other)
	if len(got) != 1 || got[0].Content != "theirs" {
		t.Errorf("Replay(other) = %+v", got)
	}
}

func TestListSessions(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	other := "01934f4a-0000-7000-8000-000000000002"
	if err := s.CreateSession(ctx, other, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("CreateSession() failed: %v", err)
	}
	for i := int64(1); i <= 2; i++ {
		if err := s.Append(ctx, testSession, testEntry(i, "A", "x")); err != nil {
			t.Fatalf("Append() failed: %v", err)
		}
	}

	sessions, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions() failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("len(sessions) = %d, want 2", len(sessions))
	}
	first := sessions[0]
	if first.ID != testSession || first.Entries != 2 || first.LastSeq != 2 {
		t.Errorf("sessions[0] = %+v", first)
	}
	if first.FormatVersion != ir.FormatVersion {
		t.Errorf("FormatVersion = %d, want %d", first.FormatVersion, ir.FormatVersion)
	}
	if !first.CreatedAt.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v", first.CreatedAt)
	}
	if sessions[1].Entries != 0 || sessions[1].LastSeq != 0 {
		t.Errorf("sessions[1] = %+v, want empty", sessions[1])
	}

	last, err := s.LastSeq(ctx, testSession)
	if err != nil || last != 2 {
		t.Errorf("LastSeq() = %d, %v; want 2", last, err)
	}
	ok, err := s.HasSession(ctx, "missing")
	if err != nil || ok {
		t.Errorf("HasSession(missing) = %v, %v", ok, err)
	}
}
