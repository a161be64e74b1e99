package store

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/roach88/turnseq/internal/ir"
)

// Session summarizes one stored session.
type Session struct {
	ID            string
	CreatedAt     time.Time
	FormatVersion int
	Entries       int64
	LastSeq       int64
}

// Replay yields a session's entries in commit order (ORDER BY seq ASC).
// Each row is checked against its stored digest; a mismatch yields an error
// wrapping ErrCorrupt and stops iteration.
//
// The store has a single connection, so the caller must not write to the
// store while iterating.
func (s *Store) Replay(ctx context.Context, session string) iter.Seq2[ir.HistoryEntry, error] {
	return func(yield func(ir.HistoryEntry, error) bool) {
		rows, err := s.db.QueryContext(ctx, `
			SELECT `+entryColumns+`
			FROM entries
			WHERE session_id = ?
			ORDER BY seq ASC
		`, session)
		if err != nil {
			yield(ir.HistoryEntry{}, fmt.Errorf("query entries: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			e, stored, err := scanEntry(rows)
			if err != nil {
				yield(ir.HistoryEntry{}, err)
				return
			}
			digest, err := ir.EntryDigest(e)
			if err != nil {
				yield(ir.HistoryEntry{}, fmt.Errorf("entry %d: %w", e.Seq, err))
				return
			}
			if digest != stored {
				yield(ir.HistoryEntry{}, fmt.Errorf("entry %d: %w", e.Seq, ErrCorrupt))
				return
			}
			if !yield(e, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(ir.HistoryEntry{}, fmt.Errorf("iterate entries: %w", err))
		}
	}
}

// ListSessions returns every session ordered by id. UUIDv7 ids sort by
// creation time.
//
// Returns an empty slice (not nil) if there are no sessions.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.created_at, s.format_version,
		       COUNT(e.seq), COALESCE(MAX(e.seq), 0)
		FROM sessions s
		LEFT JOIN entries e ON e.session_id = s.id
		GROUP BY s.id
		ORDER BY s.id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var (
			sess    Session
			created string
		)
		if err := rows.Scan(&sess.ID, &created, &sess.FormatVersion, &sess.Entries, &sess.LastSeq); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("session %s: created_at: %w", sess.ID, err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// LastSeq returns the highest committed seq of a session, or 0.
func (s *Store) LastSeq(ctx context.Context, session string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM entries WHERE session_id = ?`,
		session,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq, nil
}

// HasSession reports whether id has been created.
func (s *Store) HasSession(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has session: %w", err)
	}
	return n > 0, nil
}
