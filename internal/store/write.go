package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/turnseq/internal/ir"
)

// CreateSession registers a session id. Creating an existing session is a
// no-op, so a resumed run can call it unconditionally.
func (s *Store) CreateSession(ctx context.Context, id string, createdAt time.Time) error {
	if id == "" {
		return errors.New("create session: empty id")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, created_at, format_version)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		id,
		createdAt.UTC().Format(time.RFC3339Nano),
		ir.FormatVersion,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// Append records one committed entry for a session.
//
// Uses ON CONFLICT(session_id, seq) DO NOTHING so re-appending the same entry
// is idempotent. If a different entry already occupies the seq, the stored
// digest differs and ErrDivergent is returned.
func (s *Store) Append(ctx context.Context, session string, e ir.HistoryEntry) error {
	args, err := entryArgs(e)
	if err != nil {
		return fmt.Errorf("append entry %d: %w", e.Seq, err)
	}
	digest := args[len(args)-1].(string)

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO entries
		(session_id, seq, request_ordinal, output_index, sequence_number,
		 stream_id, kind, content, finalized, call_id, synthetic, digest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, seq) DO NOTHING
	`, append([]any{session, e.Seq}, args...)...)
	if err != nil {
		return fmt.Errorf("append entry %d: %w", e.Seq, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("append entry %d: rows affected: %w", e.Seq, err)
	}
	if n == 1 {
		return nil
	}

	var stored string
	err = s.db.QueryRowContext(ctx,
		`SELECT digest FROM entries WHERE session_id = ? AND seq = ?`,
		session, e.Seq,
	).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("append entry %d: conflict but no stored row", e.Seq)
	}
	if err != nil {
		return fmt.Errorf("append entry %d: read existing: %w", e.Seq, err)
	}
	if stored != digest {
		return fmt.Errorf("append entry %d: %w", e.Seq, ErrDivergent)
	}
	return nil
}
