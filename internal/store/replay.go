package store

import (
	"context"
	"iter"

	"github.com/roach88/turnseq/internal/ir"
)

// Log binds a Store to one session. It satisfies engine.ReplayLog.
type Log struct {
	store   *Store
	session string
}

// Log returns the replay log of a session. The session must have been
// created with CreateSession before the first Append.
func (s *Store) Log(session string) *Log {
	return &Log{store: s, session: session}
}

// Session returns the session id.
func (l *Log) Session() string {
	return l.session
}

// Append records entry in the session.
func (l *Log) Append(ctx context.Context, entry ir.HistoryEntry) error {
	return l.store.Append(ctx, l.session, entry)
}

// KeyLimit reports MaxKeyComponent, so a Sequencer rejects unstorable keys
// when they are ingested.
func (l *Log) KeyLimit() uint64 {
	return MaxKeyComponent
}

// Replay yields the session's entries in commit order.
func (l *Log) Replay(ctx context.Context) iter.Seq2[ir.HistoryEntry, error] {
	return l.store.Replay(ctx, l.session)
}
