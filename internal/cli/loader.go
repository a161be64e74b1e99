package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/turnseq/internal/engine"
	"github.com/roach88/turnseq/internal/ir"
	"github.com/roach88/turnseq/internal/store"
	"github.com/roach88/turnseq/internal/transcript"
)

// LogOptions selects a replay log: a SQLite database (many sessions) or a
// JSONL transcript (one session). Exactly one of Database and Transcript is
// set.
type LogOptions struct {
	Database   string
	Transcript string
	Session    string // optional - a single session
}

// addLogFlags registers --db, --transcript and --session on cmd.
func addLogFlags(cmd *cobra.Command, opts *LogOptions) {
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite replay log")
	cmd.Flags().StringVar(&opts.Transcript, "transcript", "", "path to JSONL transcript")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session id")
	cmd.MarkFlagsMutuallyExclusive("db", "transcript")
	cmd.MarkFlagsOneRequired("db", "transcript")
}

// LoadedSession is one session read back from a replay log.
type LoadedSession struct {
	ID      string
	Entries []ir.HistoryEntry
}

// LoadSessions reads every selected session in commit order. A missing log
// file or an unknown session is a command error.
func LoadSessions(ctx context.Context, opts LogOptions) ([]LoadedSession, error) {
	if opts.Transcript != "" {
		s, err := loadTranscript(ctx, opts)
		if err != nil {
			return nil, err
		}
		return []LoadedSession{s}, nil
	}

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	ids, err := selectSessions(ctx, st, opts.Session)
	if err != nil {
		return nil, err
	}

	sessions := make([]LoadedSession, 0, len(ids))
	for _, id := range ids {
		entries, err := engine.Collect(st.Replay(ctx, id))
		if err != nil {
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to read session %s", id), err)
		}
		sessions = append(sessions, LoadedSession{ID: id, Entries: entries})
	}
	return sessions, nil
}

// requireFile fails with a command error unless path exists.
func requireFile(path, what string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewExitError(ExitCommandError, fmt.Sprintf("%s not found: %s", what, path))
		}
		return WrapExitError(ExitCommandError, "failed to access "+what, err)
	}
	return nil
}

// openExistingStore opens a database that must already exist; store.Open
// would otherwise create an empty one.
func openExistingStore(path string) (*store.Store, error) {
	if err := requireFile(path, "database"); err != nil {
		return nil, err
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func selectSessions(ctx context.Context, st *store.Store, session string) ([]string, error) {
	if session != "" {
		ok, err := st.HasSession(ctx, session)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to look up session", err)
		}
		if !ok {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("session not found: %s", session))
		}
		return []string{session}, nil
	}

	list, err := st.ListSessions(ctx)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to list sessions", err)
	}
	ids := make([]string, len(list))
	for i, s := range list {
		ids[i] = s.ID
	}
	return ids, nil
}

func loadTranscript(ctx context.Context, opts LogOptions) (LoadedSession, error) {
	if err := requireFile(opts.Transcript, "transcript"); err != nil {
		return LoadedSession{}, err
	}
	meta, err := transcript.ReadMeta(opts.Transcript)
	if err != nil {
		return LoadedSession{}, WrapExitError(ExitCommandError, "failed to read transcript header", err)
	}
	if opts.Session != "" && opts.Session != meta.SessionID {
		return LoadedSession{}, NewExitError(ExitCommandError,
			fmt.Sprintf("session not found: %s (transcript holds %s)", opts.Session, meta.SessionID))
	}

	entries, err := engine.Collect(transcript.Read(ctx, opts.Transcript))
	if err != nil {
		return LoadedSession{}, WrapExitError(ExitCommandError, "failed to read transcript", err)
	}
	return LoadedSession{ID: meta.SessionID, Entries: entries}, nil
}
