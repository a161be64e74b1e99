package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/turnseq/internal/transcript"
)

// SessionsOptions holds flags for the sessions command.
type SessionsOptions struct {
	*RootOptions
	Database   string
	Transcript string
}

// SessionInfo describes one stored session.
type SessionInfo struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	FormatVersion int       `json:"format_version"`
	Entries       int64     `json:"entries"`
	LastSeq       int64     `json:"last_seq"`
}

// NewSessionsCommand creates the sessions command.
func NewSessionsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SessionsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions in a replay log",
		Long: `List the sessions held by a replay log, oldest first.

A transcript holds exactly one session, named by its header line.

Examples:
  turnseq sessions --db ./turnseq.db
  turnseq sessions --transcript ./session.jsonl --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessions(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite replay log")
	cmd.Flags().StringVar(&opts.Transcript, "transcript", "", "path to JSONL transcript")
	cmd.MarkFlagsMutuallyExclusive("db", "transcript")
	cmd.MarkFlagsOneRequired("db", "transcript")

	return cmd
}

func runSessions(opts *SessionsOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		sessions []SessionInfo
		err      error
	)
	if opts.Transcript != "" {
		sessions, err = transcriptSessions(ctx, opts.Transcript)
	} else {
		sessions, err = databaseSessions(ctx, opts.Database)
	}
	if err != nil {
		return err
	}

	formatter := newFormatter(opts.RootOptions, cmd)
	if opts.Format == "json" {
		return formatter.Success(sessions)
	}

	w := formatter.Writer
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions found.")
		return nil
	}
	for _, s := range sessions {
		fmt.Fprintf(w, "%s  %s  %d entries (last seq %d)\n",
			s.ID, s.CreatedAt.Format(time.RFC3339), s.Entries, s.LastSeq)
	}
	return nil
}

func databaseSessions(ctx context.Context, path string) ([]SessionInfo, error) {
	st, err := openExistingStore(path)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	list, err := st.ListSessions(ctx)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to list sessions", err)
	}
	sessions := make([]SessionInfo, len(list))
	for i, s := range list {
		sessions[i] = SessionInfo{
			ID:            s.ID,
			CreatedAt:     s.CreatedAt,
			FormatVersion: s.FormatVersion,
			Entries:       s.Entries,
			LastSeq:       s.LastSeq,
		}
	}
	return sessions, nil
}

func transcriptSessions(ctx context.Context, path string) ([]SessionInfo, error) {
	loaded, err := loadTranscript(ctx, LogOptions{Transcript: path})
	if err != nil {
		return nil, err
	}
	meta, err := transcript.ReadMeta(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read transcript header", err)
	}

	info := SessionInfo{
		ID:            meta.SessionID,
		CreatedAt:     meta.CreatedAt,
		FormatVersion: meta.FormatVersion,
		Entries:       int64(len(loaded.Entries)),
	}
	if n := len(loaded.Entries); n > 0 {
		info.LastSeq = loaded.Entries[n-1].Seq
	}
	return []SessionInfo{info}, nil
}
