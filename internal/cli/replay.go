package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/turnseq/internal/engine"
	"github.com/roach88/turnseq/internal/harness"
	"github.com/roach88/turnseq/internal/ir"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	LogOptions
}

// ReplaySessionResult holds the replay result for a single session.
type ReplaySessionResult struct {
	SessionID     string   `json:"session_id"`
	Entries       int      `json:"entries"`
	Pending       int      `json:"pending"`
	Digest        string   `json:"digest"`
	Deterministic bool     `json:"deterministic"`
	Violations    []string `json:"violations,omitempty"`
}

// Verified reports whether the session replayed deterministically and
// without invariant violations.
func (r ReplaySessionResult) Verified() bool {
	return r.Deterministic && len(r.Violations) == 0
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Sessions      []ReplaySessionResult `json:"sessions"`
	TotalSessions int                   `json:"total_sessions"`
	AllVerified   bool                  `json:"all_verified"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a log and verify it",
		Long: `Replay a persisted history and verify it.

Each session is read twice and the two digest chains compared. The
history is then checked for contiguous sequence numbers, non-decreasing
order keys, invocation/result pairing, and no commits after a stream's
finalized entry. Finally the sequencer is seeded from the log, as a
resumed run would be, to report pending invocations.

Exit codes:
  0 - All sessions verified
  1 - Verification failed (divergent replay or invariant violation)
  2 - Command error (log not found, unreadable entries, etc.)

Examples:
  turnseq replay --db ./turnseq.db
  turnseq replay --db ./turnseq.db --session 0192f0c1-...
  turnseq replay --transcript ./session.jsonl --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	addLogFlags(cmd, &opts.LogOptions)

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	first, err := LoadSessions(ctx, opts.LogOptions)
	if err != nil {
		return err
	}
	second, err := LoadSessions(ctx, opts.LogOptions)
	if err != nil {
		return err
	}
	if len(first) != len(second) {
		return NewExitError(ExitFailure,
			fmt.Sprintf("session count changed between replays: %d then %d", len(first), len(second)))
	}

	result := ReplayResult{
		Sessions:      make([]ReplaySessionResult, 0, len(first)),
		TotalSessions: len(first),
		AllVerified:   true,
	}

	for i := range first {
		sr, err := verifySession(ctx, first[i], second[i])
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay session %s", first[i].ID), err)
		}
		result.Sessions = append(result.Sessions, sr)
		if !sr.Verified() {
			result.AllVerified = false
		}
	}

	formatter := newFormatter(opts.RootOptions, cmd)
	if opts.Format == "json" {
		if err := formatter.Result(result.AllVerified, result, CodeReplay, "replay verification failed"); err != nil {
			return err
		}
	} else {
		outputReplayText(formatter, result)
	}

	if !result.AllVerified {
		return NewExitError(ExitFailure, "replay verification failed")
	}
	return nil
}

// verifySession compares two reads of one session and checks the history
// invariants.
func verifySession(ctx context.Context, a, b LoadedSession) (ReplaySessionResult, error) {
	digestA, err := ir.TranscriptDigest(a.Entries)
	if err != nil {
		return ReplaySessionResult{}, err
	}
	digestB, err := ir.TranscriptDigest(b.Entries)
	if err != nil {
		return ReplaySessionResult{}, err
	}

	sr := ReplaySessionResult{
		SessionID:     a.ID,
		Entries:       len(a.Entries),
		Digest:        digestA,
		Deterministic: a.ID == b.ID && len(a.Entries) == len(b.Entries) && digestA == digestB,
	}
	for _, v := range harness.CheckInvariants(a.Entries) {
		sr.Violations = append(sr.Violations, v.String())
	}

	// Seeding rebuilds pending invocations exactly as a resumed run would.
	seq := engine.New(engine.SinkFunc(discard), engine.NewMemoryLog(a.Entries...))
	if err := seq.Seed(ctx); err != nil {
		sr.Violations = append(sr.Violations, fmt.Sprintf("resume: %v", err))
		return sr, nil
	}
	sr.Pending = seq.Pending()
	return sr, nil
}

func discard(context.Context, ir.HistoryEntry) error { return nil }

// outputReplayText outputs the replay result as text.
func outputReplayText(f *OutputFormatter, result ReplayResult) {
	w := f.Writer

	if result.TotalSessions == 0 {
		fmt.Fprintln(w, "No sessions found.")
		return
	}

	fmt.Fprintf(w, "Replay Summary: %d session(s)\n", result.TotalSessions)
	fmt.Fprintln(w)

	for _, s := range result.Sessions {
		status := "✓"
		if !s.Verified() {
			status = "✗"
		}

		fmt.Fprintf(w, "%s Session: %s\n", status, s.SessionID)
		fmt.Fprintf(w, "  Entries: %d, pending invocations: %d\n", s.Entries, s.Pending)
		if f.Verbose {
			fmt.Fprintf(w, "  Digest: %s\n", s.Digest)
		}
		if !s.Deterministic {
			fmt.Fprintln(w, "  Warning: replays diverged!")
		}
		for _, v := range s.Violations {
			fmt.Fprintf(w, "  Violation: %s\n", v)
		}
		fmt.Fprintln(w)
	}

	if result.AllVerified {
		fmt.Fprintln(w, "✓ All sessions verified")
		return
	}
	fmt.Fprintln(w, "✗ Replay verification failed")
}
