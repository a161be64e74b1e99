package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/turnseq/internal/config"
	"github.com/roach88/turnseq/internal/engine"
	"github.com/roach88/turnseq/internal/ingest"
	"github.com/roach88/turnseq/internal/ir"
	"github.com/roach88/turnseq/internal/store"
	"github.com/roach88/turnseq/internal/transcript"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	LogOptions
	Config string
	Input  string

	// SessionGenerator allows overriding session id generation (for testing).
	// If nil, defaults to UUIDv7Generator.
	SessionGenerator engine.SessionIDGenerator

	// Signals delivers interrupt requests (for testing). If nil, SIGINT and
	// SIGTERM are watched.
	Signals <-chan os.Signal
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sequence producer frames into a replay log",
		Long: `Start the sequencer, read producer events as length-prefixed msgpack
frames from --input (default stdin), and print each committed history entry.

Entries are appended to a SQLite database (--db) or a JSONL transcript
(--transcript). Naming an existing session resumes it: state is rebuilt
from the log before the first new event is read.

The first SIGINT interrupts the active turn; a second SIGINT, or SIGTERM,
stops the process.

Exit codes:
  0 - Input exhausted, every entry committed
  1 - Sequencer halted (replay log write failed)
  2 - Command error (bad config, unreadable input, broken frame stream)

Examples:
  turnseq run --db ./turnseq.db --input events.bin
  turnseq encode events.yaml | turnseq run --transcript ./session.jsonl
  turnseq run --db ./turnseq.db --session 0192f0c1-... --config turnseq.cue`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSequencer(opts, cmd)
		},
	}

	addLogFlags(cmd, &opts.LogOptions)
	cmd.Flags().StringVar(&opts.Config, "config", "", "sequencer config file (.yaml, .yml or .cue)")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "producer frame file (default stdin)")

	return cmd
}

// replayLog is the persistence a run writes through.
type replayLog interface {
	engine.ReplayLog
	io.Closer
}

func runSequencer(opts *RunOptions, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	cfg := config.Default()
	if opts.Config != "" {
		loaded, err := config.Load(opts.Config)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		cfg = loaded
	}

	in := cmd.InOrStdin()
	if opts.Input != "" {
		f, err := os.Open(opts.Input)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open input", err)
		}
		defer f.Close()
		in = f
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	session := opts.Session
	if session == "" {
		gen := opts.SessionGenerator
		if gen == nil {
			gen = engine.UUIDv7Generator{}
		}
		session = gen.Generate()
	}

	log, session, err := openReplayLog(ctx, opts.LogOptions, session)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := log.Close(); closeErr != nil {
			logger.Error("error closing replay log", "error", closeErr)
		}
	}()

	sink := &renderSink{w: cmd.OutOrStdout(), json: opts.Format == "json"}
	seq := engine.New(sink, log, append(cfg.Options(), engine.WithLogger(logger))...)
	if err := seq.Seed(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to resume session", err)
	}
	logger.Info("session open", "session", session, "last_seq", seq.LastSeq(), "pending", seq.Pending())

	signals := opts.Signals
	if signals == nil {
		sigChan := make(chan os.Signal, 2)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		signals = sigChan
	}
	go watchSignals(ctx, signals, seq.Producer("user"), cancel, logger)

	runDone := make(chan error, 1)
	go func() { runDone <- seq.Run(ctx) }()

	type pumpResult struct {
		stats ingest.Stats
		err   error
	}
	pumpDone := make(chan pumpResult, 1)
	go func() {
		stats, err := ingest.Pump(ctx, in, seq.Producer("input"), logger)
		pumpDone <- pumpResult{stats, err}
	}()

	var (
		pumped pumpResult
		runErr error
	)
	select {
	case pumped = <-pumpDone:
		seq.Stop()
		runErr = <-runDone
	case runErr = <-runDone:
		// Halted or cancelled while the pump was still reading. A blocked
		// read on stdin cannot be interrupted, so the pump is abandoned.
		cancel()
	}

	logger.Info("session closed",
		"session", session,
		"last_seq", seq.LastSeq(),
		"pending", seq.Pending(),
		"frames", pumped.stats.Frames,
		"rejected", pumped.stats.Rejected,
		"skipped", pumped.stats.Skipped,
	)

	switch {
	case runErr != nil && !errors.Is(runErr, context.Canceled):
		return WrapExitError(ExitFailure, "sequencer halted", runErr)
	case ingest.IsFatalFrameError(pumped.err):
		return WrapExitError(ExitCommandError, "producer stream broken", pumped.err)
	case pumped.err != nil && !errors.Is(pumped.err, context.Canceled):
		return WrapExitError(ExitFailure, "producer failed", pumped.err)
	}
	return nil
}

// openReplayLog opens the selected log for session, creating the session if
// it is new. An existing transcript keeps its own session, which is
// returned; naming a different one is an error.
func openReplayLog(ctx context.Context, opts LogOptions, session string) (replayLog, string, error) {
	now := time.Now()

	if opts.Transcript != "" {
		tl, err := transcript.Open(opts.Transcript, transcript.NewMeta(session, now))
		if err != nil {
			return nil, "", WrapExitError(ExitCommandError, "failed to open transcript", err)
		}
		got := tl.Meta().SessionID
		if opts.Session != "" && got != opts.Session {
			tl.Close()
			return nil, "", NewExitError(ExitCommandError,
				fmt.Sprintf("session not found: %s (transcript holds %s)", opts.Session, got))
		}
		return tl, got, nil
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return nil, "", WrapExitError(ExitCommandError, "failed to open database", err)
	}
	if err := st.CreateSession(ctx, session, now); err != nil {
		st.Close()
		return nil, "", WrapExitError(ExitCommandError, "failed to create session", err)
	}
	return storeLog{Log: st.Log(session), store: st}, session, nil
}

// storeLog closes the store behind a session log.
type storeLog struct {
	*store.Log
	store *store.Store
}

func (l storeLog) Close() error {
	return l.store.Close()
}

// watchSignals turns the first SIGINT into an Interrupt event from the
// user-input producer. A second SIGINT, or SIGTERM, cancels the run.
func watchSignals(ctx context.Context, signals <-chan os.Signal, user *engine.Producer, cancel context.CancelFunc, logger *slog.Logger) {
	interrupted := false
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-signals:
			if sig == syscall.SIGTERM || interrupted {
				logger.Info("received signal, shutting down", "signal", sig)
				cancel()
				return
			}
			interrupted = true
			logger.Info("received signal, interrupting turn", "signal", sig)
			if err := user.Emit(ctx, ir.Interrupt{}); err != nil {
				logger.Warn("interrupt not delivered", "error", err)
			}
		}
	}
}

// renderSink prints each committed entry: its one-line form followed by the
// quoted content, or its canonical JSON under --format json.
type renderSink struct {
	w    io.Writer
	json bool
}

func (s *renderSink) Commit(_ context.Context, e ir.HistoryEntry) error {
	if !s.json {
		_, err := fmt.Fprintf(s.w, "%s %q\n", e, e.Content)
		return err
	}
	line, err := e.Canonical()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(s.w, "%s\n", line)
	return err
}
