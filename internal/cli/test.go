package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/turnseq/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Golden string // golden directory, empty to skip golden comparison
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios>",
		Short: "Run sequencer scenarios",
		Long: `Run YAML sequencer scenarios from a file or directory.

Each scenario delivers events in a chosen arrival order, then checks its
assertions, the history invariants and a replay round trip. With --golden,
the committed history is also compared against {golden}/{name}.golden.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  turnseq test ./scenarios
  turnseq test ./scenarios --filter "turn_*"
  turnseq test ./scenarios --golden ./golden --update
  turnseq test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Golden, "golden", "", "golden file directory")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, path string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Update && opts.Golden == "" {
		return NewExitError(ExitCommandError, "--update requires --golden")
	}

	paths, err := harness.FindScenarios(path, opts.Filter)
	if err != nil {
		var notFound *harness.ScenarioNotFoundError
		if errors.As(err, &notFound) {
			return NewExitError(ExitCommandError, fmt.Sprintf("scenarios not found: %s", path))
		}
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	// Sequencer logs would drown the report; they are shown only under
	// --verbose, on stderr.
	logger := slog.New(slog.DiscardHandler)
	if opts.Verbose {
		logger = newLogger(opts.RootOptions, cmd.ErrOrStderr())
	}

	result := harness.RunSuite(ctx, paths, harness.SuiteOptions{
		GoldenDir: opts.Golden,
		Update:    opts.Update,
		Logger:    logger,
	})

	formatter := newFormatter(opts.RootOptions, cmd)
	if opts.Format == "json" {
		if err := formatter.Result(result.Failed == 0, result, CodeScenarios,
			fmt.Sprintf("%d of %d scenario(s) failed", result.Failed, result.Total)); err != nil {
			return err
		}
	} else {
		outputTestText(formatter, result)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// outputTestText outputs the suite result as text.
func outputTestText(f *OutputFormatter, result *harness.SuiteResult) {
	w := f.Writer

	if result.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}

	for _, s := range result.Scenarios {
		status := "✓"
		if !s.Pass {
			status = "✗"
		}
		line := fmt.Sprintf("%s %s (%d entries)", status, s.Name, s.Entries)
		if s.GoldenUpdated {
			line += " [golden updated]"
		}
		fmt.Fprintln(w, line)
		if f.Verbose {
			fmt.Fprintf(w, "    %s\n", s.Path)
		}
		for _, e := range s.Errors {
			fmt.Fprintf(w, "    %s\n", e)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Results: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
}
