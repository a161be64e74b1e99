package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/turnseq/internal/ir"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	LogOptions
	Stream string // optional - filter to one stream
	Kind   string // optional - filter to one entry kind
	Call   string // optional - filter to one invocation
}

// TraceEntry represents a single committed entry in the trace timeline.
type TraceEntry struct {
	Seq       int64  `json:"seq"`
	Key       string `json:"key"`
	Kind      string `json:"kind"`
	StreamID  string `json:"stream_id,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Content   string `json:"content"`
	Finalized bool   `json:"finalized"`
	Synthetic bool   `json:"synthetic,omitempty"`
}

// TraceResult holds the complete trace output for one session.
type TraceResult struct {
	SessionID string       `json:"session_id"`
	Timeline  []TraceEntry `json:"timeline"`
	Stats     TraceStats   `json:"stats"`
}

// TraceStats holds summary statistics for the whole session, independent of
// the filters.
type TraceStats struct {
	TotalEntries int            `json:"total_entries"`
	ByKind       map[string]int `json:"by_kind"`
	Turns        int            `json:"turns"`
	Synthetic    int            `json:"synthetic"`
	Streams      int            `json:"streams"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the committed history of a session",
		Long: `Show the committed history of one session in commit order.

The output includes:
- Timeline: every committed entry with its order key, optionally filtered
  by stream, kind or invocation
- Stats: per-kind counts, closed turns, synthetic entries and streams

Examples:
  turnseq trace --db ./turnseq.db --session 0192f0c1-...
  turnseq trace --transcript ./session.jsonl --kind invocation
  turnseq trace --db ./turnseq.db --session 0192f0c1-... --stream A --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	addLogFlags(cmd, &opts.LogOptions)
	cmd.Flags().StringVar(&opts.Stream, "stream", "", "filter to one stream id")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "filter to one entry kind")
	cmd.Flags().StringVar(&opts.Call, "call", "", "filter to one invocation call id")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if opts.Kind != "" && !ir.EntryKind(opts.Kind).Valid() {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown entry kind %q", opts.Kind))
	}

	sessions, err := LoadSessions(ctx, opts.LogOptions)
	if err != nil {
		return err
	}
	if len(sessions) != 1 {
		// Only a database can hold several sessions.
		return NewExitError(ExitCommandError,
			fmt.Sprintf("--session is required: database holds %d sessions", len(sessions)))
	}
	session := sessions[0]

	result := TraceResult{
		SessionID: session.ID,
		Timeline:  buildTimeline(session.Entries, opts),
		Stats:     buildStats(session.Entries),
	}

	formatter := newFormatter(opts.RootOptions, cmd)
	if opts.Format == "json" {
		return formatter.Success(result)
	}
	outputTraceText(formatter, result)
	return nil
}

// buildTimeline converts committed entries to trace entries, keeping those
// that match every filter set in opts.
func buildTimeline(entries []ir.HistoryEntry, opts *TraceOptions) []TraceEntry {
	timeline := []TraceEntry{}
	for _, e := range entries {
		if opts.Stream != "" && string(e.StreamID) != opts.Stream {
			continue
		}
		if opts.Kind != "" && string(e.Kind) != opts.Kind {
			continue
		}
		if opts.Call != "" && e.CallID != opts.Call {
			continue
		}
		timeline = append(timeline, TraceEntry{
			Seq:       e.Seq,
			Key:       e.Key.String(),
			Kind:      string(e.Kind),
			StreamID:  string(e.StreamID),
			CallID:    e.CallID,
			Content:   e.Content,
			Finalized: e.Finalized,
			Synthetic: e.Synthetic,
		})
	}
	return timeline
}

func buildStats(entries []ir.HistoryEntry) TraceStats {
	stats := TraceStats{
		TotalEntries: len(entries),
		ByKind:       make(map[string]int),
	}
	streams := make(map[ir.StreamID]struct{})
	for _, e := range entries {
		stats.ByKind[string(e.Kind)]++
		if e.Kind == ir.EntryTurnEnd {
			stats.Turns++
		}
		if e.Synthetic {
			stats.Synthetic++
		}
		if e.StreamID != "" {
			streams[e.StreamID] = struct{}{}
		}
	}
	stats.Streams = len(streams)
	return stats
}

// outputTraceText outputs the trace result as text.
func outputTraceText(f *OutputFormatter, result TraceResult) {
	w := f.Writer

	fmt.Fprintf(w, "Session: %s\n", result.SessionID)
	fmt.Fprintln(w)

	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "No matching entries.")
	} else {
		fmt.Fprintln(w, "Timeline:")
		for _, e := range result.Timeline {
			line := fmt.Sprintf("  #%d [%s] %s", e.Seq, e.Key, e.Kind)
			if e.StreamID != "" {
				line += " stream=" + e.StreamID
			}
			if e.CallID != "" {
				line += " call=" + e.CallID
			}
			if e.Synthetic {
				line += " (synthetic)"
			}
			fmt.Fprintln(w, line)
			if e.Content != "" {
				fmt.Fprintf(w, "      %q\n", e.Content)
			}
		}
	}
	fmt.Fprintln(w)

	kinds := make([]string, 0, len(result.Stats.ByKind))
	for k := range result.Stats.ByKind {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)

	fmt.Fprintln(w, "Stats:")
	fmt.Fprintf(w, "  Total entries: %d\n", result.Stats.TotalEntries)
	for _, k := range kinds {
		fmt.Fprintf(w, "  %s: %d\n", k, result.Stats.ByKind[k])
	}
	if f.Verbose {
		fmt.Fprintf(w, "  Closed turns: %d\n", result.Stats.Turns)
		fmt.Fprintf(w, "  Synthetic: %d\n", result.Stats.Synthetic)
		fmt.Fprintf(w, "  Streams: %d\n", result.Stats.Streams)
	}
}
