package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/turnseq/internal/ingest"
	"github.com/roach88/turnseq/internal/ir"
	"github.com/roach88/turnseq/internal/store"
	"github.com/roach88/turnseq/internal/transcript"
)

const (
	testSession  = "0192f0c1-7a3b-7c4d-8e5f-6a7b8c9d0e1f"
	otherSession = "0192f0c1-7a3b-7c4d-8e5f-6a7b8c9d0e20"
)

// execute runs cmd with args and returns what it wrote to stdout and
// stderr.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, string, error) {
	t.Helper()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// writeFrames encodes events as a producer frame file.
func writeFrames(t *testing.T, events ...ir.Event) string {
	t.Helper()
	var buf bytes.Buffer
	enc := ingest.NewFrameEncoder(&buf)
	for _, ev := range events {
		require.NoError(t, enc.WriteEvent(ev))
	}
	path := filepath.Join(t.TempDir(), "events.bin")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

// completedTurn is one turn: a streamed message then its completion.
func completedTurn() []ir.Event {
	return []ir.Event{
		ir.Delta{StreamID: "A", Key: ir.Key(1, 0, 1), Content: "Hel"},
		ir.Final{StreamID: "A", Key: ir.Key(1, 0, 2), Content: "Hello"},
		ir.TurnComplete{Key: ir.Key(1, 1, 0)},
	}
}

// turnHistory is the committed form of an invocation turn.
func turnHistory() []ir.HistoryEntry {
	return []ir.HistoryEntry{
		{Seq: 1, Key: ir.Key(1, 0, 1), StreamID: "call-1", Kind: ir.EntryInvocation, Content: "ls", CallID: "1"},
		{Seq: 2, Key: ir.Key(1, 0, 1), StreamID: "call-1", Kind: ir.EntryInvocationResult, Content: "a.txt", CallID: "1", Finalized: true},
		{Seq: 3, Key: ir.Key(1, 0, 2), StreamID: "A", Kind: ir.EntryMessage, Content: "done", Finalized: true},
		{Seq: 4, Key: ir.Key(1, 0, 2), Kind: ir.EntryTurnEnd, Content: ir.TurnEndCompleted, Finalized: true},
	}
}

// seedDatabase writes sessions straight into a new database.
func seedDatabase(t *testing.T, sessions map[string][]ir.HistoryEntry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "turnseq.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	for id, entries := range sessions {
		require.NoError(t, st.CreateSession(ctx, id, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))
		for _, e := range entries {
			require.NoError(t, st.Append(ctx, id, e))
		}
	}
	return path
}

// seedTranscript writes a session straight into a new transcript.
func seedTranscript(t *testing.T, entries []ir.HistoryEntry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.jsonl")
	tl, err := transcript.Open(path, transcript.NewMeta(testSession, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))
	require.NoError(t, err)
	ctx := context.Background()
	for _, e := range entries {
		require.NoError(t, tl.Append(ctx, e))
	}
	require.NoError(t, tl.Close())
	return path
}
