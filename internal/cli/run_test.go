package cli

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/turnseq/internal/engine"
	"github.com/roach88/turnseq/internal/ir"
	"github.com/roach88/turnseq/internal/store"
	"github.com/roach88/turnseq/internal/transcript"
)

func newRun(gen ...string) *RunOptions {
	opts := &RunOptions{RootOptions: &RootOptions{Format: "text"}}
	if len(gen) > 0 {
		opts.SessionGenerator = engine.NewFixedGenerator(gen...)
	}
	return opts
}

func TestRunMissingLogFlag(t *testing.T) {
	_, _, err := execute(t, NewRunCommand(&RootOptions{Format: "text"}), "--input", writeFrames(t, completedTurn()...))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db")
	assert.Contains(t, err.Error(), "transcript")
}

func TestRunBothLogFlags(t *testing.T) {
	dir := t.TempDir()
	_, _, err := execute(t, NewRunCommand(&RootOptions{Format: "text"}),
		"--db", filepath.Join(dir, "a.db"), "--transcript", filepath.Join(dir, "a.jsonl"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others can be")
}

func TestRunCommitsToDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "turnseq.db")
	input := writeFrames(t, completedTurn()...)

	stdout, _, err := execute(t, newRunCommand(newRun(testSession)), "--db", dbPath, "--input", input)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `#1 req=1 out=0 seq=2 message stream=A "Hello"`, lines[0])
	assert.Contains(t, lines[1], `turn_end "completed"`)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	entries, err := engine.Collect(st.Replay(context.Background(), testSession))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Hello", entries[0].Content)
}

func TestRunCommitsToTranscriptAsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	input := writeFrames(t, completedTurn()...)

	opts := newRun(testSession)
	opts.Format = "json"
	stdout, _, err := execute(t, newRunCommand(opts), "--transcript", path, "--input", input)
	require.NoError(t, err)

	entries, err := engine.Collect(transcript.Read(context.Background(), path))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// stdout carries the same canonical lines as the transcript body.
	var want strings.Builder
	for _, e := range entries {
		line, err := e.Canonical()
		require.NoError(t, err)
		want.Write(line)
		want.WriteByte('\n')
	}
	assert.Equal(t, want.String(), stdout)

	meta, err := transcript.ReadMeta(path)
	require.NoError(t, err)
	assert.Equal(t, testSession, meta.SessionID)
}

func TestRunResumesPendingInvocation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "turnseq.db")

	first := writeFrames(t,
		ir.InvocationBegin{StreamID: "call-7", Key: ir.Key(1, 0, 1), CallID: "7", Payload: "make"},
	)
	_, _, err := execute(t, newRunCommand(newRun(testSession)), "--db", dbPath, "--input", first)
	require.NoError(t, err)

	second := writeFrames(t,
		ir.InvocationEnd{CallID: "7", Result: "built"},
		ir.Final{StreamID: "A", Key: ir.Key(1, 0, 2), Content: "done"},
	)
	stdout, _, err := execute(t, newRunCommand(newRun()), "--db", dbPath, "--session", testSession, "--input", second)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "#2 "), lines[0])
	assert.Contains(t, lines[0], `invocation_result stream=call-7 call=7 "built"`)
	assert.True(t, strings.HasPrefix(lines[1], "#3 "), lines[1])
}

func TestRunTranscriptKeepsItsSession(t *testing.T) {
	path := seedTranscript(t, nil)

	_, _, err := execute(t, newRunCommand(newRun()), "--transcript", path, "--session", otherSession,
		"--input", writeFrames(t, completedTurn()...))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunRejectsMalformedEvents(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "turnseq.db")
	input := writeFrames(t,
		ir.Delta{Key: ir.Key(1, 0, 1), Content: "no stream"},
		ir.Final{StreamID: "A", Key: ir.Key(1, 0, 2), Content: "ok"},
	)

	stdout, stderr, err := execute(t, newRunCommand(newRun(testSession)), "--db", dbPath, "--input", input)
	require.NoError(t, err)

	assert.Contains(t, stdout, "notice synthetic")
	assert.Contains(t, stdout, `message stream=A "ok"`)
	assert.Contains(t, stderr, "malformed event rejected")
	assert.Contains(t, stderr, "rejected=1")
}

func TestRunBrokenFrameStream(t *testing.T) {
	input := filepath.Join(t.TempDir(), "torn.bin")
	require.NoError(t, os.WriteFile(input, []byte{0, 0, 0, 9, 1, 2}, 0644))

	_, _, err := execute(t, newRunCommand(newRun(testSession)),
		"--db", filepath.Join(t.TempDir(), "turnseq.db"), "--input", input)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "producer stream broken")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "turnseq.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("partial_commits: true\n"), 0644))

	input := writeFrames(t, ir.Delta{StreamID: "A", Key: ir.Key(1, 0, 1), Content: "Hel"})
	stdout, _, err := execute(t, newRunCommand(newRun(testSession)),
		"--db", filepath.Join(dir, "turnseq.db"), "--config", cfg, "--input", input)
	require.NoError(t, err)
	assert.Contains(t, stdout, `partial stream=A "Hel"`)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("queue_capacity: 0\n"), 0644))
	_, _, err = execute(t, newRunCommand(newRun(testSession)),
		"--db", filepath.Join(dir, "turnseq.db"), "--config", bad, "--input", input)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunSignals(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "turnseq.db")

	// The producer keeps the stream open, as a live model connection would.
	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { pw.Close(); pr.Close() })

	head := writeFrames(t,
		ir.InvocationBegin{StreamID: "call-3", Key: ir.Key(1, 0, 1), CallID: "3", Payload: "sleep 100"},
	)
	frames, err := os.ReadFile(head)
	require.NoError(t, err)
	_, err = pw.Write(frames)
	require.NoError(t, err)

	cfg := filepath.Join(t.TempDir(), "turnseq.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("drain_timeout: 50ms\n"), 0644))

	signals := make(chan os.Signal, 2)
	opts := newRun(testSession)
	opts.Signals = signals

	cmd := newRunCommand(opts)
	stdoutR, stdoutW, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { stdoutR.Close() })
	cmd.SetOut(stdoutW)
	cmd.SetErr(&strings.Builder{})
	cmd.SetIn(pr)
	cmd.SetArgs([]string{"--db", dbPath, "--config", cfg})

	done := make(chan error, 1)
	go func() {
		done <- cmd.Execute()
		stdoutW.Close()
	}()

	lines := bufio.NewScanner(stdoutR)
	require.True(t, lines.Scan())
	assert.Contains(t, lines.Text(), "invocation stream=call-3")

	// First signal interrupts the turn: the pending invocation is
	// force-resolved and the turn closed.
	signals <- syscall.SIGINT
	var rest []string
	for len(rest) < 3 && lines.Scan() {
		rest = append(rest, lines.Text())
	}
	require.Len(t, rest, 3)
	assert.Contains(t, rest[0], `invocation_result stream=call-3 call=3 synthetic "aborted"`)
	assert.Contains(t, rest[1], "(turn interrupted)")
	assert.Contains(t, rest[2], `turn_end "interrupted"`)

	// Second signal stops the run while the producer is still connected.
	signals <- syscall.SIGINT
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
}
