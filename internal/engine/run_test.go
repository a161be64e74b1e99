package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/turnseq/internal/ir"
	"github.com/roach88/turnseq/internal/testutil"
)

func startRun(t *testing.T, s *Sequencer) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestRun_CommitsAndStopsCleanly(t *testing.T) {
	sink := &testutil.RecordingSink{}
	s := New(sink, NewMemoryLog(), WithLogger(discardLogger()))
	_, done := startRun(t, s)

	p := s.Producer("model")
	ctx := context.Background()
	require.NoError(t, p.Emit(ctx, final("B", ir.Key(1, 0, 2), "two")))
	require.NoError(t, p.Emit(ctx, final("A", ir.Key(1, 0, 1), "one")))

	require.Eventually(t, func() bool { return sink.Len() >= 1 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()
	require.NoError(t, waitRun(t, done))

	assert.ErrorIs(t, p.Emit(ctx, final("C", ir.Key(1, 0, 3), "x")), ErrQueueClosed)
}

func TestRun_ReorderWindowOrdersConcurrentProducers(t *testing.T) {
	sink := &testutil.RecordingSink{}
	s := New(sink, nil, WithLogger(discardLogger()), WithReorderWindow(time.Hour))
	_, done := startRun(t, s)

	ctx := context.Background()
	a, b := s.Producer("a"), s.Producer("b")
	require.NoError(t, b.Emit(ctx, final("B", ir.Key(1, 0, 2), "two")))
	require.NoError(t, a.Emit(ctx, final("A", ir.Key(1, 0, 1), "one")))

	// Nothing leaves the window before Stop forces the release.
	s.Stop()
	require.NoError(t, waitRun(t, done))

	entries := sink.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, ir.StreamID("A"), entries[0].StreamID)
	assert.Equal(t, ir.StreamID("B"), entries[1].StreamID)
}

func TestRun_ContextCancel(t *testing.T) {
	s := New(&testutil.RecordingSink{}, nil, WithLogger(discardLogger()))
	cancel, done := startRun(t, s)

	cancel()
	assert.ErrorIs(t, waitRun(t, done), context.Canceled)
	assert.ErrorIs(t, s.Producer("late").Emit(context.Background(), ir.Interrupt{}), ErrQueueClosed)
}

func TestRun_StalledInvocationTimesOut(t *testing.T) {
	sink := &testutil.RecordingSink{}
	s := New(sink, nil, WithLogger(discardLogger()), WithInvocationTimeout(50*time.Millisecond))
	_, done := startRun(t, s)

	require.NoError(t, s.Producer("tool").Emit(context.Background(), begin("1", ir.Key(1, 0, 1))))

	require.Eventually(t, func() bool { return sink.Len() == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []ir.EntryKind{ir.EntryInvocation, ir.EntryInvocationResult, ir.EntryNotice}, sink.Kinds())

	s.Stop()
	require.NoError(t, waitRun(t, done))
}

func TestRun_InterruptDrains(t *testing.T) {
	sink := &testutil.RecordingSink{}
	s := New(sink, nil, WithLogger(discardLogger()), WithDrainTimeout(time.Hour))
	_, done := startRun(t, s)

	ctx := context.Background()
	tool, user := s.Producer("tool"), s.Producer("user")
	require.NoError(t, tool.Emit(ctx, begin("1", ir.Key(1, 0, 1))))
	require.Eventually(t, func() bool { return sink.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, user.Emit(ctx, ir.Interrupt{}))
	require.Eventually(t, func() bool { return tool.Cancelled(1) }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, tool.Emit(ctx, end("1", "stopped")))
	require.Eventually(t, func() bool { return s.State() == Idle }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []ir.EntryKind{ir.EntryInvocation, ir.EntryInvocationResult, ir.EntryTurnEnd}, sink.Kinds())
	assert.False(t, tool.Cancelled(1))

	s.Stop()
	require.NoError(t, waitRun(t, done))
}

func TestRun_HaltsOnSinkFailure(t *testing.T) {
	sink := &testutil.RecordingSink{FailAt: 1}
	s := New(sink, nil, WithLogger(discardLogger()))
	_, done := startRun(t, s)

	require.NoError(t, s.Producer("model").Emit(context.Background(), final("A", ir.Key(1, 0, 1), "x")))

	err := waitRun(t, done)
	require.Error(t, err)
	assert.True(t, IsPersistenceFailure(err))
	assert.ErrorIs(t, err, ErrHalted)
}

// countingTime reads the real clock and counts reads; every loop iteration
// reads it, so the count bounds how often Run woke up.
type countingTime struct {
	reads atomic.Int64
}

func (c *countingTime) Now() time.Time {
	c.reads.Add(1)
	return time.Now()
}

func TestRun_GatedHeadDoesNotSpin(t *testing.T) {
	sink := &testutil.RecordingSink{}
	clock := &countingTime{}
	s := New(sink, nil,
		WithLogger(discardLogger()),
		WithTimeSource(clock),
		WithReorderWindow(5*time.Millisecond),
	)
	_, done := startRun(t, s)

	ctx := context.Background()
	require.NoError(t, s.Producer("tool").Emit(ctx, begin("1", ir.Key(1, 0, 1))))
	require.NoError(t, s.Producer("model").Emit(ctx, final("B", ir.Key(1, 0, 2), "held")))
	require.Eventually(t, func() bool { return sink.Len() == 1 }, 2*time.Second, time.Millisecond)

	// The final has aged past the window but is held by the invocation;
	// the loop must sleep until the invocation timeout.
	time.Sleep(20 * time.Millisecond)
	before := clock.reads.Load()
	time.Sleep(200 * time.Millisecond)
	assert.Less(t, clock.reads.Load()-before, int64(50), "Run woke repeatedly while gated")

	require.NoError(t, s.Producer("tool").Emit(ctx, end("1", "ok")))
	require.Eventually(t, func() bool { return sink.Len() == 3 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, []ir.EntryKind{ir.EntryInvocation, ir.EntryInvocationResult, ir.EntryMessage}, sink.Kinds())

	s.Stop()
	require.NoError(t, waitRun(t, done))
}

func TestNextWake_GatedHead(t *testing.T) {
	f := newFixture(t, WithReorderWindow(time.Second), WithInvocationTimeout(time.Minute))

	f.ingest(t, begin("1", ir.Key(1, 0, 1)))
	f.clock.Advance(time.Second)
	f.release(t)
	f.ingest(t,
		final("B", ir.Key(1, 0, 2), "held"),
		ir.BackgroundNotice{Key: ir.Key(1, 0, 3), Content: "indexing"},
	)

	at, ok := f.seq.nextWake()
	require.True(t, ok)
	assert.Equal(t, f.clock.Now().Add(time.Second), at, "an unaged notice behind the gate still ages out")

	f.clock.Advance(time.Second)
	f.release(t)
	assert.Equal(t, []ir.EntryKind{ir.EntryInvocation, ir.EntryNotice}, f.kinds())

	at, ok = f.seq.nextWake()
	require.True(t, ok)
	assert.Equal(t, testutil.Epoch.Add(time.Second+time.Minute), at, "only the invocation timeout remains")
	assert.True(t, at.After(f.clock.Now()))
}

func TestRun_InterruptProcessesQueuedFinal(t *testing.T) {
	sink := &testutil.RecordingSink{}
	s := New(sink, nil, WithLogger(discardLogger()))

	// Everything is queued before the loop starts, so one batch holds the
	// interrupt and the final behind it.
	ctx := context.Background()
	model, user := s.Producer("model"), s.Producer("user")
	require.NoError(t, model.Emit(ctx, delta("A", ir.Key(1, 0, 1), "hel")))
	require.NoError(t, user.Emit(ctx, ir.Interrupt{}))
	require.NoError(t, model.Emit(ctx, final("A", ir.Key(1, 0, 2), "hello world")))

	_, done := startRun(t, s)
	require.Eventually(t, func() bool { return s.State() == Idle && sink.Len() == 2 }, 2*time.Second, 5*time.Millisecond)

	entries := sink.Entries()
	assert.Equal(t, "hello world", entries[0].Content)
	assert.Equal(t, ir.TurnEndInterrupted, entries[1].Content)

	s.Stop()
	require.NoError(t, waitRun(t, done))
}
