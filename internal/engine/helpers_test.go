package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/turnseq/internal/ir"
	"github.com/roach88/turnseq/internal/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixture drives a Sequencer directly through Ingest/Release/Tick on a fake
// clock.
type fixture struct {
	seq   *Sequencer
	sink  *testutil.RecordingSink
	log   *MemoryLog
	clock *testutil.FakeTime
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		sink:  &testutil.RecordingSink{},
		log:   NewMemoryLog(),
		clock: testutil.NewFakeTime(),
	}
	base := []Option{WithLogger(discardLogger()), WithTimeSource(f.clock)}
	f.seq = New(f.sink, f.log, append(base, opts...)...)
	return f
}

func (f *fixture) ingest(t *testing.T, events ...ir.Event) {
	t.Helper()
	for _, ev := range events {
		require.NoError(t, f.seq.Ingest(context.Background(), ev))
	}
}

func (f *fixture) release(t *testing.T) {
	t.Helper()
	require.NoError(t, f.seq.Release(context.Background()))
}

func (f *fixture) tick(t *testing.T) {
	t.Helper()
	require.NoError(t, f.seq.Tick(context.Background()))
}

func (f *fixture) kinds() []ir.EntryKind {
	return f.sink.Kinds()
}

func final(stream string, key ir.OrderKey, content string) ir.Final {
	return ir.Final{StreamID: ir.StreamID(stream), Key: key, Content: content}
}

func delta(stream string, key ir.OrderKey, content string) ir.Delta {
	return ir.Delta{StreamID: ir.StreamID(stream), Key: key, Content: content}
}

func begin(call string, key ir.OrderKey) ir.InvocationBegin {
	return ir.InvocationBegin{StreamID: ir.StreamID("call-" + call), Key: key, CallID: call, Payload: "run " + call}
}

func end(call, result string) ir.InvocationEnd {
	return ir.InvocationEnd{CallID: call, Result: result}
}
