package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/turnseq/internal/ir"
)

func TestCheckInvariants_CleanHistory(t *testing.T) {
	assert.Empty(t, CheckInvariants(history()))
	assert.Empty(t, CheckInvariants(nil))
}

func TestCheckInvariants_TrailingOpenInvocation(t *testing.T) {
	assert.Empty(t, CheckInvariants(history()[:1]), "a session may stop with an invocation pending")
}

func TestCheckInvariants_Violations(t *testing.T) {
	tests := []struct {
		name      string
		entries   func() []ir.HistoryEntry
		invariant string
		seq       int64
	}{
		{
			name: "gap in seq",
			entries: func() []ir.HistoryEntry {
				h := history()
				h[2].Seq = 5
				return h[:3]
			},
			invariant: InvariantSequence,
			seq:       5,
		},
		{
			name: "key goes backwards",
			entries: func() []ir.HistoryEntry {
				h := history()
				h[2].Key = ir.Key(1, 0, 0)
				return h[:3]
			},
			invariant: InvariantOrdering,
			seq:       3,
		},
		{
			name: "entry between invocation and result",
			entries: func() []ir.HistoryEntry {
				h := history()
				h[1], h[2] = h[2], h[1]
				h[1].Seq, h[2].Seq = 2, 3
				h[1].Key = ir.Key(1, 0, 1)
				return h[:2]
			},
			invariant: InvariantPairing,
			seq:       2,
		},
		{
			name: "result without invocation",
			entries: func() []ir.HistoryEntry {
				h := history()[1:2]
				h[0].Seq = 1
				return h
			},
			invariant: InvariantPairing,
			seq:       1,
		},
		{
			name: "result for another call",
			entries: func() []ir.HistoryEntry {
				h := history()[:2]
				h[1].CallID = "2"
				return h
			},
			invariant: InvariantPairing,
			seq:       2,
		},
		{
			name: "commit after finalized",
			entries: func() []ir.HistoryEntry {
				h := history()[:3]
				return append(h, ir.HistoryEntry{
					Seq: 4, Key: ir.Key(1, 0, 3), StreamID: "A", Kind: ir.EntryMessage, Content: "again", Finalized: true,
				})
			},
			invariant: InvariantTerminal,
			seq:       4,
		},
		{
			name: "producer notice goes backwards",
			entries: func() []ir.HistoryEntry {
				return []ir.HistoryEntry{
					{Seq: 1, Key: ir.Key(1, 5, 0), Kind: ir.EntryNotice, Content: "b", Finalized: true},
					{Seq: 2, Key: ir.Key(1, 4, 0), Kind: ir.EntryNotice, Content: "a", Finalized: true},
				}
			},
			invariant: InvariantOrdering,
			seq:       2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			violations := CheckInvariants(tt.entries())
			require.NotEmpty(t, violations)
			assert.Equal(t, tt.invariant, violations[0].Invariant)
			assert.Equal(t, tt.seq, violations[0].Seq)
		})
	}
}

func TestCheckInvariants_NoticesMayInterleave(t *testing.T) {
	entries := []ir.HistoryEntry{
		{Seq: 1, Key: ir.Key(1, 0, 5), StreamID: "call-7", Kind: ir.EntryInvocation, CallID: "7"},
		{Seq: 2, Key: ir.Key(1, 3, 0), Kind: ir.EntryNotice, Content: "background", Finalized: true},
		{Seq: 3, Key: ir.Key(1, 0, 5), StreamID: "call-7", Kind: ir.EntryInvocationResult, CallID: "7", Finalized: true},
		{Seq: 4, Key: ir.Key(1, 0, 5), Kind: ir.EntryNotice, Content: "diagnostic", Finalized: true, Synthetic: true},
		{Seq: 5, Key: ir.Key(1, 0, 6), StreamID: "B", Kind: ir.EntryMessage, Content: "out", Finalized: true},
	}
	assert.Empty(t, CheckInvariants(entries))
}

func TestViolation_String(t *testing.T) {
	v := Violation{Invariant: InvariantTerminal, Seq: 4, Message: "stream A already finalized at #3"}
	assert.Equal(t, "terminal at #4: stream A already finalized at #3", v.String())
}
