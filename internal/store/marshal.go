package store

import (
	"database/sql"
	"fmt"
	"math"

	"github.com/roach88/turnseq/internal/ir"
)

// MaxKeyComponent is the largest request ordinal or sequence number the
// store can hold: SQLite integers are signed.
const MaxKeyComponent = math.MaxInt64

// entryArgs flattens an entry into column values in schema order, after
// session_id and seq. Order key components above MaxKeyComponent are
// rejected rather than wrapped.
func entryArgs(e ir.HistoryEntry) ([]any, error) {
	if e.Key.RequestOrdinal > MaxKeyComponent || e.Key.SequenceNumber > MaxKeyComponent {
		return nil, fmt.Errorf("order key %s out of storable range", e.Key)
	}
	digest, err := ir.EntryDigest(e)
	if err != nil {
		return nil, err
	}
	return []any{
		int64(e.Key.RequestOrdinal),
		int64(e.Key.OutputIndex),
		int64(e.Key.SequenceNumber),
		string(e.StreamID),
		string(e.Kind),
		e.Content,
		boolToInt(e.Finalized),
		e.CallID,
		boolToInt(e.Synthetic),
		digest,
	}, nil
}

// scanEntry reads one row selected with entryColumns.
func scanEntry(rows *sql.Rows) (ir.HistoryEntry, string, error) {
	var (
		e                    ir.HistoryEntry
		req, out, sequence   int64
		stream, kind         string
		finalized, synthetic int64
		digest               string
	)
	if err := rows.Scan(
		&e.Seq, &req, &out, &sequence,
		&stream, &kind, &e.Content, &finalized, &e.CallID, &synthetic,
		&digest,
	); err != nil {
		return ir.HistoryEntry{}, "", fmt.Errorf("scan entry: %w", err)
	}
	e.Key = ir.Key(uint64(req), uint32(out), uint64(sequence))
	e.StreamID = ir.StreamID(stream)
	e.Kind = ir.EntryKind(kind)
	if !e.Kind.Valid() {
		return ir.HistoryEntry{}, "", fmt.Errorf("entry %d: unknown kind %q", e.Seq, kind)
	}
	e.Finalized = finalized != 0
	e.Synthetic = synthetic != 0
	return e, digest, nil
}

const entryColumns = `seq, request_ordinal, output_index, sequence_number,
	stream_id, kind, content, finalized, call_id, synthetic, digest`

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
