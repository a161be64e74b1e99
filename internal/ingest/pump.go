package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/turnseq/internal/engine"
	"github.com/roach88/turnseq/internal/ir"
)

// Emitter receives decoded events, and the decode failures of frames that
// carried none. *engine.Producer implements it.
type Emitter interface {
	Emit(ctx context.Context, ev ir.Event) error
	Reject(ctx context.Context, cause error) error
}

// Stats counts what a Pump did.
type Stats struct {
	Frames   int // frames read
	Emitted  int // events accepted by the emitter
	Rejected int // events the emitter rejected as malformed
	Skipped  int // frames whose payload could not be decoded
}

// Pump reads frames from r and emits their events until r is exhausted.
//
// A payload that does not decode is reported to the emitter's Reject, which
// records a diagnostic in the history, and skipped; the next frame is still
// well delimited. A malformed event is counted and skipped: the
// sequencer has already recorded a diagnostic for it. Fatal frame errors,
// context cancellation and emitter failures stop the pump.
//
// Pump cannot interrupt a blocked read; close r to stop a pump waiting on
// input.
func Pump(ctx context.Context, r io.Reader, dst Emitter, logger *slog.Logger) (Stats, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var stats Stats
	dec := NewFrameDecoder(r)

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		payload, err := dec.ReadFrame()
		if errors.Is(err, io.EOF) {
			logger.Debug("producer stream ended",
				"frames", stats.Frames,
				"emitted", stats.Emitted,
			)
			return stats, nil
		}
		if err != nil {
			logger.Error("producer stream broken", "frame", stats.Frames+1, "error", err)
			return stats, fmt.Errorf("frame %d: %w", stats.Frames+1, err)
		}
		stats.Frames++

		ev, err := DecodeEvent(payload)
		if err != nil {
			stats.Skipped++
			logger.Error("undecodable frame skipped", "frame", stats.Frames, "error", err)
			if rerr := dst.Reject(ctx, fmt.Errorf("frame %d: %w", stats.Frames, err)); rerr != nil {
				return stats, fmt.Errorf("frame %d: reject: %w", stats.Frames, rerr)
			}
			continue
		}

		if err := dst.Emit(ctx, ev); err != nil {
			if engine.IsMalformed(err) {
				stats.Rejected++
				continue
			}
			return stats, fmt.Errorf("frame %d: emit %s: %w", stats.Frames, ev.Kind(), err)
		}
		stats.Emitted++
	}
}
