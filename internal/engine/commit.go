package engine

import (
	"context"
	"fmt"

	"github.com/roach88/turnseq/internal/ir"
)

// commit assigns the next sequence number, delivers the entry to the sink,
// then appends it to the replay log. Any failure halts the sequencer: commit
// progress stops rather than diverging from durable state.
func (s *Sequencer) commit(ctx context.Context, e ir.HistoryEntry) error {
	if err := s.checkHalted(); err != nil {
		return err
	}

	e.Content = ir.NormalizeText(e.Content)
	e.Seq = s.commits.Next()

	if err := s.sink.Commit(ctx, e); err != nil {
		return s.halt(e, fmt.Errorf("sink: %w", err))
	}
	if s.log != nil {
		if err := s.log.Append(ctx, e); err != nil {
			return s.halt(e, fmt.Errorf("replay log: %w", err))
		}
	}

	s.observe(e)
	s.logger.Debug("entry committed",
		"seq", e.Seq,
		"order_key", e.Key.String(),
		"stream_id", e.StreamID,
		"kind", e.Kind,
		"call_id", e.CallID,
		"synthetic", e.Synthetic,
	)
	return nil
}

// observe folds a committed entry into watermarks, the terminal set and the
// frontiers. Shared by live commits and Seed so both reach the same state.
func (s *Sequencer) observe(e ir.HistoryEntry) {
	if e.StreamID != "" {
		s.watermarks[e.StreamID] = ir.MaxKey(s.watermarks[e.StreamID], e.Key)
		if e.Finalized {
			s.terminal[e.StreamID] = struct{}{}
		}
	}
	switch {
	case e.Kind != ir.EntryNotice:
		s.frontier = ir.MaxKey(s.frontier, e.Key)
	case !e.Synthetic:
		s.lastNotice = ir.MaxKey(s.lastNotice, e.Key)
	}
}

func (s *Sequencer) halt(e ir.HistoryEntry, err error) error {
	s.halted = newPersistenceError(e, err)
	s.queue.Close()
	s.logger.Error("commit failed, sequencer halted",
		"seq", e.Seq,
		"order_key", e.Key.String(),
		"stream_id", e.StreamID,
		"error", err,
	)
	return fmt.Errorf("%w: %w", ErrHalted, s.halted)
}
