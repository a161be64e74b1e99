package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/turnseq/internal/ir"
)

// Seed rebuilds sequencer state from the replay log before any new event is
// ingested: commit sequence, per-stream watermarks, the terminal set, the
// closed-turn horizon, the active turn, partial stream content and pending
// invocations.
//
// Seed is a pure read of the log. It commits nothing and does not run the
// pairing or interrupt logic; invocations that were pending at shutdown are
// re-registered with a fresh timeout horizon starting now.
func (s *Sequencer) Seed(ctx context.Context) error {
	if s.log == nil {
		return nil
	}
	if s.commits.Current() > 0 || s.turn != nil || s.buffer.Len() > 0 {
		return errors.New("seed: sequencer already has state")
	}

	var (
		last    int64
		active  uint64
		entries int
		opens   = make(map[string]ir.HistoryEntry)
		order   []string
	)

	for e, err := range s.log.Replay(ctx) {
		if err != nil {
			return fmt.Errorf("seed: replay: %w", err)
		}
		if e.Seq <= last {
			return fmt.Errorf("seed: entry %d out of sequence after %d", e.Seq, last)
		}
		last = e.Seq
		entries++
		s.observe(e)

		switch e.Kind {
		case ir.EntryInvocation:
			if _, open := opens[e.CallID]; !open {
				order = append(order, e.CallID)
			}
			opens[e.CallID] = e
		case ir.EntryInvocationResult:
			delete(opens, e.CallID)
			s.resolved[e.CallID] = struct{}{}
		case ir.EntryPartial:
			acc, ok := s.accumulators[e.StreamID]
			if !ok {
				acc = NewAccumulator(e.StreamID)
				s.accumulators[e.StreamID] = acc
			}
			acc.Add(e.Key, e.Content)
		case ir.EntryMessage:
			delete(s.accumulators, e.StreamID)
		case ir.EntryTurnEnd:
			s.closedThrough = max(s.closedThrough, e.Key.RequestOrdinal)
		}
		if e.Kind != ir.EntryNotice && e.Kind != ir.EntryTurnEnd {
			active = max(active, e.Key.RequestOrdinal)
		}
	}

	s.commits = NewClockAt(last)
	now := s.now.Now()

	for stream, wm := range s.watermarks {
		if wm.RequestOrdinal <= s.closedThrough {
			delete(s.watermarks, stream)
			delete(s.accumulators, stream)
		}
	}

	if active > s.closedThrough {
		s.startTurn(active, now)
		for stream := range s.watermarks {
			s.turn.streams[stream] = struct{}{}
		}
	}

	for _, id := range order {
		e, ok := opens[id]
		if !ok {
			continue
		}
		if e.Key.RequestOrdinal <= s.closedThrough {
			// Closing a turn force-resolves its invocations first, so only
			// a damaged log gets here.
			continue
		}
		if err := s.registry.Register(e.CallID, e.StreamID, e.Key, now); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}

	s.logger.Info("sequencer seeded",
		"entries", entries,
		"last_seq", last,
		"closed_through", s.closedThrough,
		"active_turn", active > s.closedThrough,
		"pending", s.registry.Len(),
	)
	return nil
}
