package engine

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/turnseq/internal/ir"
)

// interrupt handles an Interrupt event: the controller moves to
// Interrupting, producers see the token, and content of the turn that is not
// yet committable is discarded. Content keyed after a pending invocation
// was held by the pairing gate and is discarded with it.
//
// The turn stays open so items already queued behind the interrupt are still
// processed; Release, Tick and shutdown close it once it can drain.
func (s *Sequencer) interrupt(at time.Time) {
	if !s.ctrl.Interrupt(at) {
		s.logger.Debug("interrupt ignored: no running turn", "state", s.ctrl.State().String())
		return
	}
	t := s.turn
	t.interrupted = true

	gate, gated := s.registry.Gate(t.ordinal)
	discarded := s.buffer.Extract(func(it item) bool {
		if it.kind == itemNotice || it.key.RequestOrdinal != t.ordinal {
			return false
		}
		switch it.kind {
		case itemInvocation, itemPartial, itemTurnComplete:
			return true
		default:
			return gated && gate.Key.Less(it.key)
		}
	})
	for _, it := range discarded {
		if it.kind == itemInvocation {
			delete(s.early, it.callID())
		}
	}

	dropped := 0
	if gated {
		for stream := range t.streams {
			if acc, ok := s.accumulators[stream]; ok {
				dropped += acc.DropAfter(gate.Key)
			}
		}
	}

	s.logger.Info("turn interrupted",
		"request_ordinal", t.ordinal,
		"pending", len(s.registry.Pending(t.ordinal)),
		"discarded", len(discarded),
		"deltas_dropped", dropped,
	)
}

// maybeDrain closes an interrupted turn once nothing is pending or the drain
// deadline has passed.
func (s *Sequencer) maybeDrain(ctx context.Context, now time.Time) error {
	if s.turn == nil {
		return nil
	}
	if !s.ctrl.ShouldDrain(now, s.registry.HasPending(s.turn.ordinal)) {
		return nil
	}
	return s.closeTurn(ctx, ir.TurnEndInterrupted, ir.OrderKey{})
}

// closeTurn ends the active turn:
//  1. pending invocations are force-resolved in the order they were opened
//  2. buffered finals and notices up to the turn commit in key order;
//     buffered invocations are discarded
//  3. unfinalized streams commit truncated
//  4. a turn_end entry records reason
//
// endKey is the key of the TurnComplete that closed the turn, or zero.
func (s *Sequencer) closeTurn(ctx context.Context, reason string, endKey ir.OrderKey) error {
	t := s.turn
	if t == nil {
		return nil
	}
	if reason == ir.TurnEndInterrupted {
		s.ctrl.MarkDrained()
	}

	for _, p := range s.registry.Pending(t.ordinal) {
		why := "turn " + reason
		if reason == ir.TurnEndInterrupted {
			s.logger.Warn("invocation cancelled by interrupt", "call_id", p.CallID, "order_key", p.Key.String())
		} else {
			s.logger.Warn("invocation cancelled: turn closed", "call_id", p.CallID, "reason", reason)
		}
		if err := s.forceResolve(ctx, p, s.syntheticCancelled, why); err != nil {
			return err
		}
	}

	rest := s.buffer.Extract(func(it item) bool {
		return it.key.RequestOrdinal <= t.ordinal
	})
	for _, it := range rest {
		switch it.kind {
		case itemFinal, itemNotice:
			if err := s.apply(ctx, it); err != nil {
				return err
			}
		case itemInvocation:
			s.logger.Warn("buffered invocation discarded: turn closed",
				"call_id", it.callID(),
				"order_key", it.key.String(),
				"reason", reason,
			)
			delete(s.early, it.callID())
		}
	}

	marker := s.truncationMarker
	if reason == ir.TurnEndCompleted {
		marker = ""
	}
	if err := s.truncateStreams(ctx, t, marker); err != nil {
		return err
	}

	key := ir.MaxKey(endKey, ir.MaxKey(s.frontier, ir.Key(t.ordinal, 0, 0)))
	if err := s.commit(ctx, ir.HistoryEntry{
		Key:       key,
		Kind:      ir.EntryTurnEnd,
		Content:   reason,
		Finalized: true,
	}); err != nil {
		return err
	}

	for stream := range t.streams {
		delete(s.watermarks, stream)
		delete(s.accumulators, stream)
	}
	s.closedThrough = t.ordinal
	s.turn = nil
	s.ctrl.Finish()

	s.logger.Info("turn closed",
		"request_ordinal", t.ordinal,
		"reason", reason,
		"duration", s.now.Now().Sub(t.startedAt),
	)
	return nil
}

// truncateStreams commits every unfinalized stream of the turn as a
// synthetic finalized message. Entries are keyed no lower than the frontier
// so commit order stays non-decreasing.
func (s *Sequencer) truncateStreams(ctx context.Context, t *turnContext, marker string) error {
	var open []*Accumulator
	for stream := range t.streams {
		acc, ok := s.accumulators[stream]
		if !ok || acc.Closed() || acc.Len() == 0 {
			continue
		}
		if _, done := s.terminal[stream]; done {
			continue
		}
		open = append(open, acc)
	}
	slices.SortFunc(open, func(a, b *Accumulator) int {
		if c := a.LastKey().Compare(b.LastKey()); c != 0 {
			return c
		}
		return cmp.Compare(a.Stream(), b.Stream())
	})

	for _, acc := range open {
		s.logger.Info("stream truncated", "stream_id", acc.Stream(), "deltas", acc.Len())
		if err := s.commit(ctx, ir.HistoryEntry{
			Key:       ir.MaxKey(acc.LastKey(), s.frontier),
			StreamID:  acc.Stream(),
			Kind:      ir.EntryMessage,
			Content:   acc.Truncate(marker),
			Finalized: true,
			Synthetic: true,
		}); err != nil {
			return err
		}
	}
	return nil
}

// forceResolve commits a synthetic result for p and a diagnostic notice
// explaining why.
func (s *Sequencer) forceResolve(ctx context.Context, p PendingInvocation, content, why string) error {
	s.registry.Resolve(p.CallID)
	if err := s.commitResult(ctx, p, content, true); err != nil {
		return err
	}
	return s.diagnostic(ctx, fmt.Sprintf("invocation %s force-resolved (%s): %s", p.CallID, why, content))
}

// diagnostic commits a synthetic notice keyed at the current position.
func (s *Sequencer) diagnostic(ctx context.Context, content string) error {
	key := s.frontier
	if s.turn != nil {
		key = ir.MaxKey(key, ir.Key(s.turn.ordinal, 0, 0))
	}
	return s.commit(ctx, ir.HistoryEntry{
		Key:       key,
		Kind:      ir.EntryNotice,
		Content:   content,
		Finalized: true,
		Synthetic: true,
	})
}
