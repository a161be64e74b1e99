package engine

import (
	"context"
	"time"

	"github.com/roach88/turnseq/internal/ir"
)

// release commits buffered items from the head of the reorder buffer. force
// ignores the reorder window.
//
// When the head is held by a pending invocation, release stops there, but
// notices further back are still committed: notices never wait on pairing.
func (s *Sequencer) release(ctx context.Context, force bool) error {
	now := s.now.Now()
	for {
		it, ok := s.buffer.Peek()
		if !ok {
			return nil
		}
		if !force && !s.aged(it, now) {
			return nil
		}
		if s.gated(it) {
			return s.releaseNotices(ctx, now, force)
		}
		s.buffer.Pop()
		if err := s.apply(ctx, it); err != nil {
			return err
		}
	}
}

func (s *Sequencer) aged(it item, now time.Time) bool {
	return s.reorderWindow <= 0 || now.Sub(it.at) >= s.reorderWindow
}

// gated reports whether it must wait for a pending invocation of its turn.
// A re-issued InvocationBegin for a pending call id is never gated; releasing
// it triggers the duplicate invocation path.
func (s *Sequencer) gated(it item) bool {
	if it.kind == itemNotice {
		return false
	}
	if it.kind == itemInvocation {
		if _, pending := s.registry.Get(it.callID()); pending {
			return false
		}
	}
	gate, ok := s.registry.Gate(it.key.RequestOrdinal)
	return ok && gate.Key.Less(it.key)
}

func (s *Sequencer) releaseNotices(ctx context.Context, now time.Time, force bool) error {
	notices := s.buffer.Extract(func(it item) bool {
		return it.kind == itemNotice && (force || s.aged(it, now))
	})
	for _, it := range notices {
		if err := s.apply(ctx, it); err != nil {
			return err
		}
	}
	return nil
}

// apply commits one released item.
func (s *Sequencer) apply(ctx context.Context, it item) error {
	switch it.kind {
	case itemNotice:
		n := it.event.(ir.BackgroundNotice)
		return s.commit(ctx, ir.HistoryEntry{
			Key:       n.Key,
			Kind:      ir.EntryNotice,
			Content:   n.Content,
			Finalized: true,
		})

	case itemPartial:
		if s.duplicate(it.stream, it.key) {
			return nil
		}
		d := it.event.(ir.Delta)
		return s.commit(ctx, ir.HistoryEntry{
			Key:      d.Key,
			StreamID: d.StreamID,
			Kind:     ir.EntryPartial,
			Content:  d.Content,
		})

	case itemFinal:
		return s.commitFinal(ctx, it.event.(ir.Final))

	case itemInvocation:
		return s.openInvocation(ctx, it.event.(ir.InvocationBegin))

	case itemTurnComplete:
		return s.closeTurn(ctx, ir.TurnEndCompleted, it.key)
	}
	return nil
}

func (s *Sequencer) commitFinal(ctx context.Context, f ir.Final) error {
	if s.duplicate(f.StreamID, f.Key) {
		s.logger.Debug("duplicate final dropped", "stream_id", f.StreamID, "order_key", f.Key.String())
		return nil
	}

	content := f.Content
	if acc, ok := s.accumulators[f.StreamID]; ok {
		var dropped int
		content, dropped = acc.Close(f)
		delete(s.accumulators, f.StreamID)
		if dropped > 0 {
			s.logger.Warn("deltas keyed after final discarded",
				"stream_id", f.StreamID,
				"order_key", f.Key.String(),
				"dropped", dropped,
			)
		}
	}

	return s.commit(ctx, ir.HistoryEntry{
		Key:       f.Key,
		StreamID:  f.StreamID,
		Kind:      ir.EntryMessage,
		Content:   content,
		Finalized: true,
	})
}

// openInvocation commits an invocation entry and registers it as pending. A
// result that arrived while the begin was buffered is committed right after.
func (s *Sequencer) openInvocation(ctx context.Context, b ir.InvocationBegin) error {
	if s.duplicate(b.StreamID, b.Key) {
		s.logger.Debug("duplicate invocation begin dropped", "call_id", b.CallID, "order_key", b.Key.String())
		return nil
	}

	if stale, ok := s.registry.Get(b.CallID); ok {
		s.logger.Warn("duplicate invocation: forcing stale entry",
			"call_id", b.CallID,
			"stale_key", stale.Key.String(),
			"order_key", b.Key.String(),
			"code", ErrCodeDuplicateInvocation,
		)
		if err := s.forceResolve(ctx, stale, s.syntheticFailure, "superseded by duplicate invocation"); err != nil {
			return err
		}
		if _, done := s.terminal[b.StreamID]; done {
			s.logger.Warn("re-issued invocation reuses a closed stream, dropped",
				"call_id", b.CallID,
				"stream_id", b.StreamID,
			)
			delete(s.early, b.CallID)
			return nil
		}
	}

	if err := s.commit(ctx, ir.HistoryEntry{
		Key:      b.Key,
		StreamID: b.StreamID,
		Kind:     ir.EntryInvocation,
		Content:  b.Payload,
		CallID:   b.CallID,
	}); err != nil {
		return err
	}
	if err := s.registry.Register(b.CallID, b.StreamID, b.Key, s.now.Now()); err != nil {
		return err
	}
	delete(s.resolved, b.CallID)
	s.logger.Debug("invocation pending", "call_id", b.CallID, "order_key", b.Key.String())

	if result, ok := s.early[b.CallID]; ok {
		delete(s.early, b.CallID)
		p, _ := s.registry.Resolve(b.CallID)
		return s.commitResult(ctx, p, result, false)
	}
	return nil
}

// result handles an InvocationEnd. A result for a pending call commits
// immediately after its invocation; one whose begin is still buffered is
// held; anything else is an orphan.
func (s *Sequencer) result(ctx context.Context, end ir.InvocationEnd) error {
	if p, ok := s.registry.Resolve(end.CallID); ok {
		return s.commitResult(ctx, p, end.Result, false)
	}

	if s.buffer.HasBegin(end.CallID) {
		if _, dup := s.early[end.CallID]; dup {
			s.logger.Debug("duplicate early result dropped", "call_id", end.CallID)
			return nil
		}
		s.early[end.CallID] = end.Result
		s.logger.Debug("result held until invocation commits", "call_id", end.CallID)
		return nil
	}

	_, forced := s.resolved[end.CallID]
	s.logger.Warn("orphaned invocation result dropped",
		"call_id", end.CallID,
		"previously_resolved", forced,
		"code", ErrCodeOrphanedResult,
	)
	return nil
}

func (s *Sequencer) commitResult(ctx context.Context, p PendingInvocation, content string, synthetic bool) error {
	s.resolved[p.CallID] = struct{}{}
	return s.commit(ctx, ir.HistoryEntry{
		Key:       p.Key,
		StreamID:  p.StreamID,
		Kind:      ir.EntryInvocationResult,
		Content:   content,
		Finalized: true,
		CallID:    p.CallID,
		Synthetic: synthetic,
	})
}
