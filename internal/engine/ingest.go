package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/turnseq/internal/ir"
)

// step applies one dequeued envelope to sequencer state. Only persistence
// failures are returned; every other anomaly is logged and handled here.
func (s *Sequencer) step(ctx context.Context, env envelope) error {
	if env.rejected != nil {
		return s.diagnostic(ctx, fmt.Sprintf("malformed event from %s dropped: %v", env.producer, env.rejected))
	}

	switch ev := env.event.(type) {
	case ir.Interrupt:
		s.interrupt(env.at)
		return nil
	case ir.InvocationEnd:
		return s.result(ctx, ev)
	case ir.BackgroundNotice:
		s.bufferNotice(env, ev)
		return nil
	case ir.Delta:
		return s.ingestDelta(ctx, env, ev)
	case ir.Final:
		return s.ingestKeyed(ctx, env, itemFinal, ev.StreamID, ev.Key)
	case ir.InvocationBegin:
		return s.ingestKeyed(ctx, env, itemInvocation, ev.StreamID, ev.Key)
	case ir.TurnComplete:
		return s.ingestKeyed(ctx, env, itemTurnComplete, "", ev.Key)
	default:
		// Unreachable: producers and Ingest validate first.
		return s.diagnostic(ctx, fmt.Sprintf("unknown event %T from %s dropped", ev, env.producer))
	}
}

// admit routes a keyed event to its turn. Events of closed or skipped turns
// are dropped; an event of a later turn closes the active one first. It
// reports false when the event must be dropped.
func (s *Sequencer) admit(ctx context.Context, env envelope, key ir.OrderKey) (bool, error) {
	ord := key.RequestOrdinal
	if ord <= s.closedThrough || (s.turn != nil && ord < s.turn.ordinal) {
		s.logger.Debug("late event for closed turn dropped",
			"kind", env.event.Kind(),
			"order_key", key.String(),
			"request_ordinal", ord,
			"producer", env.producer,
		)
		return false, nil
	}

	if s.turn != nil && ord > s.turn.ordinal {
		reason := ir.TurnEndSuperseded
		if s.turn.interrupted {
			reason = ir.TurnEndInterrupted
		}
		if err := s.closeTurn(ctx, reason, ir.OrderKey{}); err != nil {
			return false, err
		}
	}
	if s.turn == nil {
		s.startTurn(ord, env.at)
	}

	if s.ctrl.Blocks(ord) && !s.finishesStream(env.event) {
		s.logger.Debug("event for interrupted turn dropped",
			"kind", env.event.Kind(),
			"order_key", key.String(),
			"request_ordinal", ord,
		)
		return false, nil
	}
	return true, nil
}

// finishesStream reports whether ev is the Final of a stream the interrupted
// turn was already streaming, keyed before any pending invocation. Such a
// Final is not new content and still commits.
func (s *Sequencer) finishesStream(ev ir.Event) bool {
	f, ok := ev.(ir.Final)
	if !ok || s.turn == nil {
		return false
	}
	if _, streaming := s.turn.streams[f.StreamID]; !streaming {
		return false
	}
	gate, gated := s.registry.Gate(s.turn.ordinal)
	return !gated || f.Key.Less(gate.Key)
}

func (s *Sequencer) startTurn(ord uint64, at time.Time) {
	s.turn = &turnContext{
		ordinal:   ord,
		startedAt: at,
		streams:   make(map[ir.StreamID]struct{}),
	}
	s.ctrl.Start(ord)
	s.logger.Info("turn started", "request_ordinal", ord)
}

// duplicate reports whether key is at or below the stream's watermark, or
// the stream is already terminal.
func (s *Sequencer) duplicate(stream ir.StreamID, key ir.OrderKey) bool {
	if _, done := s.terminal[stream]; done {
		return true
	}
	wm, ok := s.watermarks[stream]
	return ok && !wm.Less(key)
}

func (s *Sequencer) ingestDelta(ctx context.Context, env envelope, d ir.Delta) error {
	ok, err := s.admit(ctx, env, d.Key)
	if !ok || err != nil {
		return err
	}
	if s.duplicate(d.StreamID, d.Key) {
		s.logger.Debug("duplicate delta dropped", "stream_id", d.StreamID, "order_key", d.Key.String())
		return nil
	}

	acc := s.accumulator(d.StreamID)
	if !acc.Add(d.Key, d.Content) {
		s.logger.Debug("duplicate delta dropped", "stream_id", d.StreamID, "order_key", d.Key.String())
		return nil
	}
	if s.partialCommits {
		s.buffer.Push(item{
			kind:     itemPartial,
			key:      d.Key,
			stream:   d.StreamID,
			arrival:  env.arrival,
			at:       env.at,
			event:    d,
			producer: env.producer,
		})
	}
	return nil
}

// ingestKeyed buffers a Final, InvocationBegin or TurnComplete.
func (s *Sequencer) ingestKeyed(ctx context.Context, env envelope, kind itemKind, stream ir.StreamID, key ir.OrderKey) error {
	ok, err := s.admit(ctx, env, key)
	if !ok || err != nil {
		return err
	}
	if stream != "" {
		if s.duplicate(stream, key) {
			s.logger.Debug("duplicate event dropped",
				"kind", env.event.Kind(),
				"stream_id", stream,
				"order_key", key.String(),
			)
			return nil
		}
		s.turn.streams[stream] = struct{}{}
	}
	if key.Less(s.frontier) {
		s.logger.Debug("out-of-order late arrival dropped",
			"kind", env.event.Kind(),
			"stream_id", stream,
			"order_key", key.String(),
			"frontier", s.frontier.String(),
		)
		return nil
	}

	it := item{
		kind:     kind,
		key:      key,
		stream:   stream,
		arrival:  env.arrival,
		at:       env.at,
		event:    env.event,
		producer: env.producer,
	}
	if !s.buffer.Push(it) {
		s.logger.Debug("duplicate event dropped",
			"kind", env.event.Kind(),
			"stream_id", stream,
			"order_key", key.String(),
		)
	}
	return nil
}

// bufferNotice buffers a producer notice. Notices are not tied to a turn and
// never open or close one.
func (s *Sequencer) bufferNotice(env envelope, n ir.BackgroundNotice) {
	floor := ir.MaxKey(s.frontier, s.lastNotice)
	if n.Key.Less(floor) || (!s.lastNotice.IsZero() && n.Key == s.lastNotice) {
		s.logger.Debug("late notice dropped", "order_key", n.Key.String(), "floor", floor.String())
		return
	}
	it := item{
		kind:     itemNotice,
		key:      n.Key,
		arrival:  env.arrival,
		at:       env.at,
		event:    n,
		producer: env.producer,
	}
	if !s.buffer.Push(it) {
		s.logger.Debug("duplicate notice dropped", "order_key", n.Key.String())
	}
}

func (s *Sequencer) accumulator(stream ir.StreamID) *Accumulator {
	acc, ok := s.accumulators[stream]
	if !ok {
		acc = NewAccumulator(stream)
		s.accumulators[stream] = acc
	}
	if s.turn != nil {
		s.turn.streams[stream] = struct{}{}
	}
	return acc
}
