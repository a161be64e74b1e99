package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/turnseq/internal/ir"
)

// Sequencer is the single ordering authority. It converts events from every
// producer into committed history entries, in order key order, exactly once
// each.
//
// All state below the queue is owned by the goroutine that calls Run (or, in
// tests, by the caller of Ingest/Release/Tick). Producers only touch the
// queue through their Producer handles; no other locking exists.
//
// Thread-safety model:
//   - Producer.Emit, Stop, State, Token: safe from any goroutine
//   - Run, Ingest, Release, Tick, Seed: one goroutine only, never concurrently
type Sequencer struct {
	sink   Sink
	log    ReplayLog
	logger *slog.Logger
	now    TimeSource

	queueCapacity      int
	invocationTimeout  time.Duration
	drainTimeout       time.Duration
	reorderWindow      time.Duration
	partialCommits     bool
	syntheticCancelled string
	syntheticFailure   string
	truncationMarker   string
	keyLimit           uint64 // 0: no limit

	queue    *ingestQueue
	commits  *Clock
	token    *CancelToken
	ctrl     *InterruptController
	registry *Registry
	buffer   *reorderBuffer

	turn          *turnContext
	closedThrough uint64
	frontier      ir.OrderKey // highest key committed by a non-notice entry
	lastNotice    ir.OrderKey // highest key committed by a producer notice

	accumulators map[ir.StreamID]*Accumulator
	watermarks   map[ir.StreamID]ir.OrderKey
	terminal     map[ir.StreamID]struct{}
	resolved     map[string]struct{} // call ids resolved really or synthetically
	early        map[string]string   // results whose InvocationBegin is still buffered

	halted error
}

// turnContext is the active user turn. It refers to pending invocations only
// through the registry, by request ordinal.
type turnContext struct {
	ordinal     uint64
	startedAt   time.Time
	interrupted bool
	streams     map[ir.StreamID]struct{}
}

// New creates a Sequencer that commits to sink and then appends to log. A nil
// log disables persistence.
func New(sink Sink, log ReplayLog, opts ...Option) *Sequencer {
	s := &Sequencer{
		sink:               sink,
		log:                log,
		logger:             slog.Default(),
		now:                SystemTime{},
		queueCapacity:      DefaultQueueCapacity,
		invocationTimeout:  DefaultInvocationTimeout,
		drainTimeout:       DefaultDrainTimeout,
		syntheticCancelled: DefaultSyntheticCancelled,
		syntheticFailure:   DefaultSyntheticFailure,
		truncationMarker:   DefaultTruncationMarker,
		commits:            NewClock(),
		registry:           NewRegistry(),
		buffer:             newReorderBuffer(),
		accumulators:       make(map[ir.StreamID]*Accumulator),
		watermarks:         make(map[ir.StreamID]ir.OrderKey),
		terminal:           make(map[ir.StreamID]struct{}),
		resolved:           make(map[string]struct{}),
		early:              make(map[string]string),
	}

	for _, opt := range opts {
		opt(s)
	}
	if l, ok := log.(KeyLimiter); ok {
		s.keyLimit = l.KeyLimit()
	}

	s.queue = newIngestQueue(s.queueCapacity)
	s.token = NewCancelToken()
	s.ctrl = NewInterruptController(s.token, s.drainTimeout)
	return s
}

// Producer returns a new queue handle. name appears in logs and in the
// diagnostic notices for malformed events.
func (s *Sequencer) Producer(name string) *Producer {
	return &Producer{name: name, seq: s, token: s.token}
}

// Token returns the cancellation token shared with producers.
func (s *Sequencer) Token() *CancelToken {
	return s.token
}

// State returns the interrupt controller state.
func (s *Sequencer) State() ControllerState {
	return s.ctrl.State()
}

// Pending returns the number of pending invocations.
func (s *Sequencer) Pending() int {
	return s.registry.Len()
}

// Buffered returns the number of events waiting in the reorder buffer.
func (s *Sequencer) Buffered() int {
	return s.buffer.Len()
}

// LastSeq returns the sequence number of the last committed entry.
func (s *Sequencer) LastSeq() int64 {
	return s.commits.Current()
}

// Stop closes the ingestion queue. Run drains what is already queued,
// releases every releasable buffered event and returns nil.
func (s *Sequencer) Stop() {
	s.queue.Close()
}

// Run is the sequencer loop. It drains the queue in batches, releases
// buffered events after each batch, and sleeps until the next event or the
// next deadline (reorder window, invocation timeout, drain timeout).
//
// Run returns ctx.Err() on cancellation, nil after Stop, and a
// PERSISTENCE_FAILURE error wrapping ErrHalted if a commit fails.
func (s *Sequencer) Run(ctx context.Context) error {
	s.logger.Info("sequencer starting",
		"queue_capacity", s.queue.capacity,
		"invocation_timeout", s.invocationTimeout,
		"drain_timeout", s.drainTimeout,
		"reorder_window", s.reorderWindow,
		"partial_commits", s.partialCommits,
	)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		if err := s.drainQueue(ctx); err != nil {
			return err
		}
		if err := s.Tick(ctx); err != nil {
			return err
		}

		var wake <-chan time.Time
		if at, ok := s.nextWake(); ok {
			timer.Reset(max(at.Sub(s.now.Now()), 0))
			wake = timer.C
		} else {
			timer.Stop()
		}

		select {
		case <-ctx.Done():
			s.queue.Close()
			s.logger.Info("sequencer stopping: context cancelled")
			return ctx.Err()

		case _, open := <-s.queue.Wait():
			if !open {
				return s.shutdown(ctx)
			}

		case <-wake:
		}
	}
}

// Ingest processes one event synchronously, bypassing the queue. It does not
// release buffered events; call Release or Tick afterwards. Malformed events
// are rejected with a MALFORMED_EVENT error after their diagnostic notice is
// committed.
func (s *Sequencer) Ingest(ctx context.Context, ev ir.Event) error {
	if err := s.checkHalted(); err != nil {
		return err
	}
	env := envelope{event: ev, producer: "direct", arrival: s.queue.arrivals.Next(), at: s.now.Now()}
	if err := s.validate(ev); err != nil {
		s.logger.Error("malformed event rejected", "producer", env.producer, "error", err)
		if derr := s.step(ctx, envelope{rejected: err, producer: env.producer, arrival: env.arrival, at: env.at}); derr != nil {
			return derr
		}
		return newMalformedError(err)
	}
	return s.step(ctx, env)
}

// Release commits every buffered event that is releasable now: the head of
// the buffer is committed while it is not held by a pending invocation and,
// with a reorder window, has aged past it. An interrupted turn with nothing
// pending is closed first.
func (s *Sequencer) Release(ctx context.Context) error {
	if err := s.checkHalted(); err != nil {
		return err
	}
	if err := s.maybeDrain(ctx, s.now.Now()); err != nil {
		return err
	}
	return s.release(ctx, false)
}

// Tick force-resolves invocations past their timeout horizon, drains an
// interrupted turn whose deadline has passed, and releases.
func (s *Sequencer) Tick(ctx context.Context) error {
	if err := s.checkHalted(); err != nil {
		return err
	}
	now := s.now.Now()
	for _, p := range s.registry.Expired(now, s.invocationTimeout) {
		s.logger.Warn("invocation stalled past timeout",
			"call_id", p.CallID,
			"stream_id", p.StreamID,
			"order_key", p.Key.String(),
			"opened_at", p.OpenedAt,
			"code", ErrCodeStalledInvocation,
		)
		if err := s.forceResolve(ctx, p, s.syntheticCancelled, "stalled past timeout"); err != nil {
			return err
		}
	}
	if err := s.maybeDrain(ctx, now); err != nil {
		return err
	}
	return s.release(ctx, false)
}

// validate applies ir.Validate and the replay log's key limit.
func (s *Sequencer) validate(ev ir.Event) error {
	if err := ir.Validate(ev); err != nil {
		return err
	}
	if s.keyLimit == 0 {
		return nil
	}
	if key, ok := ir.KeyOf(ev); ok && (key.RequestOrdinal > s.keyLimit || key.SequenceNumber > s.keyLimit) {
		return ir.ValidationError{
			Kind:    ev.Kind(),
			Field:   "order_key",
			Message: fmt.Sprintf("%s exceeds the replay log limit %d", key, s.keyLimit),
		}
	}
	return nil
}

func (s *Sequencer) drainQueue(ctx context.Context) error {
	for {
		env, ok := s.queue.TryDequeue()
		if !ok {
			return nil
		}
		if err := s.step(ctx, env); err != nil {
			return err
		}
	}
}

// shutdown runs once the queue is closed: the remaining queued events are
// processed and buffered events are released without waiting for the reorder
// window. Pending invocations stay pending; a resumed session re-seeds them.
func (s *Sequencer) shutdown(ctx context.Context) error {
	if err := s.drainQueue(ctx); err != nil {
		return err
	}
	if err := s.maybeDrain(ctx, s.now.Now()); err != nil {
		return err
	}
	if err := s.release(ctx, true); err != nil {
		return err
	}
	s.logger.Info("sequencer stopping: queue closed",
		"pending", s.registry.Len(),
		"buffered", s.buffer.Len(),
	)
	return nil
}

// nextWake returns the earliest deadline the loop must wake for.
func (s *Sequencer) nextWake() (time.Time, bool) {
	var next time.Time
	consider := func(at time.Time) {
		if next.IsZero() || at.Before(next) {
			next = at
		}
	}
	if at, ok := s.nextAging(); ok {
		consider(at)
	}
	if at, ok := s.registry.NextExpiry(s.invocationTimeout); ok {
		consider(at)
	}
	if at, ok := s.ctrl.Deadline(); ok {
		consider(at)
	}
	return next, !next.IsZero()
}

// nextAging returns when the next buffered item that release could commit
// leaves the reorder window. A gated head only waits on the registry or the
// drain deadline; notices behind it still age out on their own.
func (s *Sequencer) nextAging() (time.Time, bool) {
	if s.reorderWindow <= 0 {
		return time.Time{}, false
	}
	head, ok := s.buffer.Peek()
	if !ok {
		return time.Time{}, false
	}
	now := s.now.Now()
	if !s.gated(head) {
		if s.aged(head, now) {
			return time.Time{}, false
		}
		return head.at.Add(s.reorderWindow), true
	}
	oldest, ok := s.buffer.Oldest(func(it item) bool {
		return it.kind == itemNotice && !s.aged(it, now)
	})
	if !ok {
		return time.Time{}, false
	}
	return oldest.Add(s.reorderWindow), true
}

func (s *Sequencer) checkHalted() error {
	if s.halted != nil {
		return fmt.Errorf("%w: %w", ErrHalted, s.halted)
	}
	return nil
}
