package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/turnseq/internal/engine"
	"github.com/roach88/turnseq/internal/ir"
	"github.com/roach88/turnseq/internal/store"
	"github.com/roach88/turnseq/internal/testutil"
)

// Harness is the scenario execution engine.
// It runs one scenario against a real sequencer with a fake clock, a
// recording sink and an in-memory SQLite replay log.
type Harness struct {
	store   *store.Store
	log     *store.Log
	seq     *engine.Sequencer
	sink    *testutil.RecordingSink
	clock   *testutil.FakeTime
	options []engine.Option
	logger  *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation, with time
// starting at testutil.Epoch, so identical scenarios produce identical
// histories.
//
// Execution flow:
// 1. Create fresh in-memory store and session
// 2. Build the sequencer from the scenario config
// 3. Execute steps
// 4. Check invariants and replay equivalence
// 5. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario, nil)
}

// RunContext is Run with a context and a logger for sequencer output. A nil
// logger discards it.
func RunContext(ctx context.Context, scenario *Scenario, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	cfg, err := scenario.sequencerConfig()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	session := engine.NewFixedGenerator("scenario:" + scenario.Name).Generate()
	if err := st.CreateSession(ctx, session, testutil.Epoch); err != nil {
		return nil, err
	}

	clock := testutil.NewFakeTime()
	opts := append(cfg.Options(),
		engine.WithTimeSource(clock),
		engine.WithLogger(logger),
	)

	h := &Harness{
		store:   st,
		log:     st.Log(session),
		sink:    &testutil.RecordingSink{},
		clock:   clock,
		options: opts,
		logger:  logger,
	}
	h.seq = engine.New(h.sink, h.log, opts...)

	result := NewResult()
	if err := h.executeSteps(ctx, scenario.Steps, result); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	result.Entries = h.sink.Entries()
	result.State = h.seq.State().String()
	result.Pending = h.seq.Pending()
	result.Digest, err = ir.TranscriptDigest(result.Entries)
	if err != nil {
		return nil, err
	}

	for _, v := range CheckInvariants(result.Entries) {
		result.AddViolation(v)
	}
	if err := h.checkReplay(ctx, result); err != nil {
		return nil, err
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	logger.Info("scenario completed",
		"scenario", scenario.Name,
		"entries", len(result.Entries),
		"pass", result.Pass,
	)
	return result, nil
}

// executeSteps runs the scenario steps in order. Malformed events are
// counted, not fatal: the sequencer commits a diagnostic for them.
func (h *Harness) executeSteps(ctx context.Context, steps []Step, result *Result) error {
	for i, step := range steps {
		switch {
		case len(step.Deliver) > 0:
			for j, spec := range step.Deliver {
				ev, err := spec.Event()
				if err != nil {
					return fmt.Errorf("step %d: event %d: %w", i, j, err)
				}
				if err := h.seq.Ingest(ctx, ev); err != nil {
					if engine.IsMalformed(err) {
						result.Rejected++
						continue
					}
					return fmt.Errorf("step %d: ingest %s: %w", i, ev.Kind(), err)
				}
			}

		case step.Release:
			if err := h.seq.Release(ctx); err != nil {
				return fmt.Errorf("step %d: release: %w", i, err)
			}

		case step.Tick:
			if err := h.seq.Tick(ctx); err != nil {
				return fmt.Errorf("step %d: tick: %w", i, err)
			}

		case step.Advance != "":
			d, err := time.ParseDuration(step.Advance)
			if err != nil {
				return fmt.Errorf("step %d: advance: %w", i, err)
			}
			h.clock.Advance(d)
		}

		h.logger.Debug("step completed",
			"step", i,
			"committed", h.sink.Len(),
			"state", h.seq.State().String(),
		)
	}
	return nil
}

// checkReplay reads the persisted session back and seeds a second sequencer
// from it. The replayed digest must equal the live one, and the seeded
// sequencer must resume at the same position with the same pending
// invocations.
func (h *Harness) checkReplay(ctx context.Context, result *Result) error {
	replayed, err := engine.Collect(h.log.Replay(ctx))
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	digest, err := ir.TranscriptDigest(replayed)
	if err != nil {
		return err
	}
	if digest != result.Digest || len(replayed) != len(result.Entries) {
		result.AddViolation(Violation{
			Invariant: InvariantReplay,
			Seq:       int64(len(replayed)),
			Message:   fmt.Sprintf("replayed %d entries, sink received %d, digests differ", len(replayed), len(result.Entries)),
		})
		return nil
	}

	discard := engine.SinkFunc(func(context.Context, ir.HistoryEntry) error { return nil })
	resumed := engine.New(discard, h.log, h.options...)
	if err := resumed.Seed(ctx); err != nil {
		return fmt.Errorf("seed from replay: %w", err)
	}
	if resumed.LastSeq() != h.seq.LastSeq() || resumed.Pending() != h.seq.Pending() {
		result.AddViolation(Violation{
			Invariant: InvariantReplay,
			Seq:       resumed.LastSeq(),
			Message: fmt.Sprintf("seeded sequencer at #%d with %d pending, live at #%d with %d pending",
				resumed.LastSeq(), resumed.Pending(), h.seq.LastSeq(), h.seq.Pending()),
		})
	}
	return nil
}
