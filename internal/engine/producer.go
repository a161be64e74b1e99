package engine

import (
	"context"
	"sync"

	"github.com/roach88/turnseq/internal/ir"
)

// Producer is the queue handle owned by one concurrent producer task: the
// model stream reader, a subprocess output reader, a tool callback, or the
// user-input listener.
//
// Emit is safe to call from the producer's goroutine while the sequencer
// runs elsewhere. Handles are cheap; create one per task.
type Producer struct {
	name  string
	seq   *Sequencer
	token *CancelToken
}

// Name returns the producer's name as it appears in logs.
func (p *Producer) Name() string {
	return p.name
}

// Emit validates ev and pushes it onto the ingestion queue.
//
// A malformed event is logged at error level and rejected with a
// MALFORMED_EVENT RuntimeError; only a diagnostic marker is queued, so the
// event itself never reaches sequencer state. Emit blocks while the queue is
// full and returns ErrQueueClosed after the sequencer stops.
func (p *Producer) Emit(ctx context.Context, ev ir.Event) error {
	if err := p.seq.validate(ev); err != nil {
		if qerr := p.Reject(ctx, err); qerr != nil {
			return qerr
		}
		return newMalformedError(err)
	}
	return p.seq.queue.Enqueue(ctx, envelope{event: ev, producer: p.name, at: p.seq.now.Now()})
}

// Reject records producer input that could not become an event: a
// diagnostic notice naming the producer and cause is committed in its place.
func (p *Producer) Reject(ctx context.Context, cause error) error {
	p.seq.logger.Error("malformed event rejected",
		"producer", p.name,
		"error", cause,
	)
	return p.seq.queue.Enqueue(ctx, envelope{rejected: cause, producer: p.name, at: p.seq.now.Now()})
}

// Cancelled reports whether the user has interrupted the turn this producer
// is emitting for. Producers poll it and stop emitting for that turn.
func (p *Producer) Cancelled(requestOrdinal uint64) bool {
	return p.token.CancelledFor(requestOrdinal)
}

// Token returns the shared cancellation token.
func (p *Producer) Token() *CancelToken {
	return p.token
}

// CancelToken is the cancellation flag shared by every producer and the
// sequencer. The sequencer sets it when an interrupt is accepted and clears
// it when the interrupt controller returns to Idle. Producers only read it.
type CancelToken struct {
	mu      sync.Mutex
	ordinal uint64
	set     bool
	done    chan struct{}
}

// NewCancelToken returns a cleared token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancelled reports whether the token is set.
func (t *CancelToken) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.set
}

// CancelledFor reports whether the token is set for the given turn.
func (t *CancelToken) CancelledFor(requestOrdinal uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.set && t.ordinal == requestOrdinal
}

// Ordinal returns the request ordinal being cancelled, or 0 when clear.
func (t *CancelToken) Ordinal() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.set {
		return 0
	}
	return t.ordinal
}

// Done returns a channel closed when the token is set. After the token is
// cleared a fresh channel is handed out, so callers re-read Done per turn.
func (t *CancelToken) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

func (t *CancelToken) cancel(requestOrdinal uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.set {
		return
	}
	t.set = true
	t.ordinal = requestOrdinal
	close(t.done)
}

func (t *CancelToken) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.set {
		return
	}
	t.set = false
	t.ordinal = 0
	t.done = make(chan struct{})
}
