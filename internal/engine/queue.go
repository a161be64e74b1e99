package engine

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/turnseq/internal/ir"
)

// envelope is one queued item. Either event is set, or rejected carries the
// validation failure of a malformed event so the consumer can surface a
// diagnostic notice without the event itself reaching sequencer state.
type envelope struct {
	event    ir.Event
	rejected error
	producer string
	arrival  int64
	at       time.Time
}

// ingestQueue is the bounded multi-producer, single-consumer queue between
// producers and the sequencer loop.
//
// Producers block in Enqueue only while the queue is full, and never while
// holding the lock. The consumer drains with TryDequeue and waits on Wait().
type ingestQueue struct {
	mu       sync.Mutex
	items    []envelope
	capacity int
	closed   bool
	arrivals *Clock

	signal chan struct{} // item available (buffered, size 1)
	space  chan struct{} // slot freed (buffered, size 1)
}

func newIngestQueue(capacity int) *ingestQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &ingestQueue{
		items:    make([]envelope, 0, min(capacity, 64)),
		capacity: capacity,
		arrivals: NewClock(),
		signal:   make(chan struct{}, 1),
		space:    make(chan struct{}, 1),
	}
}

// Enqueue appends env, stamping its arrival number under the lock so arrival
// order equals dequeue order. Blocks while the queue is full until a slot
// frees, ctx ends, or the queue closes.
func (q *ingestQueue) Enqueue(ctx context.Context, env envelope) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		}
		if len(q.items) < q.capacity {
			env.arrival = q.arrivals.Next()
			q.items = append(q.items, env)
			notify(q.signal)
			if len(q.items) < q.capacity {
				// Pass the wakeup on to the next blocked producer.
				notify(q.space)
			}
			q.mu.Unlock()
			return nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.space:
		}
	}
}

// TryDequeue removes the front item without blocking.
func (q *ingestQueue) TryDequeue() (envelope, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return envelope{}, false
	}

	env := q.items[0]
	q.items[0] = envelope{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	if !q.closed {
		notify(q.space)
	}
	q.mu.Unlock()
	return env, true
}

// Wait returns a channel that fires when items may be available. It is
// closed when the queue closes.
func (q *ingestQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued items.
func (q *ingestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further Enqueue calls and wakes every waiter. Items already
// queued can still be dequeued.
func (q *ingestQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
	close(q.space)
}

// notify performs a non-blocking send; the size-1 buffer coalesces signals.
// Callers hold q.mu so the channel cannot be closed underneath the send.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
