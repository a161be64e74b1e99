package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/turnseq/internal/ir"
)

func deltaEnv(seq uint64) envelope {
	return envelope{event: ir.Delta{StreamID: "a", Key: ir.Key(1, 0, seq), Content: "x"}}
}

func TestIngestQueue_FIFOWithArrivalStamps(t *testing.T) {
	q := newIngestQueue(8)
	ctx := context.Background()

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, q.Enqueue(ctx, deltaEnv(i)))
	}

	for i := uint64(1); i <= 3; i++ {
		env, ok := q.TryDequeue()
		require.True(t, ok)
		key, _ := ir.KeyOf(env.event)
		assert.Equal(t, i, key.SequenceNumber)
		assert.Equal(t, int64(i), env.arrival, "arrival is stamped in enqueue order")
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestIngestQueue_BlocksWhenFull(t *testing.T) {
	q := newIngestQueue(1)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, deltaEnv(1)))

	done := make(chan error, 1)
	go func() {
		done <- q.Enqueue(ctx, deltaEnv(2))
	}()

	select {
	case <-done:
		t.Fatal("enqueue should block while the queue is full")
	case <-time.After(20 * time.Millisecond):
	}

	_, ok := q.TryDequeue()
	require.True(t, ok)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("enqueue did not resume after a slot freed")
	}
	assert.Equal(t, 1, q.Len())
}

func TestIngestQueue_EnqueueHonorsContext(t *testing.T) {
	q := newIngestQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), deltaEnv(1)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := q.Enqueue(ctx, deltaEnv(2))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIngestQueue_CloseWakesProducers(t *testing.T) {
	q := newIngestQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), deltaEnv(1)))

	done := make(chan error, 1)
	go func() {
		done <- q.Enqueue(context.Background(), deltaEnv(2))
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("Close did not wake the blocked producer")
	}

	// Items queued before Close are still delivered.
	_, ok := q.TryDequeue()
	assert.True(t, ok)

	_, open := <-q.Wait()
	assert.False(t, open, "wait channel is closed")
}

func TestIngestQueue_ManyProducersDrainCompletely(t *testing.T) {
	q := newIngestQueue(4)
	ctx := context.Background()
	const producers = 8
	const perProducer = 50

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = q.Enqueue(ctx, deltaEnv(uint64(i)))
			}
		}()
	}

	received := 0
	deadline := time.After(5 * time.Second)
	for received < producers*perProducer {
		if _, ok := q.TryDequeue(); ok {
			received++
			continue
		}
		select {
		case <-q.Wait():
		case <-deadline:
			t.Fatalf("stalled after %d items", received)
		}
	}
	wg.Wait()
	assert.Equal(t, 0, q.Len())
}

func TestProducer_EmitRejectsMalformed(t *testing.T) {
	s := New(SinkFunc(func(context.Context, ir.HistoryEntry) error { return nil }), nil, WithLogger(discardLogger()))
	p := s.Producer("model")

	err := p.Emit(context.Background(), ir.Delta{Key: ir.Key(1, 0, 1)})
	require.Error(t, err)
	assert.True(t, IsMalformed(err))

	env, ok := s.queue.TryDequeue()
	require.True(t, ok, "a diagnostic marker is queued")
	assert.Nil(t, env.event, "the malformed event itself is not queued")
	assert.Error(t, env.rejected)
	assert.Equal(t, "model", env.producer)
}

func TestProducer_EmitAfterStop(t *testing.T) {
	s := New(SinkFunc(func(context.Context, ir.HistoryEntry) error { return nil }), nil, WithLogger(discardLogger()))
	p := s.Producer("model")
	s.Stop()

	err := p.Emit(context.Background(), ir.Interrupt{})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestCancelToken_Lifecycle(t *testing.T) {
	tok := NewCancelToken()
	assert.False(t, tok.Cancelled())
	assert.Equal(t, uint64(0), tok.Ordinal())

	done := tok.Done()
	tok.cancel(3)
	assert.True(t, tok.Cancelled())
	assert.True(t, tok.CancelledFor(3))
	assert.False(t, tok.CancelledFor(4))
	assert.Equal(t, uint64(3), tok.Ordinal())

	select {
	case <-done:
	default:
		t.Fatal("Done channel should be closed once cancelled")
	}

	tok.clear()
	assert.False(t, tok.Cancelled())
	select {
	case <-tok.Done():
		t.Fatal("a cleared token hands out a fresh channel")
	default:
	}
}
