package engine

import (
	"sync/atomic"
	"time"
)

// Clock is a monotonic logical clock.
//
// The sequencer uses two: one stamps arrival order on ingested events (the
// tie-break when order keys are equal), the other assigns commit sequence
// numbers to history entries. Neither ever reads wall-clock time.
//
// Clock is safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock starting at start. Used on resume so commit
// sequence numbers continue from the last replayed entry.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next increments the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current value without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// TimeSource supplies wall-clock time for timeouts only: the invocation
// horizon, the drain deadline and the reorder window. Ordering never depends
// on it.
type TimeSource interface {
	Now() time.Time
}

// SystemTime reads the real clock.
type SystemTime struct{}

// Now returns time.Now().
func (SystemTime) Now() time.Time {
	return time.Now()
}
