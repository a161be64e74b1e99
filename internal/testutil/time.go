package testutil

import (
	"sync"
	"time"
)

// Epoch is the fixed start of every FakeTime.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// FakeTime is a manually advanced time source for timeout tests. It
// satisfies engine.TimeSource.
//
// Thread-safety: all methods are safe for concurrent use.
type FakeTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeTime creates a time source fixed at Epoch.
func NewFakeTime() *FakeTime {
	return &FakeTime{now: Epoch}
}

// Now returns the current fake time.
func (f *FakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves time forward by d and returns the new time.
func (f *FakeTime) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	return f.now
}

// Elapsed returns how far time has advanced since Epoch.
func (f *FakeTime) Elapsed() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now.Sub(Epoch)
}
