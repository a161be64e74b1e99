package engine

import (
	"log/slog"
	"time"
)

// Defaults applied by New.
const (
	DefaultQueueCapacity     = 256
	DefaultInvocationTimeout = 30 * time.Second
	DefaultDrainTimeout      = 5 * time.Second

	DefaultSyntheticCancelled = "aborted"
	DefaultSyntheticFailure   = "failed: superseded by duplicate invocation"
	DefaultTruncationMarker   = "\n[interrupted]"
)

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Sequencer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTimeSource replaces the wall clock used for timeouts.
func WithTimeSource(ts TimeSource) Option {
	return func(s *Sequencer) {
		if ts != nil {
			s.now = ts
		}
	}
}

// WithQueueCapacity bounds the ingestion queue.
func WithQueueCapacity(n int) Option {
	return func(s *Sequencer) {
		s.queueCapacity = n
	}
}

// WithInvocationTimeout sets the horizon after which a pending invocation is
// force-resolved with the synthetic cancelled result. Zero disables it.
func WithInvocationTimeout(d time.Duration) Option {
	return func(s *Sequencer) {
		s.invocationTimeout = d
	}
}

// WithDrainTimeout bounds how long an interrupted turn waits for outstanding
// results before it is drained anyway.
func WithDrainTimeout(d time.Duration) Option {
	return func(s *Sequencer) {
		s.drainTimeout = d
	}
}

// WithReorderWindow holds buffered events for at least d after arrival before
// release, giving late events of lower keys a chance to overtake them. Zero
// releases at the end of every drained batch.
func WithReorderWindow(d time.Duration) Option {
	return func(s *Sequencer) {
		s.reorderWindow = d
	}
}

// WithPartialCommits commits every delta as an unfinalized partial entry for
// sinks that render incrementally.
func WithPartialCommits(enabled bool) Option {
	return func(s *Sequencer) {
		s.partialCommits = enabled
	}
}

// WithSyntheticResults overrides the content of force-resolved results:
// cancelled for timeouts, interrupts and superseded turns, failure for
// duplicate invocations. Empty strings keep the defaults.
func WithSyntheticResults(cancelled, failure string) Option {
	return func(s *Sequencer) {
		if cancelled != "" {
			s.syntheticCancelled = cancelled
		}
		if failure != "" {
			s.syntheticFailure = failure
		}
	}
}

// WithTruncationMarker sets the text appended to streams cut short by an
// interrupt or a superseded turn.
func WithTruncationMarker(marker string) Option {
	return func(s *Sequencer) {
		s.truncationMarker = marker
	}
}
