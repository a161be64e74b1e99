package engine

import (
	"fmt"
	"slices"
	"time"

	"github.com/roach88/turnseq/internal/ir"
)

// PendingInvocation is an invocation committed upstream whose result has not
// been committed yet.
type PendingInvocation struct {
	CallID   string
	StreamID ir.StreamID
	Key      ir.OrderKey
	OpenedAt time.Time

	// opened is the registration order, used when several invocations are
	// force-resolved at once.
	opened int64
}

// Registry tracks pending invocations by call id. It is owned by the
// sequencer loop and is not safe for concurrent use.
//
// Turn contexts never hold pointers into the registry; they look pending
// invocations up by request ordinal or call id.
type Registry struct {
	byCall map[string]*PendingInvocation
	opened int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byCall: make(map[string]*PendingInvocation)}
}

// Register records a pending invocation. It fails with a
// DUPLICATE_INVOCATION RuntimeError if callID is already pending; the caller
// must force-resolve the stale entry first.
func (r *Registry) Register(callID string, stream ir.StreamID, key ir.OrderKey, now time.Time) error {
	if _, exists := r.byCall[callID]; exists {
		return &RuntimeError{
			Code:     ErrCodeDuplicateInvocation,
			Message:  fmt.Sprintf("call id already pending at %s", r.byCall[callID].Key),
			CallID:   callID,
			StreamID: stream,
			Key:      key,
		}
	}
	r.opened++
	r.byCall[callID] = &PendingInvocation{
		CallID:   callID,
		StreamID: stream,
		Key:      key,
		OpenedAt: now,
		opened:   r.opened,
	}
	return nil
}

// Resolve removes and returns the pending invocation for callID. It reports
// false for an unknown call id; callers log that as an orphaned result.
func (r *Registry) Resolve(callID string) (PendingInvocation, bool) {
	p, ok := r.byCall[callID]
	if !ok {
		return PendingInvocation{}, false
	}
	delete(r.byCall, callID)
	return *p, true
}

// Get returns the pending invocation for callID without removing it.
func (r *Registry) Get(callID string) (PendingInvocation, bool) {
	p, ok := r.byCall[callID]
	if !ok {
		return PendingInvocation{}, false
	}
	return *p, true
}

// HasPending reports whether any invocation of the given turn is pending.
func (r *Registry) HasPending(requestOrdinal uint64) bool {
	for _, p := range r.byCall {
		if p.Key.RequestOrdinal == requestOrdinal {
			return true
		}
	}
	return false
}

// Gate returns the lowest-keyed pending invocation of the turn. Entries of
// the turn keyed after it must wait.
func (r *Registry) Gate(requestOrdinal uint64) (PendingInvocation, bool) {
	var gate *PendingInvocation
	for _, p := range r.byCall {
		if p.Key.RequestOrdinal != requestOrdinal {
			continue
		}
		if gate == nil || p.Key.Less(gate.Key) {
			gate = p
		}
	}
	if gate == nil {
		return PendingInvocation{}, false
	}
	return *gate, true
}

// Pending returns the pending invocations of a turn in the order they were
// opened.
func (r *Registry) Pending(requestOrdinal uint64) []PendingInvocation {
	return r.collect(func(p *PendingInvocation) bool {
		return p.Key.RequestOrdinal == requestOrdinal
	})
}

// Expired returns every pending invocation opened at least horizon before
// now, in the order they were opened. A non-positive horizon disables expiry.
func (r *Registry) Expired(now time.Time, horizon time.Duration) []PendingInvocation {
	if horizon <= 0 {
		return nil
	}
	return r.collect(func(p *PendingInvocation) bool {
		return !now.Before(p.OpenedAt.Add(horizon))
	})
}

// NextExpiry returns the earliest moment a pending invocation expires.
func (r *Registry) NextExpiry(horizon time.Duration) (time.Time, bool) {
	if horizon <= 0 || len(r.byCall) == 0 {
		return time.Time{}, false
	}
	var next time.Time
	for _, p := range r.byCall {
		at := p.OpenedAt.Add(horizon)
		if next.IsZero() || at.Before(next) {
			next = at
		}
	}
	return next, true
}

// Len returns the number of pending invocations across all turns.
func (r *Registry) Len() int {
	return len(r.byCall)
}

func (r *Registry) collect(keep func(*PendingInvocation) bool) []PendingInvocation {
	var out []PendingInvocation
	for _, p := range r.byCall {
		if keep(p) {
			out = append(out, *p)
		}
	}
	slices.SortFunc(out, func(a, b PendingInvocation) int {
		return int(a.opened - b.opened)
	})
	return out
}
