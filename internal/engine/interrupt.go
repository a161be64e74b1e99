package engine

import (
	"sync/atomic"
	"time"
)

// ControllerState is the interrupt controller's state.
type ControllerState int32

const (
	// Idle: no turn is active. The next turn must use a higher request
	// ordinal than any turn seen before.
	Idle ControllerState = iota

	// Running: a turn is active and ingestion is normal.
	Running

	// Interrupting: an interrupt was accepted. New Delta, Final and
	// InvocationBegin events of the turn are dropped; InvocationEnd is still
	// accepted for invocations already pending.
	Interrupting

	// Drained: every pending invocation of the interrupted turn is resolved,
	// really or synthetically, and unfinalized streams have been truncated.
	// Transient; the controller moves to Idle once the turn end is committed.
	Drained
)

// String returns the lowercase state name.
func (s ControllerState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Interrupting:
		return "interrupting"
	case Drained:
		return "drained"
	default:
		return "unknown"
	}
}

// InterruptController is the cooperative cancellation state machine.
//
// It never stops producers itself. It raises the shared CancelToken, which
// producers poll, and tells the sequencer which events to stop accepting.
// Transitions happen on the sequencer loop; State may be read from any
// goroutine.
type InterruptController struct {
	state        atomic.Int32
	token        *CancelToken
	drainTimeout time.Duration
	deadline     time.Time
	ordinal      uint64
}

// NewInterruptController creates an Idle controller.
func NewInterruptController(token *CancelToken, drainTimeout time.Duration) *InterruptController {
	return &InterruptController{token: token, drainTimeout: drainTimeout}
}

// State returns the current state.
func (c *InterruptController) State() ControllerState {
	return ControllerState(c.state.Load())
}

// Start moves Idle to Running for a new turn.
func (c *InterruptController) Start(requestOrdinal uint64) {
	c.ordinal = requestOrdinal
	c.state.Store(int32(Running))
}

// Interrupt moves Running to Interrupting, raises the cancellation token and
// arms the drain deadline. It reports false in any other state.
func (c *InterruptController) Interrupt(now time.Time) bool {
	if c.State() != Running {
		return false
	}
	c.deadline = now.Add(c.drainTimeout)
	c.state.Store(int32(Interrupting))
	c.token.cancel(c.ordinal)
	return true
}

// Deadline returns the drain deadline while Interrupting.
func (c *InterruptController) Deadline() (time.Time, bool) {
	if c.State() != Interrupting {
		return time.Time{}, false
	}
	return c.deadline, true
}

// ShouldDrain reports whether the interrupted turn can be drained: nothing is
// pending anymore, or the drain deadline has passed.
func (c *InterruptController) ShouldDrain(now time.Time, pending bool) bool {
	if c.State() != Interrupting {
		return false
	}
	return !pending || !now.Before(c.deadline)
}

// MarkDrained moves Interrupting to Drained.
func (c *InterruptController) MarkDrained() {
	if c.State() == Interrupting {
		c.state.Store(int32(Drained))
	}
}

// Finish returns the controller to Idle and clears the cancellation token.
func (c *InterruptController) Finish() {
	c.state.Store(int32(Idle))
	c.deadline = time.Time{}
	c.ordinal = 0
	c.token.clear()
}

// Blocks reports whether new content (Delta, Final, InvocationBegin,
// TurnComplete) of the given turn must be dropped because the turn is being
// interrupted.
func (c *InterruptController) Blocks(requestOrdinal uint64) bool {
	s := c.State()
	return (s == Interrupting || s == Drained) && requestOrdinal == c.ordinal
}
