package ir

// EventKind discriminates the Event union. Values are stable strings used in
// producer frames, scenario files and logs.
type EventKind string

const (
	EventDelta            EventKind = "delta"
	EventFinal            EventKind = "final"
	EventInvocationBegin  EventKind = "invocation_begin"
	EventInvocationEnd    EventKind = "invocation_end"
	EventBackgroundNotice EventKind = "notice"
	EventInterrupt        EventKind = "interrupt"
	EventTurnComplete     EventKind = "turn_complete"
)

// Event is a sealed interface over the values producers deliver to the
// sequencer. Only the types in this file implement it; the sequencer matches
// them exhaustively with a type switch.
type Event interface {
	Kind() EventKind
	isEvent()
}

// Delta is one incremental chunk of an evolving stream.
type Delta struct {
	StreamID StreamID
	Key      OrderKey
	Content  string
}

// Final closes a stream. Its content is merged with any accumulated deltas.
type Final struct {
	StreamID StreamID
	Key      OrderKey
	Content  string
}

// InvocationBegin announces a tool or command call sent upstream. Nothing
// later in the same turn may commit until the matching InvocationEnd (or a
// synthetic result) commits.
type InvocationBegin struct {
	StreamID StreamID
	Key      OrderKey
	CallID   string
	Payload  string
}

// InvocationEnd carries the result for a previously begun call. It has no key
// of its own: the result is committed directly after its invocation.
type InvocationEnd struct {
	CallID string
	Result string
}

// BackgroundNotice is an out-of-band note. Notices never block and are never
// blocked by pending invocations.
type BackgroundNotice struct {
	Key     OrderKey
	Content string
}

// Interrupt asks the sequencer to stop the active turn.
type Interrupt struct{}

// TurnComplete marks the normal end of a turn. It is ordered like any other
// entry of the turn and closes it once released.
type TurnComplete struct {
	Key OrderKey
}

func (Delta) Kind() EventKind            { return EventDelta }
func (Final) Kind() EventKind            { return EventFinal }
func (InvocationBegin) Kind() EventKind  { return EventInvocationBegin }
func (InvocationEnd) Kind() EventKind    { return EventInvocationEnd }
func (BackgroundNotice) Kind() EventKind { return EventBackgroundNotice }
func (Interrupt) Kind() EventKind        { return EventInterrupt }
func (TurnComplete) Kind() EventKind     { return EventTurnComplete }

func (Delta) isEvent()            {}
func (Final) isEvent()            {}
func (InvocationBegin) isEvent()  {}
func (InvocationEnd) isEvent()    {}
func (BackgroundNotice) isEvent() {}
func (Interrupt) isEvent()        {}
func (TurnComplete) isEvent()     {}

// KeyOf returns the order key carried by ev. InvocationEnd and Interrupt
// carry none and report false.
func KeyOf(ev Event) (OrderKey, bool) {
	switch e := ev.(type) {
	case Delta:
		return e.Key, true
	case Final:
		return e.Key, true
	case InvocationBegin:
		return e.Key, true
	case BackgroundNotice:
		return e.Key, true
	case TurnComplete:
		return e.Key, true
	default:
		return OrderKey{}, false
	}
}

// StreamOf returns the stream id carried by ev, or "" when the kind carries
// none.
func StreamOf(ev Event) StreamID {
	switch e := ev.(type) {
	case Delta:
		return e.StreamID
	case Final:
		return e.StreamID
	case InvocationBegin:
		return e.StreamID
	default:
		return ""
	}
}
