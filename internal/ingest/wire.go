package ingest

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/roach88/turnseq/internal/ir"
)

// Frame is the wire form of one event. Type is an ir.EventKind. Content
// carries the delta or final text, the invocation payload, the invocation
// result, or the notice text, depending on Type.
type Frame struct {
	Type     ir.EventKind `msgpack:"type"`
	StreamID string       `msgpack:"stream_id,omitempty"`
	Key      ir.OrderKey  `msgpack:"key"`
	CallID   string       `msgpack:"call_id,omitempty"`
	Content  string       `msgpack:"content,omitempty"`
}

// FrameOf converts an event to its wire form.
func FrameOf(ev ir.Event) Frame {
	f := Frame{Type: ev.Kind()}
	switch e := ev.(type) {
	case ir.Delta:
		f.StreamID, f.Key, f.Content = string(e.StreamID), e.Key, e.Content
	case ir.Final:
		f.StreamID, f.Key, f.Content = string(e.StreamID), e.Key, e.Content
	case ir.InvocationBegin:
		f.StreamID, f.Key, f.CallID, f.Content = string(e.StreamID), e.Key, e.CallID, e.Payload
	case ir.InvocationEnd:
		f.CallID, f.Content = e.CallID, e.Result
	case ir.BackgroundNotice:
		f.Key, f.Content = e.Key, e.Content
	case ir.TurnComplete:
		f.Key = e.Key
	}
	return f
}

// Event converts the frame to an event. Field validation is left to the
// sequencer boundary; only the type is checked here.
func (f Frame) Event() (ir.Event, error) {
	stream := ir.StreamID(f.StreamID)
	switch f.Type {
	case ir.EventDelta:
		return ir.Delta{StreamID: stream, Key: f.Key, Content: f.Content}, nil
	case ir.EventFinal:
		return ir.Final{StreamID: stream, Key: f.Key, Content: f.Content}, nil
	case ir.EventInvocationBegin:
		return ir.InvocationBegin{StreamID: stream, Key: f.Key, CallID: f.CallID, Payload: f.Content}, nil
	case ir.EventInvocationEnd:
		return ir.InvocationEnd{CallID: f.CallID, Result: f.Content}, nil
	case ir.EventBackgroundNotice:
		return ir.BackgroundNotice{Key: f.Key, Content: f.Content}, nil
	case ir.EventInterrupt:
		return ir.Interrupt{}, nil
	case ir.EventTurnComplete:
		return ir.TurnComplete{Key: f.Key}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", f.Type)
	}
}

// DecodeEvent decodes a frame payload into an event.
func DecodeEvent(payload []byte) (ir.Event, error) {
	var f Frame
	if err := msgpack.Unmarshal(payload, &f); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode event frame",
			Err:  err,
		}
	}
	ev, err := f.Event()
	if err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "invalid event frame",
			Err:  err,
		}
	}
	return ev, nil
}

// EncodeEvent encodes an event as a frame payload.
func EncodeEvent(ev ir.Event) ([]byte, error) {
	data, err := msgpack.Marshal(FrameOf(ev))
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", ev.Kind(), err)
	}
	return data, nil
}

// WriteEvent encodes ev and writes it as one frame.
func (e *FrameEncoder) WriteEvent(ev ir.Event) error {
	payload, err := EncodeEvent(ev)
	if err != nil {
		return err
	}
	return e.WriteFrame(payload)
}
