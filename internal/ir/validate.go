package ir

import (
	"fmt"
	"unicode/utf8"
)

// ValidationError describes why an event was rejected at the ingestion
// boundary.
type ValidationError struct {
	Kind    EventKind
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("%s.%s: %s", e.Kind, e.Field, e.Message)
}

// Validate checks an event against the ingestion contract and returns the
// first violation, or nil. A nil event is invalid.
//
// Stream-bearing events need a non-empty stream id. Every keyed event needs a
// non-zero request ordinal, since ordinal 0 is reserved for "no turn yet".
func Validate(ev Event) error {
	switch e := ev.(type) {
	case nil:
		return ValidationError{Field: "event", Message: "nil event"}
	case Delta:
		return validateStreamed(e.Kind(), e.StreamID, e.Key)
	case Final:
		return validateStreamed(e.Kind(), e.StreamID, e.Key)
	case InvocationBegin:
		if err := validateStreamed(e.Kind(), e.StreamID, e.Key); err != nil {
			return err
		}
		return validateCallID(e.Kind(), e.CallID)
	case InvocationEnd:
		return validateCallID(e.Kind(), e.CallID)
	case BackgroundNotice:
		return validateKey(e.Kind(), e.Key)
	case TurnComplete:
		return validateKey(e.Kind(), e.Key)
	case Interrupt:
		return nil
	default:
		return ValidationError{Field: "event", Message: fmt.Sprintf("unknown event type %T", ev)}
	}
}

func validateStreamed(kind EventKind, id StreamID, key OrderKey) error {
	if !id.Valid() {
		return ValidationError{Kind: kind, Field: "stream_id", Message: "must not be empty"}
	}
	if !utf8.ValidString(string(id)) {
		return ValidationError{Kind: kind, Field: "stream_id", Message: "must be valid UTF-8"}
	}
	return validateKey(kind, key)
}

func validateCallID(kind EventKind, id string) error {
	switch {
	case id == "":
		return ValidationError{Kind: kind, Field: "call_id", Message: "must not be empty"}
	case !utf8.ValidString(id):
		return ValidationError{Kind: kind, Field: "call_id", Message: "must be valid UTF-8"}
	}
	return nil
}

func validateKey(kind EventKind, key OrderKey) error {
	if key.RequestOrdinal == 0 {
		return ValidationError{Kind: kind, Field: "order_key", Message: "request_ordinal must be positive"}
	}
	return nil
}
