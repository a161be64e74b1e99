package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/turnseq/internal/ir"
)

var (
	// ErrQueueClosed is returned by Producer.Emit once the sequencer has been
	// stopped.
	ErrQueueClosed = errors.New("ingestion queue closed")

	// ErrHalted is wrapped by every call made after a persistence failure.
	// The sequencer never commits again once halted.
	ErrHalted = errors.New("sequencer halted")
)

// RuntimeError is an anomaly detected while sequencing.
//
// Only ErrCodePersistenceFailure is ever returned from Run. The other codes
// are handled locally: they are logged, surfaced as diagnostic notices, and
// returned from Producer.Emit or the registry so callers can match them.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// CallID identifies the invocation, when one is involved.
	CallID string

	// StreamID identifies the stream, when one is involved.
	StreamID ir.StreamID

	// Key is the order key of the offending event, when it has one.
	Key ir.OrderKey

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeMalformedEvent marks an event rejected at the ingestion boundary.
	ErrCodeMalformedEvent RuntimeErrorCode = "MALFORMED_EVENT"

	// ErrCodeDuplicateInvocation marks an InvocationBegin for a call id that
	// is already pending.
	ErrCodeDuplicateInvocation RuntimeErrorCode = "DUPLICATE_INVOCATION"

	// ErrCodeStalledInvocation marks an invocation force-resolved after its
	// timeout horizon.
	ErrCodeStalledInvocation RuntimeErrorCode = "STALLED_INVOCATION"

	// ErrCodeOrphanedResult marks an InvocationEnd with no pending invocation.
	ErrCodeOrphanedResult RuntimeErrorCode = "ORPHANED_RESULT"

	// ErrCodePersistenceFailure marks a failed sink delivery or log append.
	ErrCodePersistenceFailure RuntimeErrorCode = "PERSISTENCE_FAILURE"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.CallID != "":
		msg += fmt.Sprintf(" (call=%s)", e.CallID)
	case e.StreamID != "":
		msg += fmt.Sprintf(" (stream=%s)", e.StreamID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsMalformed reports whether err is a rejected-at-boundary error.
func IsMalformed(err error) bool {
	return hasCode(err, ErrCodeMalformedEvent)
}

// IsDuplicateInvocation reports whether err is a duplicate registration.
func IsDuplicateInvocation(err error) bool {
	return hasCode(err, ErrCodeDuplicateInvocation)
}

// IsPersistenceFailure reports whether err stopped commit progress.
func IsPersistenceFailure(err error) bool {
	return hasCode(err, ErrCodePersistenceFailure)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

func newMalformedError(err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeMalformedEvent,
		Message: "event rejected at ingestion boundary",
		Err:     err,
	}
}

func newPersistenceError(entry ir.HistoryEntry, err error) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodePersistenceFailure,
		Message:  fmt.Sprintf("commit of entry %d failed", entry.Seq),
		CallID:   entry.CallID,
		StreamID: entry.StreamID,
		Key:      entry.Key,
		Err:      err,
	}
}
