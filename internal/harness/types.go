package harness

import (
	"github.com/roach88/turnseq/internal/ir"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every assertion held and no
	// invariant was violated.
	Pass bool `json:"pass"`

	// Entries are the committed entries in commit order, as the sink
	// received them.
	Entries []ir.HistoryEntry `json:"entries"`

	// State is the controller state after the last step.
	State string `json:"state"`

	// Pending is the number of invocations still pending.
	Pending int `json:"pending"`

	// Digest is the transcript digest of Entries.
	Digest string `json:"digest"`

	// Rejected counts delivered events the sequencer refused as malformed.
	Rejected int `json:"rejected,omitempty"`

	// Violations are invariant failures over Entries.
	Violations []Violation `json:"violations,omitempty"`

	// Errors contains assertion failure messages.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Entries: []ir.HistoryEntry{},
		Errors:  []string{},
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddViolation records an invariant failure and marks the result as failed.
func (r *Result) AddViolation(v Violation) {
	r.Violations = append(r.Violations, v)
	r.Pass = false
}
