// Package harness runs sequencer conformance scenarios.
//
// A scenario delivers events in a chosen arrival order, interleaved with
// releases, ticks and fake-clock advances, then asserts over the committed
// history. Every run also checks the history invariants and replays the
// persisted session to confirm it reproduces what the sink received.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: invocation_gates_delta
//	description: "A delta keyed after an invocation waits for its result"
//	config:
//	  partial_commits: true
//	steps:
//	  - deliver:
//	      - {type: invocation_begin, stream: call-7, key: [1, 0, 5], call: "7", content: ls}
//	      - {type: delta, stream: B, key: [1, 0, 6], content: out}
//	  - release: true
//	  - deliver:
//	      - {type: invocation_end, call: "7", content: ok}
//	  - release: true
//	assertions:
//	  - type: kinds
//	    kinds: [invocation, invocation_result, partial]
//	  - type: never_committed
//	    entry: {stream: D}
//
// Event types are the wire names: delta, final, invocation_begin,
// invocation_end, notice, interrupt and turn_complete. Content carries the
// text, payload or result depending on the type.
//
// # Assertion Types
//
//   - commit_order: entries matching each matcher appear in this order
//   - kinds: the committed kind sequence is exactly this
//   - count: exactly N entries match
//   - never_committed: no entry matches
//   - state: the interrupt controller state and pending invocation count
//
// # Deterministic Testing
//
// Each run uses a fresh in-memory SQLite store, a fixed session id and a
// fake clock starting at testutil.Epoch, so a scenario always commits the
// same history. Golden files under testdata/golden hold that history in
// canonical JSON, one entry per line.
package harness
