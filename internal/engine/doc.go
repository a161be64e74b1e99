// Package engine implements the turn event sequencer.
//
// Producers (model stream reader, subprocess reader, tool callbacks, the
// user-input listener) push ir.Event values through Producer handles into one
// bounded queue. A single goroutine runs Sequencer.Run and owns everything
// else: the reorder buffer, per-stream accumulators and watermarks, the
// pending invocation registry and the interrupt controller. Nothing below the
// queue is locked.
//
// Processing flow:
//  1. Run drains the queue in a batch; each event is routed to its turn
//  2. Deltas fold into their stream's Accumulator; finals, invocations,
//     notices and turn completions wait in the reorder buffer
//  3. After the batch, the buffer head is committed while it is releasable
//  4. Each commit goes to the Sink, then to the ReplayLog
//
// Ordering: entries commit in order key order. Ties between distinct events
// fall back to arrival order, which is not a strict guarantee.
//
// Pairing: an invocation entry is always followed by its result entry before
// any later-keyed entry of the same turn. Nothing waits forever: stalled
// invocations are force-resolved with a synthetic result after the timeout
// horizon, and interrupted turns drain within the drain timeout.
//
// Resume: Seed rebuilds state from the replay log so duplicate suppression
// stays correct across a restart.
package engine
