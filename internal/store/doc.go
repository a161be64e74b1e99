// Package store provides the SQLite-backed replay log.
//
// The store is an append-only log of committed history entries, grouped by
// session:
//   - Sessions: one row per session id (UUIDv7), with creation time and
//     entry format version
//   - Entries: one row per committed entry, keyed by (session_id, seq)
//
// # Invariants
//
// Append-only: rows are never updated (a trigger aborts UPDATE) and a seq is
// never reused. Re-appending an identical entry is a no-op; a different entry
// at the same seq fails with ErrDivergent.
//
// Logical order: replay uses ORDER BY seq ASC, never timestamps.
//
// Integrity: every row carries the entry digest from internal/ir (RFC 8785
// canonical JSON, SHA-256 with domain separation). Replay recomputes it and
// fails with ErrCorrupt on mismatch.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Entries must belong to a created session
package store
