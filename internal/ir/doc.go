// Package ir holds the value types shared by every other package: order keys,
// stream ids, the sealed Event union delivered by producers, and the
// HistoryEntry records committed by the sequencer.
//
// ir imports nothing internal. Events are immutable values; once a producer
// hands one to the ingestion queue it is never mutated.
//
// Canonical JSON (RFC 8785 subset, NFC strings, no floats) is the only
// encoding used for entry digests and for the JSONL transcript, so two
// processes that commit the same history produce byte-identical files.
package ir
