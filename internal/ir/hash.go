package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for digests. The version suffix allows the encoding to
// change without colliding with old digests.
const (
	DomainEntry      = "turnseq/entry/v1"
	DomainTranscript = "turnseq/transcript/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EntryDigest is the content digest of one committed entry, computed over its
// canonical encoding. Two entries with equal digests are the same record.
func EntryDigest(e HistoryEntry) (string, error) {
	canonical, err := e.Canonical()
	if err != nil {
		return "", fmt.Errorf("EntryDigest: %w", err)
	}
	return hashWithDomain(DomainEntry, canonical), nil
}

// MustEntryDigest is like EntryDigest but panics on error. Entries built by
// the sequencer always encode, so this is safe for them and for tests.
func MustEntryDigest(e HistoryEntry) string {
	d, err := EntryDigest(e)
	if err != nil {
		panic(err)
	}
	return d
}

// ChainDigest folds an entry digest into a running transcript digest. The
// digest of an empty transcript is "". Equal chain digests mean equal
// sequences, order included.
func ChainDigest(prev, entryDigest string) string {
	return hashWithDomain(DomainTranscript, []byte(prev+":"+entryDigest))
}

// TranscriptDigest returns the chain digest over a whole sequence.
func TranscriptDigest(entries []HistoryEntry) (string, error) {
	var acc string
	for _, e := range entries {
		d, err := EntryDigest(e)
		if err != nil {
			return "", err
		}
		acc = ChainDigest(acc, d)
	}
	return acc, nil
}
