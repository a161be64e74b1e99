package ir

const (
	// FormatVersion is the persisted entry format. Stored in transcript
	// headers and in the sessions table.
	FormatVersion = 1

	// Version is the turnseq release version.
	Version = "0.1.0"
)
