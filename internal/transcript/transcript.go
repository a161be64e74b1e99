// Package transcript implements a replay log as a JSON Lines file: one
// session per file, a session_meta header line, then one canonical JSON
// history entry per line.
package transcript

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/turnseq/internal/ir"
)

// MetaType is the type discriminant of the header line.
const MetaType = "session_meta"

var (
	// ErrOutOfSequence is returned by Append when an entry's seq does not
	// follow the last appended one.
	ErrOutOfSequence = errors.New("entry out of sequence")

	// ErrNotCanonical is returned by Replay when a line is not the canonical
	// encoding of the entry it decodes to.
	ErrNotCanonical = errors.New("entry line is not canonical")
)

// Meta is the header line of a transcript file.
type Meta struct {
	Type          string    `json:"type"`
	SessionID     string    `json:"session_id"`
	FormatVersion int       `json:"format_version"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewMeta creates a header for a new session.
func NewMeta(sessionID string, createdAt time.Time) Meta {
	return Meta{
		Type:          MetaType,
		SessionID:     sessionID,
		FormatVersion: ir.FormatVersion,
		CreatedAt:     createdAt.UTC(),
	}
}

func (m Meta) validate() error {
	if m.Type != MetaType {
		return fmt.Errorf("header type %q, want %q", m.Type, MetaType)
	}
	if _, err := uuid.Parse(m.SessionID); err != nil {
		return fmt.Errorf("header session_id: %w", err)
	}
	if m.FormatVersion != ir.FormatVersion {
		return fmt.Errorf("unsupported format_version %d", m.FormatVersion)
	}
	return nil
}

// Log is a transcript file opened for appending. It satisfies
// engine.ReplayLog. Safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	meta    Meta
	lastSeq int64
}

// Open opens the transcript at path for appending. A missing or empty file
// is initialized with meta as its header; an existing file keeps its own
// header, meta is ignored, and appends continue after its last entry.
func Open(path string, meta Meta) (*Log, error) {
	l := &Log{path: path}

	existing, err := readHeader(path)
	fresh := errors.Is(err, errNoHeader)
	switch {
	case fresh:
		if err := meta.validate(); err != nil {
			return nil, fmt.Errorf("transcript %q: %w", path, err)
		}
		l.meta = meta
	case err != nil:
		return nil, err
	default:
		l.meta = existing
		last, err := lastSeq(path)
		if err != nil {
			return nil, err
		}
		l.lastSeq = last
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript %q: %w", path, err)
	}
	l.file = f

	if fresh {
		if err := l.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return l, nil
}

func (l *Log) writeHeader() error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(l.meta); err != nil {
		return fmt.Errorf("encode transcript header: %w", err)
	}
	if _, err := l.file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write transcript header: %w", err)
	}
	return nil
}

// Meta returns the session header.
func (l *Log) Meta() Meta {
	return l.meta
}

// Path returns the transcript file path.
func (l *Log) Path() string {
	return l.path
}

// Append writes entry as one canonical JSON line. Seq must be exactly one
// past the last appended entry.
func (l *Log) Append(_ context.Context, entry ir.HistoryEntry) error {
	line, err := entry.Canonical()
	if err != nil {
		return fmt.Errorf("append entry %d: %w", entry.Seq, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("append entry %d: transcript closed", entry.Seq)
	}
	if entry.Seq != l.lastSeq+1 {
		return fmt.Errorf("append entry %d after %d: %w", entry.Seq, l.lastSeq, ErrOutOfSequence)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append entry %d: %w", entry.Seq, err)
	}
	l.lastSeq = entry.Seq
	return nil
}

// Sync flushes the file to stable storage.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	return l.file.Sync()
}

// Close closes the file. Further appends fail.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("failed to close transcript: %w", err)
	}
	return nil
}

// Replay yields the entries of the transcript in file order.
func (l *Log) Replay(ctx context.Context) iter.Seq2[ir.HistoryEntry, error] {
	return Read(ctx, l.path)
}

// Read yields the entries of the transcript at path without opening it for
// appending. Every line must be the canonical encoding of its entry.
func Read(ctx context.Context, path string) iter.Seq2[ir.HistoryEntry, error] {
	return func(yield func(ir.HistoryEntry, error) bool) {
		f, err := os.Open(path)
		if err != nil {
			yield(ir.HistoryEntry{}, fmt.Errorf("open transcript: %w", err))
			return
		}
		defer f.Close()

		r := bufio.NewReader(f)
		if _, err := decodeHeader(r); err != nil {
			yield(ir.HistoryEntry{}, fmt.Errorf("transcript %q: %w", path, err))
			return
		}

		for lineNo := 2; ; lineNo++ {
			if err := ctx.Err(); err != nil {
				yield(ir.HistoryEntry{}, err)
				return
			}
			line, err := readLine(r)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(ir.HistoryEntry{}, fmt.Errorf("transcript line %d: %w", lineNo, err))
				return
			}
			e, err := decodeEntry(line)
			if err != nil {
				yield(ir.HistoryEntry{}, fmt.Errorf("transcript line %d: %w", lineNo, err))
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// ReadMeta returns the header of the transcript at path.
func ReadMeta(path string) (Meta, error) {
	m, err := readHeader(path)
	if errors.Is(err, errNoHeader) {
		return Meta{}, fmt.Errorf("transcript %q: empty file", path)
	}
	return m, err
}

var errNoHeader = errors.New("no header")

func readHeader(path string) (Meta, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Meta{}, errNoHeader
	}
	if err != nil {
		return Meta{}, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	m, err := decodeHeader(bufio.NewReader(f))
	if err != nil && !errors.Is(err, errNoHeader) {
		return Meta{}, fmt.Errorf("transcript %q: %w", path, err)
	}
	return m, err
}

func decodeHeader(r *bufio.Reader) (Meta, error) {
	line, err := readLine(r)
	if errors.Is(err, io.EOF) {
		return Meta{}, errNoHeader
	}
	if err != nil {
		return Meta{}, err
	}
	var m Meta
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return Meta{}, fmt.Errorf("decode header: %w", err)
	}
	if err := m.validate(); err != nil {
		return Meta{}, err
	}
	return m, nil
}

func lastSeq(path string) (int64, error) {
	var last int64
	for e, err := range Read(context.Background(), path) {
		if err != nil {
			return 0, err
		}
		last = e.Seq
	}
	return last, nil
}

// readLine returns the next line without its newline. A final line missing
// its newline is a torn write and is reported as an error.
func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return nil, fmt.Errorf("truncated line: %w", io.ErrUnexpectedEOF)
		}
		return nil, err
	}
	return line[:len(line)-1], nil
}

func decodeEntry(line []byte) (ir.HistoryEntry, error) {
	var e ir.HistoryEntry
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&e); err != nil {
		return ir.HistoryEntry{}, fmt.Errorf("decode entry: %w", err)
	}
	canonical, err := e.Canonical()
	if err != nil {
		return ir.HistoryEntry{}, err
	}
	if !bytes.Equal(canonical, line) {
		return ir.HistoryEntry{}, fmt.Errorf("entry %d: %w", e.Seq, ErrNotCanonical)
	}
	return e, nil
}
