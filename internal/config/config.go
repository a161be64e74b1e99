// Package config loads sequencer configuration from YAML or CUE files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/roach88/turnseq/internal/engine"
)

// Config holds every tunable of the sequencer.
type Config struct {
	QueueCapacity      int
	InvocationTimeout  time.Duration
	DrainTimeout       time.Duration
	ReorderWindow      time.Duration
	PartialCommits     bool
	SyntheticCancelled string
	SyntheticFailure   string
	TruncationMarker   string
}

// Default returns the configuration New uses when no option is given.
func Default() Config {
	return Config{
		QueueCapacity:      engine.DefaultQueueCapacity,
		InvocationTimeout:  engine.DefaultInvocationTimeout,
		DrainTimeout:       engine.DefaultDrainTimeout,
		SyntheticCancelled: engine.DefaultSyntheticCancelled,
		SyntheticFailure:   engine.DefaultSyntheticFailure,
		TruncationMarker:   engine.DefaultTruncationMarker,
	}
}

// Error codes for configuration failures.
const (
	ErrCodeRead      = "C001" // file unreadable
	ErrCodeFormat    = "C002" // unsupported extension
	ErrCodeParse     = "C003" // YAML or CUE syntax / schema error
	ErrCodeDuration  = "C004" // unparseable duration
	ErrCodeViolation = "C005" // value out of range
)

// Error is a configuration failure, with a source position when CUE
// reports one.
type Error struct {
	Code    string
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// file is the on-disk shape. Pointers distinguish absent fields, which keep
// their defaults, from zero values.
type file struct {
	QueueCapacity            *int    `yaml:"queue_capacity" json:"queue_capacity,omitempty"`
	InvocationTimeout        *string `yaml:"invocation_timeout" json:"invocation_timeout,omitempty"`
	DrainTimeout             *string `yaml:"drain_timeout" json:"drain_timeout,omitempty"`
	ReorderWindow            *string `yaml:"reorder_window" json:"reorder_window,omitempty"`
	PartialCommits           *bool   `yaml:"partial_commits" json:"partial_commits,omitempty"`
	SyntheticCancelledResult *string `yaml:"synthetic_cancelled_result" json:"synthetic_cancelled_result,omitempty"`
	SyntheticFailureResult   *string `yaml:"synthetic_failure_result" json:"synthetic_failure_result,omitempty"`
	TruncationMarker         *string `yaml:"truncation_marker" json:"truncation_marker,omitempty"`
}

var knownFields = map[string]bool{
	"queue_capacity":             true,
	"invocation_timeout":         true,
	"drain_timeout":              true,
	"reorder_window":             true,
	"partial_commits":            true,
	"synthetic_cancelled_result": true,
	"synthetic_failure_result":   true,
	"truncation_marker":          true,
}

// Load reads a configuration file. The format follows the extension:
// .yaml/.yml or .cue. The result is validated.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &Error{Code: ErrCodeRead, Message: err.Error()}
	}

	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	case ".cue":
		return ParseCUE(data, path)
	default:
		return Config{}, &Error{
			Code:    ErrCodeFormat,
			Message: fmt.Sprintf("unsupported config format %q (want .yaml, .yml or .cue)", filepath.Ext(path)),
		}
	}
}

// ParseYAML decodes YAML configuration. Unknown fields are rejected.
func ParseYAML(data []byte) (Config, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, &Error{Code: ErrCodeParse, Message: err.Error()}
	}
	return f.resolve()
}

// schema closes the accepted fields and constrains their types. Durations
// stay strings and are parsed after decoding.
const schema = `
#Config: {
	queue_capacity?:             int & >0
	invocation_timeout?:         string
	drain_timeout?:              string
	reorder_window?:             string
	partial_commits?:            bool
	synthetic_cancelled_result?: string & !=""
	synthetic_failure_result?:   string & !=""
	truncation_marker?:          string
}
`

// ParseCUE compiles CUE configuration against the config schema. filename
// is used in error positions.
func ParseCUE(data []byte, filename string) (Config, error) {
	ctx := cuecontext.New()
	def := ctx.CompileString(schema).LookupPath(cue.ParsePath("#Config"))

	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return Config{}, cueError(err)
	}
	fields, err := v.Fields()
	if err != nil {
		return Config{}, cueError(err)
	}
	for fields.Next() {
		label := fields.Selector().String()
		if !knownFields[label] {
			return Config{}, &Error{
				Code:    ErrCodeParse,
				Field:   label,
				Message: "unknown field",
				Pos:     fields.Value().Pos(),
			}
		}
	}
	v = def.Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Config{}, cueError(err)
	}

	var f file
	if err := v.Decode(&f); err != nil {
		return Config{}, cueError(err)
	}
	return f.resolve()
}

func cueError(err error) *Error {
	e := &Error{Code: ErrCodeParse, Message: err.Error()}
	if list := cueerrors.Errors(err); len(list) > 0 {
		e.Message = list[0].Error()
		e.Pos = list[0].Position()
	}
	return e
}

func (f file) resolve() (Config, error) {
	c := Default()
	if f.QueueCapacity != nil {
		c.QueueCapacity = *f.QueueCapacity
	}
	durations := []struct {
		field string
		raw   *string
		dst   *time.Duration
	}{
		{"invocation_timeout", f.InvocationTimeout, &c.InvocationTimeout},
		{"drain_timeout", f.DrainTimeout, &c.DrainTimeout},
		{"reorder_window", f.ReorderWindow, &c.ReorderWindow},
	}
	for _, d := range durations {
		if d.raw == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.raw)
		if err != nil {
			return Config{}, &Error{Code: ErrCodeDuration, Field: d.field, Message: err.Error()}
		}
		*d.dst = parsed
	}
	if f.PartialCommits != nil {
		c.PartialCommits = *f.PartialCommits
	}
	if f.SyntheticCancelledResult != nil {
		c.SyntheticCancelled = *f.SyntheticCancelledResult
	}
	if f.SyntheticFailureResult != nil {
		c.SyntheticFailure = *f.SyntheticFailureResult
	}
	if f.TruncationMarker != nil {
		c.TruncationMarker = *f.TruncationMarker
	}
	return c, c.Validate()
}

// Validate rejects values the sequencer cannot run with.
func (c Config) Validate() error {
	switch {
	case c.QueueCapacity <= 0:
		return violation("queue_capacity", "must be positive, got %d", c.QueueCapacity)
	case c.InvocationTimeout <= 0:
		return violation("invocation_timeout", "must be positive, got %s", c.InvocationTimeout)
	case c.DrainTimeout <= 0:
		return violation("drain_timeout", "must be positive, got %s", c.DrainTimeout)
	case c.ReorderWindow < 0:
		return violation("reorder_window", "must not be negative, got %s", c.ReorderWindow)
	case c.SyntheticCancelled == "":
		return violation("synthetic_cancelled_result", "must not be empty")
	case c.SyntheticFailure == "":
		return violation("synthetic_failure_result", "must not be empty")
	}
	return nil
}

func violation(field, format string, args ...any) *Error {
	return &Error{Code: ErrCodeViolation, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Options converts the configuration to sequencer options.
func (c Config) Options() []engine.Option {
	return []engine.Option{
		engine.WithQueueCapacity(c.QueueCapacity),
		engine.WithInvocationTimeout(c.InvocationTimeout),
		engine.WithDrainTimeout(c.DrainTimeout),
		engine.WithReorderWindow(c.ReorderWindow),
		engine.WithPartialCommits(c.PartialCommits),
		engine.WithSyntheticResults(c.SyntheticCancelled, c.SyntheticFailure),
		engine.WithTruncationMarker(c.TruncationMarker),
	}
}
