package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/turnseq/internal/config"
	"github.com/roach88/turnseq/internal/ingest"
	"github.com/roach88/turnseq/internal/ir"
)

// Scenario defines a sequencer conformance scenario: events delivered in a
// chosen arrival order, interleaved with releases, ticks and time advances,
// then assertions over the committed history.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config overrides sequencer configuration. Same fields as a YAML config
	// file; absent fields keep their defaults.
	Config yaml.Node `yaml:"config,omitempty"`

	// Steps run in order against one sequencer.
	Steps []Step `yaml:"steps"`

	// Assertions validate the committed history after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario action. Exactly one field is set.
type Step struct {
	// Deliver ingests events, one at a time, in the listed order.
	Deliver []EventSpec `yaml:"deliver,omitempty"`

	// Release commits whatever is releasable.
	Release bool `yaml:"release,omitempty"`

	// Tick runs timeouts and drains, then releases.
	Tick bool `yaml:"tick,omitempty"`

	// Advance moves the fake clock forward, e.g. "30s".
	Advance string `yaml:"advance,omitempty"`
}

// EventSpec is the scenario form of one event. Key is
// [request_ordinal, output_index, sequence_number].
type EventSpec struct {
	Type    ir.EventKind `yaml:"type"`
	Stream  string       `yaml:"stream,omitempty"`
	Key     []uint64     `yaml:"key,omitempty"`
	Call    string       `yaml:"call,omitempty"`
	Content string       `yaml:"content,omitempty"`
}

// Event converts the spec to an event through the wire frame mapping, so
// scenarios and producers share one interpretation of each field.
func (e EventSpec) Event() (ir.Event, error) {
	var key ir.OrderKey
	switch len(e.Key) {
	case 0:
	case 3:
		if e.Key[1] > uint64(^uint32(0)) {
			return nil, fmt.Errorf("output_index %d out of range", e.Key[1])
		}
		key = ir.Key(e.Key[0], uint32(e.Key[1]), e.Key[2])
	default:
		return nil, fmt.Errorf("key must have 3 components, got %d", len(e.Key))
	}
	frame := ingest.Frame{
		Type:     e.Type,
		StreamID: e.Stream,
		Key:      key,
		CallID:   e.Call,
		Content:  e.Content,
	}
	return frame.Event()
}

// Match selects committed entries. Empty fields match anything.
type Match struct {
	Kind      ir.EntryKind `yaml:"kind,omitempty"`
	Stream    string       `yaml:"stream,omitempty"`
	Call      string       `yaml:"call,omitempty"`
	Content   *string      `yaml:"content,omitempty"`
	Synthetic *bool        `yaml:"synthetic,omitempty"`
}

// Assertion validates the committed history or the final sequencer state.
type Assertion struct {
	// Type specifies the assertion type:
	//   - "commit_order": Entries match, in this relative order
	//   - "kinds": the full committed kind sequence equals Kinds
	//   - "count": exactly Count entries match Entry
	//   - "never_committed": no entry matches Entry
	//   - "state": the controller ends in State with Pending invocations
	Type string `yaml:"type"`

	Entry   *Match         `yaml:"entry,omitempty"`
	Entries []Match        `yaml:"entries,omitempty"`
	Kinds   []ir.EntryKind `yaml:"kinds,omitempty"`
	Count   *int           `yaml:"count,omitempty"`
	State   string         `yaml:"state,omitempty"`
	Pending *int           `yaml:"pending,omitempty"`
}

// Assertion type constants.
const (
	AssertCommitOrder    = "commit_order"
	AssertKinds          = "kinds"
	AssertCount          = "count"
	AssertNeverCommitted = "never_committed"
	AssertState          = "state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field validation.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// sequencerConfig resolves the scenario's config block on top of the
// defaults.
func (s *Scenario) sequencerConfig() (config.Config, error) {
	if s.Config.Kind == 0 {
		return config.Default(), nil
	}
	raw, err := yaml.Marshal(&s.Config)
	if err != nil {
		return config.Config{}, fmt.Errorf("config: %w", err)
	}
	cfg, err := config.ParseYAML(raw)
	if err != nil {
		return config.Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if _, err := s.sequencerConfig(); err != nil {
		return err
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, step Step) error {
	set := 0
	if len(step.Deliver) > 0 {
		set++
	}
	if step.Release {
		set++
	}
	if step.Tick {
		set++
	}
	if step.Advance != "" {
		set++
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of deliver, release, tick, advance is required", index)
	}

	if step.Advance != "" {
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("steps[%d].advance: %w", index, err)
		}
		if d <= 0 {
			return fmt.Errorf("steps[%d].advance: must be positive", index)
		}
	}

	for j, ev := range step.Deliver {
		if _, err := ev.Event(); err != nil {
			return fmt.Errorf("steps[%d].deliver[%d]: %w", index, j, err)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertCommitOrder:
		if len(a.Entries) == 0 {
			return fmt.Errorf("assertions[%d]: entries list is required for commit_order", index)
		}
	case AssertKinds:
		if a.Kinds == nil {
			return fmt.Errorf("assertions[%d]: kinds list is required for kinds", index)
		}
	case AssertCount:
		if a.Entry == nil {
			return fmt.Errorf("assertions[%d]: entry is required for count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for count", index)
		}
	case AssertNeverCommitted:
		if a.Entry == nil {
			return fmt.Errorf("assertions[%d]: entry is required for never_committed", index)
		}
	case AssertState:
		if a.State == "" && a.Pending == nil {
			return fmt.Errorf("assertions[%d]: state or pending is required for state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	kinds := slices.Clone(a.Kinds)
	if a.Entry != nil {
		kinds = append(kinds, a.Entry.Kind)
	}
	for _, m := range a.Entries {
		kinds = append(kinds, m.Kind)
	}
	for _, k := range kinds {
		if k != "" && !k.Valid() {
			return fmt.Errorf("assertions[%d]: unknown entry kind %q", index, k)
		}
	}
	return nil
}
