package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/turnseq/internal/harness"
)

const (
	scenariosDir = "../harness/testdata/scenarios"
	goldenDir    = "../harness/testdata/golden"
)

const failingScenario = `
name: failing
description: "Expects a message that is never committed"
steps:
  - release: true
assertions:
  - type: count
    entry: {kind: message}
    count: 1
`

func TestTestCommandMissingArgs(t *testing.T) {
	_, _, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandMissingScenarios(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	_, _, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}), missing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenarios not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandUpdateRequiresGolden(t *testing.T) {
	_, _, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}), scenariosDir, "--update")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--update requires --golden")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandPasses(t *testing.T) {
	stdout, _, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}), scenariosDir, "--golden", goldenDir)
	require.NoError(t, err)

	assert.Contains(t, stdout, "✓ turn_complete (")
	assert.Contains(t, stdout, "✓ interrupt_pending_invocation (")
	assert.NotContains(t, stdout, "✗")
	assert.Contains(t, stdout, "Results: 8 passed, 0 failed, 8 total")
}

func TestTestCommandFilter(t *testing.T) {
	stdout, _, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}), scenariosDir, "--filter", "*invocation*")
	require.NoError(t, err)

	assert.Contains(t, stdout, "interrupt_pending_invocation")
	assert.Contains(t, stdout, "invocation_gates_delta")
	assert.Contains(t, stdout, "stalled_invocation")
	assert.NotContains(t, stdout, "turn_complete")
	assert.Contains(t, stdout, "Results: 3 passed, 0 failed, 3 total")
}

func TestTestCommandEmptyDir(t *testing.T) {
	stdout, _, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}), t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, stdout, "No scenarios found.")
}

func TestTestCommandFailingScenario(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "failing.yaml"), []byte(failingScenario), 0644))

	stdout, _, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "✗ failing (0 entries)")
	assert.Contains(t, stdout, "Assertion failed: count")
	assert.Contains(t, stdout, "Results: 0 passed, 1 failed, 1 total")
}

func TestTestCommandFailingScenarioJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "failing.yaml"), []byte(failingScenario), 0644))

	stdout, _, err := execute(t, NewTestCommand(&RootOptions{Format: "json"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string              `json:"status"`
		Data   harness.SuiteResult `json:"data"`
		Error  *CLIError           `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeScenarios, resp.Error.Code)
	assert.Equal(t, 1, resp.Data.Failed)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.False(t, resp.Data.Scenarios[0].Pass)
}

func TestTestCommandUpdateGolden(t *testing.T) {
	golden := t.TempDir()

	stdout, _, err := execute(t, NewTestCommand(&RootOptions{Format: "text"}),
		scenariosDir, "--filter", "turn_*", "--golden", golden, "--update")
	require.NoError(t, err)
	assert.Contains(t, stdout, "[golden updated]")

	got, err := os.ReadFile(filepath.Join(golden, "turn_complete.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile(filepath.Join(goldenDir, "turn_complete.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))

	// A rerun against the fresh golden passes without rewriting it.
	stdout, _, err = execute(t, NewTestCommand(&RootOptions{Format: "text"}),
		scenariosDir, "--filter", "turn_*", "--golden", golden)
	require.NoError(t, err)
	assert.False(t, strings.Contains(stdout, "[golden updated]"))
}
