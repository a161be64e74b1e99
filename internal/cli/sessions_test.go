package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/turnseq/internal/ir"
)

func TestSessionsDatabase(t *testing.T) {
	dbPath := seedDatabase(t, map[string][]ir.HistoryEntry{
		otherSession: turnHistory()[:1],
		testSession:  turnHistory(),
	})

	stdout, _, err := execute(t, NewSessionsCommand(&RootOptions{Format: "json"}), "--db", dbPath)
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   []SessionInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, testSession, resp.Data[0].ID, "ordered by id")
	assert.Equal(t, int64(4), resp.Data[0].Entries)
	assert.Equal(t, int64(4), resp.Data[0].LastSeq)
	assert.Equal(t, otherSession, resp.Data[1].ID)
	assert.Equal(t, int64(1), resp.Data[1].Entries)
}

func TestSessionsTranscriptText(t *testing.T) {
	path := seedTranscript(t, turnHistory()[:2])

	stdout, _, err := execute(t, NewSessionsCommand(&RootOptions{Format: "text"}), "--transcript", path)
	require.NoError(t, err)
	assert.Equal(t, testSession+"  2026-01-02T03:04:05Z  2 entries (last seq 2)\n", stdout)
}

func TestSessionsEmptyDatabase(t *testing.T) {
	stdout, _, err := execute(t, NewSessionsCommand(&RootOptions{Format: "text"}), "--db", seedDatabase(t, nil))
	require.NoError(t, err)
	assert.Contains(t, stdout, "No sessions found.")
}

func TestSessionsMissingTranscript(t *testing.T) {
	_, _, err := execute(t, NewSessionsCommand(&RootOptions{Format: "text"}),
		"--transcript", filepath.Join(t.TempDir(), "none.jsonl"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transcript not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
