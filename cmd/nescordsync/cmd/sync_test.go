package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncSummary mirrors the sync --json payload.
type syncSummary struct {
	Synced        int    `json:"synced"`
	AlreadySynced int    `json:"already_synced"`
	Skipped       int    `json:"skipped"`
	Unavailable   int    `json:"unavailable"`
	Failed        int    `json:"failed"`
	NotFound      int    `json:"not_found"`
	Total         int    `json:"total"`
	Duration      string `json:"duration"`
}

func runSyncJSON(t *testing.T, cfgPath string, extra ...string) syncSummary {
	t.Helper()

	args := append([]string{"--config", cfgPath, "sync", "--json"}, extra...)
	output, err := runCLI(t, args...)
	require.NoError(t, err)

	var summary syncSummary
	require.NoError(t, json.Unmarshal([]byte(output), &summary))
	return summary
}

func TestSyncCmd_SyncsPendingNotes(t *testing.T) {
	// Given: two pending notes
	cfgPath := writeTestConfig(t)
	seedNote(t, cfgPath, "n1", "First", "the first note body")
	seedNote(t, cfgPath, "n2", "Second", "the second note body")

	// When: running a sweep
	summary := runSyncJSON(t, cfgPath)

	// Then: both should be embedded
	assert.Equal(t, 2, summary.Synced)
	assert.Equal(t, 2, summary.Total)
	assert.Zero(t, summary.Failed)
}

func TestSyncCmd_NothingToSync(t *testing.T) {
	// Given: an empty store
	cfgPath := writeTestConfig(t)

	// When: running a sweep
	summary := runSyncJSON(t, cfgPath)

	// Then: nothing should happen
	assert.Zero(t, summary.Total)
	assert.Zero(t, summary.Synced)
}

func TestSyncCmd_SecondSweepIsIdempotent(t *testing.T) {
	// Given: a store that was just swept
	cfgPath := writeTestConfig(t)
	seedNote(t, cfgPath, "n1", "First", "note body")
	runSyncJSON(t, cfgPath)

	// When: sweeping again
	summary := runSyncJSON(t, cfgPath)

	// Then: no entries should be pending
	assert.Zero(t, summary.Total, "a clean ledger has no candidates")
}

func TestSyncCmd_SpecificNote(t *testing.T) {
	// Given: two pending notes
	cfgPath := writeTestConfig(t)
	seedNote(t, cfgPath, "n1", "First", "note one")
	seedNote(t, cfgPath, "n2", "Second", "note two")

	// When: syncing only the first
	summary := runSyncJSON(t, cfgPath, "n1")

	// Then: the other should stay pending
	assert.Equal(t, 1, summary.Synced)
	assert.Equal(t, 1, summary.Total)

	shown, err := runCLI(t, "--config", cfgPath, "note", "show", "n2")
	require.NoError(t, err)
	assert.Contains(t, shown, "Sync:    pending")
}

func TestSyncCmd_AlreadySyncedNote(t *testing.T) {
	// Given: a note that is already current
	cfgPath := writeTestConfig(t)
	seedNote(t, cfgPath, "n1", "First", "note body")
	runSyncJSON(t, cfgPath)

	// When: syncing it again by ID
	summary := runSyncJSON(t, cfgPath, "n1")

	// Then: nothing should be re-embedded
	assert.Equal(t, 1, summary.AlreadySynced)
	assert.Zero(t, summary.Synced)
}

func TestSyncCmd_UnknownNoteID(t *testing.T) {
	// Given: an empty store
	cfgPath := writeTestConfig(t)

	// When: syncing a nonexistent ID
	summary := runSyncJSON(t, cfgPath, "ghost")

	// Then: the outcome should be not_found, not an error
	assert.Equal(t, 1, summary.NotFound)
	assert.Zero(t, summary.Failed)
}

func TestSyncCmd_PlainOutputReportsCompletion(t *testing.T) {
	// Given: a pending note
	cfgPath := writeTestConfig(t)
	seedNote(t, cfgPath, "n1", "First", "note body")

	// When: sweeping with progress output
	output, err := runCLI(t, "--config", cfgPath, "--no-color", "sync")

	// Then: the completion summary should print
	require.NoError(t, err)
	assert.Contains(t, output, "Complete:", "should print the completion line")
	assert.Contains(t, output, "1 synced")
}

func TestSyncCmd_VerifyFlag(t *testing.T) {
	// Given: a pending note
	cfgPath := writeTestConfig(t)
	seedNote(t, cfgPath, "n1", "First", "note body")

	// When: sweeping with a post-sync check
	summary := runSyncJSON(t, cfgPath, "--verify")

	// Then: the sweep should succeed and leave consistent stores
	assert.Equal(t, 1, summary.Synced)

	_, err := runCLI(t, "--config", cfgPath, "verify")
	assert.NoError(t, err)
}

func TestSyncCmd_AllRevalidatesSyncedNotes(t *testing.T) {
	// Given: a fully synced store
	cfgPath := writeTestConfig(t)
	seedNote(t, cfgPath, "n1", "First", "note body")
	runSyncJSON(t, cfgPath)

	// When: marking everything stale and sweeping
	summary := runSyncJSON(t, cfgPath, "--all")

	// Then: the note is rechecked; unchanged content passes the hash
	// gate instead of being re-embedded
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.AlreadySynced)
	assert.Zero(t, summary.Synced)
}
