package cmd

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoctorCmd_FreshEnvironment(t *testing.T) {
	// Given: a config pointing at an empty data directory
	cfgPath := writeTestConfig(t)

	// When: doctor runs
	output, err := runCLI(t, "--config", cfgPath, "doctor")

	// Then: nothing is critical; the empty stores only warn
	require.NoError(t, err)
	assert.Contains(t, output, "NescordSync Environment Check")
	assert.Contains(t, output, "[PASS] data_dir:")
	assert.Contains(t, output, "[WARN] database:")
	assert.Contains(t, output, "[WARN] vector_index:")
	assert.Contains(t, output, "[PASS] embedder:")
	assert.Contains(t, output, "Status: READY_WITH_WARNINGS")
}

func TestDoctorCmd_JSONOutput(t *testing.T) {
	// Given: an empty data directory
	cfgPath := writeTestConfig(t)

	// When: doctor runs with --json
	output, err := runCLI(t, "--config", cfgPath, "doctor", "--json")
	require.NoError(t, err)

	// Then: the payload carries the summary, checks, and warnings
	var report doctorReport
	require.NoError(t, json.Unmarshal([]byte(output), &report))
	assert.Equal(t, "ready_with_warnings", report.Status)
	assert.NotEmpty(t, report.Warnings)
	assert.Empty(t, report.Errors)

	statuses := make(map[string]string)
	for _, c := range report.Checks {
		statuses[c.Name] = c.Status
	}
	assert.Equal(t, "pass", statuses["data_dir"])
	assert.Equal(t, "warn", statuses["database"])
	assert.Equal(t, "pass", statuses["embedder"])
	assert.Equal(t, "pass", statuses["daemon"])
}

func TestDoctorCmd_CleanAfterSync(t *testing.T) {
	// Given: one note synced into both stores
	cfgPath := writeTestConfig(t)
	seedNote(t, cfgPath, "n1", "First", "kubernetes deployment pipeline")
	_, err := runCLI(t, "--config", cfgPath, "sync")
	require.NoError(t, err)

	// When: doctor runs
	output, err := runCLI(t, "--config", cfgPath, "doctor")

	// Then: every check passes and the database reports the synced note
	require.NoError(t, err)
	assert.Contains(t, output, "[PASS] database: 1 notes (1 synced, 0 pending, 0 failed)")
	assert.Contains(t, output, "[PASS] vector_index:")
	assert.Contains(t, output, "Status: READY\n")
	assert.NotContains(t, output, "Status: READY_WITH_WARNINGS")
}

func TestDoctorCmd_RecordsMarkerAfterCleanRun(t *testing.T) {
	// Given: a clean environment that doctor has approved once
	cfgPath := writeTestConfig(t)
	seedNote(t, cfgPath, "n1", "First", "some note content")
	_, err := runCLI(t, "--config", cfgPath, "sync")
	require.NoError(t, err)
	_, err = runCLI(t, "--config", cfgPath, "doctor")
	require.NoError(t, err)

	// When: doctor runs again
	output, err := runCLI(t, "--config", cfgPath, "doctor")

	// Then: the previous clean run shows up
	require.NoError(t, err)
	assert.Contains(t, output, "Last clean check:")
}

func TestDoctorCmd_VerboseShowsDetails(t *testing.T) {
	cfgPath := writeTestConfig(t)

	output, err := runCLI(t, "--config", cfgPath, "doctor", "--verbose")

	require.NoError(t, err)
	assert.Contains(t, output, "Path: ")
}

func TestDoctorCmd_HasFlags(t *testing.T) {
	cmd := newDoctorCmd()

	for _, name := range []string{"verbose", "json", "offline"} {
		flag := cmd.Flags().Lookup(name)
		require.NotNil(t, flag, "doctor should have --"+name)
		assert.Equal(t, "false", flag.DefValue)
	}
}

func TestDoctorCmd_RejectsArguments(t *testing.T) {
	cfgPath := writeTestConfig(t)

	output, err := runCLI(t, "--config", cfgPath, "doctor", "extra")

	require.Error(t, err)
	assert.True(t, strings.Contains(output, "unknown command") || strings.Contains(output, "accepts"))
}
