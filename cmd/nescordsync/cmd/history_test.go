package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// historyRow mirrors the history --json rows.
type historyRow struct {
	Query           string `json:"query"`
	ResultsCount    int    `json:"results_count"`
	ExecutionTimeMS int64  `json:"execution_time_ms"`
	UserID          string `json:"user_id"`
}

func TestHistoryCmd_EmptyHistory(t *testing.T) {
	// Given: no searches have run
	cfgPath := writeTestConfig(t)

	// When: listing history
	output, err := runCLI(t, "--config", cfgPath, "history")

	// Then: it should say so
	require.NoError(t, err)
	assert.Contains(t, output, "No searches recorded")
}

func TestHistoryCmd_RecordsSearches(t *testing.T) {
	// Given: a corpus and one executed query
	cfgPath := writeTestConfig(t)
	seedCorpus(t, cfgPath)
	_, err := runCLI(t, "--config", cfgPath, "search", "--mode", "keyword", "kubernetes")
	require.NoError(t, err)

	// When: listing history as JSON
	output, err := runCLI(t, "--config", cfgPath, "history", "--json")
	require.NoError(t, err)

	// Then: the query should be recorded with its result count
	var rows []historyRow
	require.NoError(t, json.Unmarshal([]byte(output), &rows))
	require.NotEmpty(t, rows)
	assert.Equal(t, "kubernetes", rows[0].Query)
	assert.Equal(t, 1, rows[0].ResultsCount)
}

func TestHistoryCmd_RecordsZeroResultSearches(t *testing.T) {
	// Given: a corpus and a query that matches nothing
	cfgPath := writeTestConfig(t)
	seedCorpus(t, cfgPath)
	_, err := runCLI(t, "--config", cfgPath, "search", "--mode", "keyword", "zephyrine")
	require.NoError(t, err)

	// When: listing history as JSON
	output, err := runCLI(t, "--config", cfgPath, "history", "--json")
	require.NoError(t, err)

	// Then: the miss should be recorded too
	var rows []historyRow
	require.NoError(t, json.Unmarshal([]byte(output), &rows))
	require.NotEmpty(t, rows)
	assert.Equal(t, "zephyrine", rows[0].Query)
	assert.Zero(t, rows[0].ResultsCount)
}

func TestHistoryCmd_PlainOutput(t *testing.T) {
	// Given: a corpus and one executed query
	cfgPath := writeTestConfig(t)
	seedCorpus(t, cfgPath)
	_, err := runCLI(t, "--config", cfgPath, "search", "--mode", "keyword", "kubernetes")
	require.NoError(t, err)

	// When: listing history without --json
	output, err := runCLI(t, "--config", cfgPath, "--no-color", "history")

	// Then: the query should appear, newest first
	require.NoError(t, err)
	assert.Contains(t, output, "Recent Searches")
	assert.Contains(t, output, `"kubernetes"`)
}

func TestHistoryCmd_HasLimitFlag(t *testing.T) {
	// Given: a root command
	root := NewRootCmd()

	// When: finding history
	historyCmd, _, err := root.Find([]string{"history"})
	require.NoError(t, err)

	// Then: it should have --limit with the default page size
	flag := historyCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "20", flag.DefValue)
}
