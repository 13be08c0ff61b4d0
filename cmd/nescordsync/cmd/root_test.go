package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestConfig writes a config file whose data directory lives inside
// a fresh temp dir, so commands never touch real stores. The static
// embedding provider keeps tests deterministic and offline.
func writeTestConfig(t *testing.T) string {
	t.Helper()

	// Neutralize ambient overrides that would redirect the data dir.
	t.Setenv("NESCORDSYNC_DATA_DIR", "")
	t.Setenv("NESCORDSYNC_EMBEDDINGS_PROVIDER", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf("version: 1\ndata:\n  dir: %s\nembeddings:\n  provider: static\n",
		filepath.Join(dir, "data"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// runCLI executes the CLI with the given args and returns combined output.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// seedNote adds a note through the CLI, failing the test on any error.
func seedNote(t *testing.T, cfgPath, id, title, content string, extra ...string) {
	t.Helper()

	args := []string{"--config", cfgPath, "note", "add", "--id", id, "--title", title}
	args = append(args, extra...)
	args = append(args, content)
	_, err := runCLI(t, args...)
	require.NoError(t, err)
}

func TestRootCmd_ShowsHelp(t *testing.T) {
	// Given: a root command

	// When: executing with --help
	output, err := runCLI(t, "--help")

	// Then: it should show usage
	require.NoError(t, err)
	assert.Contains(t, output, "nescordsync", "Help should contain program name")
	assert.Contains(t, output, "Usage:", "Help should contain usage section")
}

func TestRootCmd_ShowsVersion(t *testing.T) {
	// Given: a root command

	// When: executing with --version
	output, err := runCLI(t, "--version")

	// Then: it should print the version line
	require.NoError(t, err)
	assert.Contains(t, output, "nescordsync version", "Should print version template")
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	// Given: a root command
	cmd := NewRootCmd()

	// When: collecting subcommand names
	commandNames := make([]string, 0)
	for _, c := range cmd.Commands() {
		commandNames = append(commandNames, c.Name())
	}

	// Then: every command should be registered
	assert.Contains(t, commandNames, "note", "Should have note subcommand")
	assert.Contains(t, commandNames, "sync", "Should have sync subcommand")
	assert.Contains(t, commandNames, "search", "Should have search subcommand")
	assert.Contains(t, commandNames, "verify", "Should have verify subcommand")
	assert.Contains(t, commandNames, "retry", "Should have retry subcommand")
	assert.Contains(t, commandNames, "status", "Should have status subcommand")
	assert.Contains(t, commandNames, "doctor", "Should have doctor subcommand")
	assert.Contains(t, commandNames, "history", "Should have history subcommand")
	assert.Contains(t, commandNames, "stats", "Should have stats subcommand")
	assert.Contains(t, commandNames, "run", "Should have run subcommand")
	assert.Contains(t, commandNames, "config", "Should have config subcommand")
	assert.Contains(t, commandNames, "logs", "Should have logs subcommand")
	assert.Contains(t, commandNames, "version", "Should have version subcommand")
}

func TestRootCmd_HasConfigFlag(t *testing.T) {
	// Given: a root command
	cmd := NewRootCmd()

	// Then: it should have a persistent --config flag
	flag := cmd.PersistentFlags().Lookup("config")
	assert.NotNil(t, flag, "Should have --config flag")
}

func TestRootCmd_HasDebugFlag(t *testing.T) {
	// Given: a root command
	cmd := NewRootCmd()

	// Then: it should have a persistent --debug flag
	flag := cmd.PersistentFlags().Lookup("debug")
	assert.NotNil(t, flag, "Should have --debug flag")
	assert.Equal(t, "false", flag.DefValue)
}

func TestRootCmd_HasNoColorFlag(t *testing.T) {
	// Given: a root command
	cmd := NewRootCmd()

	// Then: it should have a persistent --no-color flag
	flag := cmd.PersistentFlags().Lookup("no-color")
	assert.NotNil(t, flag, "Should have --no-color flag")
	assert.Equal(t, "false", flag.DefValue)
}

func TestRootCmd_UnknownCommandFails(t *testing.T) {
	// Given: a root command

	// When: executing an unknown subcommand
	_, err := runCLI(t, "frobnicate")

	// Then: it should fail
	assert.Error(t, err, "Unknown command should return an error")
}

func TestSyncCmd_ShowsHelp(t *testing.T) {
	// Given: a root command

	// When: executing sync --help
	output, err := runCLI(t, "sync", "--help")

	// Then: it should show sync usage
	require.NoError(t, err)
	assert.Contains(t, output, "sync", "Sync help should mention sync")
	assert.Contains(t, output, "--all", "Sync help should list the --all flag")
}

func TestSearchCmd_ShowsHelp(t *testing.T) {
	// Given: a root command

	// When: executing search --help
	output, err := runCLI(t, "search", "--help")

	// Then: it should show search usage
	require.NoError(t, err)
	assert.Contains(t, output, "search", "Search help should mention search")
	assert.Contains(t, output, "--mode", "Search help should list the --mode flag")
}
