package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFile_WriteReadRemove(t *testing.T) {
	// Given: a PID file in a directory that doesn't exist yet
	path := filepath.Join(t.TempDir(), "sub", "daemon.pid")
	pf := NewPIDFile(path)

	// When: the current PID is written
	require.NoError(t, pf.Write())

	// Then: reading it back returns our own PID
	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	// When: the file is removed
	require.NoError(t, pf.Remove())

	// Then: reading reports the sentinel
	_, err = pf.Read()
	assert.ErrorIs(t, err, ErrNoPIDFile)
}

func TestPIDFile_ReadMissing(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "daemon.pid"))

	_, err := pf.Read()
	assert.ErrorIs(t, err, ErrNoPIDFile)
}

func TestPIDFile_ReadGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	require.NoError(t, os.WriteFile(path, []byte("not a pid"), 0644))

	_, err := NewPIDFile(path).Read()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoPIDFile)
}

func TestPIDFile_ReadTrimsWhitespace(t *testing.T) {
	// Some tools append a trailing newline when inspecting the file.
	path := filepath.Join(t.TempDir(), "daemon.pid")
	require.NoError(t, os.WriteFile(path, []byte("1234\n"), 0644))

	pid, err := NewPIDFile(path).Read()
	require.NoError(t, err)
	assert.Equal(t, 1234, pid)
}

func TestPIDFile_RemoveMissingIsNil(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "daemon.pid"))

	assert.NoError(t, pf.Remove())
}

func TestPIDFile_IsRunning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	pf := NewPIDFile(path)

	// No file yet
	assert.False(t, pf.IsRunning())

	// Our own PID is alive
	require.NoError(t, pf.Write())
	assert.True(t, pf.IsRunning())

	// A PID that can't exist is not
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(1<<30)), 0644))
	assert.False(t, pf.IsRunning())
}

func TestProcessExists_RejectsNonPositive(t *testing.T) {
	assert.False(t, processExists(0))
	assert.False(t, processExists(-1))
}
