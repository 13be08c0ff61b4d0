package integration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhcp0001/NescordBot-sub000/internal/config"
	"github.com/mhcp0001/NescordBot-sub000/internal/watcher"
)

// writeConfigFile writes a minimal config with the given sync
// concurrency and search alpha.
func writeConfigFile(t *testing.T, path string, concurrency int, alpha float64) {
	t.Helper()

	content := fmt.Sprintf("version: 1\nsync:\n  concurrency: %d\nsearch:\n  alpha: %.1f\n",
		concurrency, alpha)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// watchFile starts a watcher on path with a short debounce and gives
// fsnotify time to register the directory watch.
func watchFile(t *testing.T, path string) *watcher.FileWatcher {
	t.Helper()

	// Env overrides would mask the file values under assertion.
	t.Setenv("NESCORDSYNC_SYNC_CONCURRENCY", "")
	t.Setenv("NESCORDSYNC_ALPHA", "")

	w, err := watcher.New(path, watcher.Options{DebounceWindow: 50 * time.Millisecond}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Logf("watcher stopped: %v", err)
		}
	}()
	time.Sleep(100 * time.Millisecond)
	return w
}

// awaitEvent blocks until the watcher reports a change or the test
// deadline passes.
func awaitEvent(t *testing.T, w *watcher.FileWatcher) watcher.Event {
	t.Helper()

	select {
	case ev := <-w.Events():
		return ev
	case err := <-w.Errors():
		t.Fatalf("watcher error while waiting for event: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for config change event")
	}
	return watcher.Event{}
}

func TestConfigReload_PicksUpEditedValues(t *testing.T) {
	// Given: a loaded config file under watch
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, 2, 0.7)
	w := watchFile(t, path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Sync.Concurrency)

	// When: the file is edited in place
	writeConfigFile(t, path, 8, 0.3)
	ev := awaitEvent(t, w)

	// Then: the event points at the file and a reload sees the new values
	assert.Equal(t, w.Path(), ev.Path)
	assert.NotEqual(t, watcher.OpRemove, ev.Op)

	next, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, next.Sync.Concurrency)
	assert.InDelta(t, 0.3, next.Search.Alpha, 0.001)
}

func TestConfigReload_AtomicReplace(t *testing.T) {
	// Given: a config file under watch
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfigFile(t, path, 4, 0.7)
	w := watchFile(t, path)

	// When: an editor-style save writes a temp file and renames it over
	tmp := filepath.Join(dir, ".config.yaml.tmp")
	writeConfigFile(t, tmp, 16, 0.5)
	require.NoError(t, os.Rename(tmp, path))
	ev := awaitEvent(t, w)

	// Then: the debouncer collapses the rename pair into one event that
	// is not a removal, and the reload sees the replacement content
	assert.NotEqual(t, watcher.OpRemove, ev.Op)

	next, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, next.Sync.Concurrency)
}

func TestConfigReload_BrokenEditKeepsRunningConfig(t *testing.T) {
	// Given: a valid running config under watch
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, 4, 0.7)
	w := watchFile(t, path)

	running, err := config.Load(path)
	require.NoError(t, err)

	// When: a bad edit lands
	require.NoError(t, os.WriteFile(path, []byte("sync: [not a mapping\n"), 0o644))
	awaitEvent(t, w)

	// Then: the reload fails and the running config stays authoritative,
	// the same keep-current rule the daemon applies
	_, err = config.Load(path)
	require.Error(t, err)
	assert.Equal(t, 4, running.Sync.Concurrency)
}
