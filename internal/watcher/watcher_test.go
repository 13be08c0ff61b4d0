package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOp_String(t *testing.T) {
	tests := []struct {
		name string
		op   Op
		want string
	}{
		{"modify", OpModify, "MODIFY"},
		{"create", OpCreate, "CREATE"},
		{"remove", OpRemove, "REMOVE"},
		{"unknown", Op(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.op.String())
		})
	}
}

func TestDefaultOptions(t *testing.T) {
	// When: getting default options
	opts := DefaultOptions()

	// Then: defaults are sensible
	assert.Equal(t, 200*time.Millisecond, opts.DebounceWindow)
	assert.Equal(t, 2*time.Second, opts.PollInterval)
}

func TestOptions_WithDefaults(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want Options
	}{
		{
			name: "empty options get defaults",
			opts: Options{},
			want: DefaultOptions(),
		},
		{
			name: "partial options keep custom values",
			opts: Options{DebounceWindow: 500 * time.Millisecond},
			want: Options{
				DebounceWindow: 500 * time.Millisecond,
				PollInterval:   2 * time.Second,
			},
		},
		{
			name: "all custom values preserved",
			opts: Options{
				DebounceWindow: 100 * time.Millisecond,
				PollInterval:   10 * time.Second,
			},
			want: Options{
				DebounceWindow: 100 * time.Millisecond,
				PollInterval:   10 * time.Second,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.opts.WithDefaults()
			assert.Equal(t, tt.want.DebounceWindow, got.DebounceWindow)
			assert.Equal(t, tt.want.PollInterval, got.PollInterval)
		})
	}
}

func TestNew_ResolvesAbsolutePath(t *testing.T) {
	// Given: a relative path
	w, err := New("config.yaml", DefaultOptions(), nil)
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	// Then: the watched path is absolute
	assert.True(t, filepath.IsAbs(w.Path()))
	assert.Equal(t, "config.yaml", filepath.Base(w.Path()))
}

func TestNew_PrefersFsnotify(t *testing.T) {
	// Given: a normal local filesystem
	w, err := New(filepath.Join(t.TempDir(), "config.yaml"), DefaultOptions(), nil)
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	// Then: fsnotify is the active mechanism
	assert.Equal(t, "fsnotify", w.Mode())
}

func TestDiffSnapshots(t *testing.T) {
	base := time.Now()
	tests := []struct {
		name    string
		prev    fileSnapshot
		current fileSnapshot
		wantOp  Op
		changed bool
	}{
		{
			name:    "appeared",
			prev:    fileSnapshot{},
			current: fileSnapshot{exists: true, modTime: base, size: 10},
			wantOp:  OpCreate,
			changed: true,
		},
		{
			name:    "vanished",
			prev:    fileSnapshot{exists: true, modTime: base, size: 10},
			current: fileSnapshot{},
			wantOp:  OpRemove,
			changed: true,
		},
		{
			name:    "mtime changed",
			prev:    fileSnapshot{exists: true, modTime: base, size: 10},
			current: fileSnapshot{exists: true, modTime: base.Add(time.Second), size: 10},
			wantOp:  OpModify,
			changed: true,
		},
		{
			name:    "size changed",
			prev:    fileSnapshot{exists: true, modTime: base, size: 10},
			current: fileSnapshot{exists: true, modTime: base, size: 20},
			wantOp:  OpModify,
			changed: true,
		},
		{
			name:    "unchanged",
			prev:    fileSnapshot{exists: true, modTime: base, size: 10},
			current: fileSnapshot{exists: true, modTime: base, size: 10},
			changed: false,
		},
		{
			name:    "still absent",
			prev:    fileSnapshot{},
			current: fileSnapshot{},
			changed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, changed := diffSnapshots(tt.prev, tt.current)
			assert.Equal(t, tt.changed, changed)
			if tt.changed {
				assert.Equal(t, tt.wantOp, op)
			}
		})
	}
}

// startWatcher runs the watcher in the background and gives fsnotify
// time to register the directory watch.
func startWatcher(t *testing.T, w *FileWatcher) context.CancelFunc {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := w.Start(ctx); err != nil && err != context.Canceled {
			t.Logf("watcher start: %v", err)
		}
	}()
	time.Sleep(100 * time.Millisecond)
	return cancel
}

func TestFileWatcher_DetectsWrite(t *testing.T) {
	// Given: an existing config file under watch
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("version: 1\n"), 0o644))

	w, err := New(cfgPath, Options{DebounceWindow: 50 * time.Millisecond}, nil)
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	cancel := startWatcher(t, w)
	defer cancel()

	// When: the file is rewritten
	require.NoError(t, os.WriteFile(cfgPath, []byte("version: 2\n"), 0o644))

	// Then: one modify event arrives
	select {
	case ev := <-w.Events():
		assert.Equal(t, cfgPath, ev.Path)
		assert.Equal(t, OpModify, ev.Op)
	case err := <-w.Errors():
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for modify event")
	}
}

func TestFileWatcher_DetectsCreation(t *testing.T) {
	// Given: a watch on a file that does not exist yet
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")

	w, err := New(cfgPath, Options{DebounceWindow: 50 * time.Millisecond}, nil)
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	cancel := startWatcher(t, w)
	defer cancel()

	// When: the file appears
	require.NoError(t, os.WriteFile(cfgPath, []byte("version: 1\n"), 0o644))

	// Then: a create event arrives
	select {
	case ev := <-w.Events():
		assert.Equal(t, OpCreate, ev.Op)
	case err := <-w.Errors():
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for create event")
	}
}

func TestFileWatcher_DetectsRemoval(t *testing.T) {
	// Given: an existing config file under watch
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("version: 1\n"), 0o644))

	w, err := New(cfgPath, Options{DebounceWindow: 50 * time.Millisecond}, nil)
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	cancel := startWatcher(t, w)
	defer cancel()

	// When: the file is deleted
	require.NoError(t, os.Remove(cfgPath))

	// Then: a remove event arrives
	select {
	case ev := <-w.Events():
		assert.Equal(t, OpRemove, ev.Op)
	case err := <-w.Errors():
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for remove event")
	}
}

func TestFileWatcher_AtomicReplace_SingleEvent(t *testing.T) {
	// Given: an existing config file under watch
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("version: 1\n"), 0o644))

	w, err := New(cfgPath, Options{DebounceWindow: 50 * time.Millisecond}, nil)
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	cancel := startWatcher(t, w)
	defer cancel()

	// When: a temp file is renamed over the original (editor-style save)
	tmpPath := filepath.Join(dir, "config.yaml.tmp")
	require.NoError(t, os.WriteFile(tmpPath, []byte("version: 2\n"), 0o644))
	require.NoError(t, os.Rename(tmpPath, cfgPath))

	// Then: exactly one event arrives, and it is not a removal
	select {
	case ev := <-w.Events():
		assert.NotEqual(t, OpRemove, ev.Op)
	case err := <-w.Errors():
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for replace event")
	}

	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected second event: %v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestFileWatcher_IgnoresSiblingFiles(t *testing.T) {
	// Given: a watch on one file in a directory
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("version: 1\n"), 0o644))

	w, err := New(cfgPath, Options{DebounceWindow: 30 * time.Millisecond}, nil)
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	cancel := startWatcher(t, w)
	defer cancel()

	// When: a sibling file churns
	sibling := filepath.Join(dir, "notes.db")
	require.NoError(t, os.WriteFile(sibling, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(sibling, []byte("xy"), 0o644))
	require.NoError(t, os.Remove(sibling))

	// Then: no event is emitted for the watched file
	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event: %v", ev)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestFileWatcher_Stop_ClosesChannels(t *testing.T) {
	// Given: a running watcher
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	w, err := New(cfgPath, DefaultOptions(), nil)
	require.NoError(t, err)

	cancel := startWatcher(t, w)
	defer cancel()

	// When: stopped twice
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())

	// Then: the event channel is closed
	select {
	case _, ok := <-w.Events():
		assert.False(t, ok, "events channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}

func TestFileWatcher_ContextCancel_StopsWatcher(t *testing.T) {
	// Given: a watcher driven by a cancellable context
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	w, err := New(cfgPath, DefaultOptions(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// When: the context is cancelled
	cancel()

	// Then: Start returns the context error
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for watcher shutdown")
	}
}
