package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Op is the kind of change observed on the watched file.
type Op int

const (
	// OpModify indicates the file content changed in place or the file
	// was atomically replaced.
	OpModify Op = iota
	// OpCreate indicates the file appeared at the watched path, either
	// newly created or renamed into place.
	OpCreate
	// OpRemove indicates the file was deleted or renamed away.
	OpRemove
)

// String returns a human-readable representation of the operation.
func (op Op) String() string {
	switch op {
	case OpModify:
		return "MODIFY"
	case OpCreate:
		return "CREATE"
	case OpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// Event is a debounced change to the watched file.
type Event struct {
	// Path is the absolute path of the watched file.
	Path string

	// Op is the kind of change.
	Op Op

	// At is when the first change of the burst was seen.
	At time.Time
}

// Options configures the watcher behavior.
type Options struct {
	// DebounceWindow is how long a save burst must be quiet before one
	// event is emitted. Default: 200ms.
	DebounceWindow time.Duration

	// PollInterval is the stat cadence in polling mode. Default: 2s.
	PollInterval time.Duration
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow: 200 * time.Millisecond,
		PollInterval:   2 * time.Second,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow == 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.PollInterval == 0 {
		o.PollInterval = defaults.PollInterval
	}
	return o
}

// FileWatcher watches a single file, preferring fsnotify and falling
// back to stat polling when fsnotify cannot initialize.
//
// fsnotify watches the parent directory rather than the file itself: a
// watch on the file is bound to its inode, and an editor's atomic
// rename-over save replaces that inode, silently ending the watch.
type FileWatcher struct {
	path string // absolute path of the watched file
	dir  string // watched parent directory
	opts Options

	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	logger    *slog.Logger

	events  chan Event
	errors  chan error
	stopCh  chan struct{}
	mu      sync.Mutex
	stopped bool
}

// New creates a watcher for the given file. The file does not need to
// exist yet; its appearance is reported as OpCreate.
func New(path string, opts Options, logger *slog.Logger) (*FileWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute path: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.WithDefaults()

	w := &FileWatcher{
		path:      absPath,
		dir:       filepath.Dir(absPath),
		opts:      opts,
		debouncer: NewDebouncer(opts.DebounceWindow),
		logger:    logger,
		events:    make(chan Event, 16),
		errors:    make(chan error, 8),
		stopCh:    make(chan struct{}),
	}

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		w.fsw = fsw
	} else {
		w.logger.Warn("fsnotify unavailable, falling back to polling",
			slog.String("error", err.Error()))
	}

	return w, nil
}

// Start begins watching and blocks until Stop is called or the context
// is cancelled.
func (w *FileWatcher) Start(ctx context.Context) error {
	go w.forward(ctx)

	if w.fsw != nil {
		return w.runFsnotify(ctx)
	}
	return w.runPolling(ctx)
}

// Stop stops the watcher and releases resources. Safe to call multiple
// times.
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)

	w.debouncer.Stop()
	if w.fsw != nil {
		_ = w.fsw.Close()
	}

	close(w.events)
	close(w.errors)
	return nil
}

// Events returns the channel of debounced file events.
// The channel is closed when the watcher stops.
func (w *FileWatcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of non-fatal watcher errors.
// The channel is closed when the watcher stops.
func (w *FileWatcher) Errors() <-chan error {
	return w.errors
}

// Mode reports the active watching mechanism, "fsnotify" or "polling".
func (w *FileWatcher) Mode() string {
	if w.fsw != nil {
		return "fsnotify"
	}
	return "polling"
}

// Path returns the absolute path being watched.
func (w *FileWatcher) Path() string {
	return w.path
}

// runFsnotify consumes raw fsnotify events for the parent directory.
func (w *FileWatcher) runFsnotify(ctx context.Context) error {
	if err := w.fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch directory %s: %w", w.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleFsnotifyEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

// handleFsnotifyEvent filters directory events down to the watched file
// and feeds the debouncer.
func (w *FileWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}

	var op Op
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0, event.Op&fsnotify.Rename != 0:
		// A rename moves the file away from the watched path; whether a
		// replacement follows is the debouncer's call.
		op = OpRemove
	default:
		// Chmod only.
		return
	}

	w.debouncer.Add(Event{Path: w.path, Op: op, At: time.Now()})
}

// fileSnapshot is the per-poll state of the watched file.
type fileSnapshot struct {
	exists  bool
	modTime time.Time
	size    int64
}

// runPolling stats the file on a fixed cadence and synthesizes events
// from snapshot differences.
func (w *FileWatcher) runPolling(ctx context.Context) error {
	last, err := w.snapshot()
	if err != nil {
		w.emitError(err)
	}

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case <-ticker.C:
			current, err := w.snapshot()
			if err != nil {
				w.emitError(err)
				continue
			}
			if op, changed := diffSnapshots(last, current); changed {
				w.debouncer.Add(Event{Path: w.path, Op: op, At: time.Now()})
			}
			last = current
		}
	}
}

func (w *FileWatcher) snapshot() (fileSnapshot, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return fileSnapshot{}, nil
		}
		return fileSnapshot{}, fmt.Errorf("stat %s: %w", w.path, err)
	}
	return fileSnapshot{exists: true, modTime: info.ModTime(), size: info.Size()}, nil
}

// diffSnapshots maps two consecutive snapshots onto an operation.
func diffSnapshots(prev, current fileSnapshot) (Op, bool) {
	switch {
	case !prev.exists && current.exists:
		return OpCreate, true
	case prev.exists && !current.exists:
		return OpRemove, true
	case prev.exists && (prev.modTime != current.modTime || prev.size != current.size):
		return OpModify, true
	default:
		return 0, false
	}
}

// forward moves debounced events to the output channel.
func (w *FileWatcher) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			w.emitEvent(event)
		}
	}
}

// emitEvent sends an event without blocking. The lock is held across the
// send so Stop cannot close the channel mid-send.
func (w *FileWatcher) emitEvent(event Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}

	select {
	case w.events <- event:
	default:
		w.logger.Warn("watcher buffer full, dropping event",
			slog.String("path", event.Path),
			slog.String("op", event.Op.String()))
	}
}

func (w *FileWatcher) emitError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}

	select {
	case w.errors <- err:
	default:
	}
}
