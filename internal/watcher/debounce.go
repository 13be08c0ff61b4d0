package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer coalesces a burst of operations on one file into a single
// event. Operations within the window merge:
//   - CREATE then MODIFY = CREATE (the file is still new)
//   - CREATE then REMOVE = nothing (the file never settled)
//   - MODIFY then REMOVE = REMOVE
//   - REMOVE then CREATE = MODIFY (the file was replaced)
type Debouncer struct {
	window time.Duration

	mu      sync.Mutex
	pending *Event
	firstOp Op
	timer   *time.Timer
	output  chan Event
	stopped bool
}

// NewDebouncer creates a debouncer with the given settle window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window: window,
		output: make(chan Event, 8),
	}
}

// Add feeds an operation into the current burst and rearms the flush
// timer.
func (d *Debouncer) Add(event Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if d.pending == nil {
		pending := event
		d.pending = &pending
		d.firstOp = event.Op
	} else {
		d.coalesce(event)
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// coalesce merges the next operation into the pending event.
// Must be called with the lock held.
func (d *Debouncer) coalesce(next Event) {
	switch d.firstOp {
	case OpCreate:
		switch next.Op {
		case OpModify:
			// Still a creation from the consumer's view.
		case OpRemove:
			// Appeared and vanished within one window.
			d.pending = nil
		default:
			d.pending.Op = next.Op
		}
	case OpRemove:
		if next.Op == OpCreate {
			// Atomic save: a temp file renamed over the original.
			d.pending.Op = OpModify
		} else {
			d.pending.Op = next.Op
		}
	default:
		d.pending.Op = next.Op
	}
}

// flush emits the settled event.
func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || d.pending == nil {
		return
	}

	event := *d.pending
	d.pending = nil

	select {
	case d.output <- event:
	default:
		slog.Warn("debouncer output full, dropping event",
			slog.String("path", event.Path),
			slog.String("op", event.Op.String()))
	}
}

// Output returns the channel of debounced events.
func (d *Debouncer) Output() <-chan Event {
	return d.output
}

// Stop stops the debouncer and closes the output channel.
// Safe to call multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
