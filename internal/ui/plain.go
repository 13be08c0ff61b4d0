package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer writes one line per progress event. The output survives
// pipes and CI logs unchanged; on interactive terminals the stage tags
// and failure counts are colored.
type PlainRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	styles  Styles
	tracker *ProgressTracker
	stage   Stage
	started bool
}

// NewPlainRenderer creates a line-oriented renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{
		out:     cfg.Output,
		styles:  GetStyles(cfg.NoColor),
		tracker: NewProgressTracker(),
	}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error {
	return nil
}

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started || event.Stage != r.stage {
		r.started = true
		r.stage = event.Stage
		r.tracker.SetStage(event.Stage, event.Total)
	}
	r.tracker.Update(event.Current, event.NoteID)

	msg := event.Message
	if msg == "" {
		msg = event.NoteID
	}

	// Format: [STAGE] current/total (pct%) [ETA ...] - message or note ID
	tag := r.styles.Stage.Render("[" + event.Stage.Icon() + "]")
	switch {
	case event.Total > 0:
		line := fmt.Sprintf("%s %d/%d (%d%%)", tag, event.Current, event.Total, percent(event.Current, event.Total))
		if eta := r.tracker.ETA(); eta >= time.Second {
			line += " ETA " + eta.Round(time.Second).String()
		}
		if msg != "" {
			line += " - " + msg
		}
		_, _ = fmt.Fprintln(r.out, line)
	case msg != "":
		_, _ = fmt.Fprintf(r.out, "%s %s\n", tag, msg)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.AddError(event)

	prefix := r.styles.Error.Render("ERROR")
	if event.IsWarn {
		prefix = r.styles.Warning.Render("WARN")
	}

	if event.NoteID != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.NoteID, event.Err)
	} else {
		_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	line := fmt.Sprintf("Complete: %d notes, %d synced, %d skipped in %s",
		stats.Notes, stats.Synced, stats.Skipped, stats.Duration.Round(100*time.Millisecond))
	if stats.Failed > 0 {
		line += r.styles.Error.Render(fmt.Sprintf(" (%d failed)", stats.Failed))
	}
	_, _ = fmt.Fprintln(r.out, line)

	// Throughput is only known once the run outlived the sampling window.
	if speed := r.tracker.SpeedStats(); speed.Avg > 0 {
		_, _ = fmt.Fprintf(r.out, "Throughput: %s avg %.1f/sec, peak %.1f/sec\n",
			r.styles.Sparkline.Render(r.tracker.RenderSparkline(30)), speed.Avg, speed.Peak)
	}

	if stats.Embedder.Model != "" {
		_, _ = fmt.Fprintf(r.out, "Embedder: %s (%s, %d dims)\n",
			stats.Embedder.Provider, stats.Embedder.Model, stats.Embedder.Dimensions)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}

func percent(current, total int) int {
	if total <= 0 {
		return 0
	}
	p := current * 100 / total
	if p > 100 {
		p = 100
	}
	return p
}
