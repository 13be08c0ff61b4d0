// Package ui provides terminal output for progress, status, and report
// display. Interactive terminals get lipgloss-styled output; pipes and
// CI environments fall back to plain text.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/mhcp0001/NescordBot-sub000/internal/embed"
)

// Stage identifies a phase of a synchronization run.
type Stage int

const (
	// StageScanning is the pending-work collection phase.
	StageScanning Stage = iota
	// StageSyncing is the embed-and-upsert phase.
	StageSyncing
	// StageVerifying is the cross-store consistency check.
	StageVerifying
	// StageRepairing is the re-sync of entries a verification flagged.
	StageRepairing
	// StageComplete indicates the run has finished.
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageScanning:
		return "Scanning"
	case StageSyncing:
		return "Syncing"
	case StageVerifying:
		return "Verifying"
	case StageRepairing:
		return "Repairing"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage tag for line output.
func (s Stage) Icon() string {
	switch s {
	case StageScanning:
		return "SCAN"
	case StageSyncing:
		return "SYNC"
	case StageVerifying:
		return "VERIFY"
	case StageRepairing:
		return "REPAIR"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent represents a progress update.
type ProgressEvent struct {
	Stage   Stage
	Current int
	Total   int
	NoteID  string
	Message string
}

// ErrorEvent represents a per-note failure during a run.
type ErrorEvent struct {
	NoteID string
	Err    error
	IsWarn bool
}

// CompletionStats contains final statistics for a synchronization run.
// Skipped counts notes that were already current or claimed by another
// worker; Failed counts notes left in the ledger for retry.
type CompletionStats struct {
	Notes    int
	Synced   int
	Skipped  int
	Failed   int
	Duration time.Duration
	Embedder embed.EmbedderInfo
}

// Renderer defines the interface for progress display.
type Renderer interface {
	// Start initializes the renderer.
	Start(ctx context.Context) error

	// UpdateProgress updates progress display.
	UpdateProgress(event ProgressEvent)

	// AddError adds an error to display.
	AddError(event ErrorEvent)

	// Complete marks rendering as complete with summary.
	Complete(stats CompletionStats)

	// Stop stops the renderer and cleans up.
	Stop() error
}

// Config configures the UI renderer.
type Config struct {
	Output  io.Writer
	NoColor bool
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// NewConfig creates a new Config with the given output and options.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}

	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg
}

// NewRenderer creates the progress renderer for the environment.
// Interactive terminals get colored line output; CI environments,
// pipes, and NO_COLOR requests get plain text.
func NewRenderer(cfg Config) Renderer {
	if !cfg.NoColor {
		cfg.NoColor = DetectNoColor() || DetectCI() || !IsTTY(cfg.Output)
	}
	return NewPlainRenderer(cfg)
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}

	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	return false
}

// DetectNoColor checks if the NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
