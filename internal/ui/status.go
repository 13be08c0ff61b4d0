package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// StatusInfo is a point-in-time health summary of the dual stores.
type StatusInfo struct {
	DataDir string `json:"data_dir"`

	// Store counts
	Notes      int `json:"notes"`
	VectorDocs int `json:"vector_docs"`

	// Ledger entry counts by status
	Pending int `json:"pending"`
	Syncing int `json:"syncing"`
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`

	// Storage sizes (in bytes)
	DatabaseSize int64 `json:"database_size"`
	VectorSize   int64 `json:"vector_size"`
	TotalSize    int64 `json:"total_size"`

	// Embedding backend
	EmbedderProvider string `json:"embedder_provider"`
	EmbedderStatus   string `json:"embedder_status"` // "ready", "offline", "error"
	EmbedderModel    string `json:"embedder_model,omitempty"`
	Dimensions       int    `json:"dimensions,omitempty"`
	BreakerState     string `json:"breaker_state,omitempty"`

	// Maintenance timestamps, zero when the pass has never run
	LastVerifyAt time.Time `json:"last_verify_at"`
	LastSweepAt  time.Time `json:"last_sweep_at"`

	// DaemonStatus is "running", "stopped", or empty when unknown.
	DaemonStatus string `json:"daemon_status,omitempty"`
}

// StatusRenderer displays store health.
type StatusRenderer struct {
	out     io.Writer
	styles  Styles
	noColor bool
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:     out,
		styles:  GetStyles(noColor),
		noColor: noColor,
	}
}

// Render displays status info to the terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	var b strings.Builder

	// Header
	_, _ = fmt.Fprintf(&b, "%s\n\n", r.styles.Header.Render("Sync Status: "+info.DataDir))

	// Store counts
	_, _ = fmt.Fprintf(&b, "  Notes:       %d\n", info.Notes)
	_, _ = fmt.Fprintf(&b, "  Vector docs: %d\n", info.VectorDocs)
	if !info.LastVerifyAt.IsZero() {
		_, _ = fmt.Fprintf(&b, "  Last verify: %s\n", formatTime(info.LastVerifyAt))
	}
	if !info.LastSweepAt.IsZero() {
		_, _ = fmt.Fprintf(&b, "  Last sweep:  %s\n", formatTime(info.LastSweepAt))
	}
	_, _ = fmt.Fprintln(&b)

	// Ledger breakdown
	_, _ = fmt.Fprintln(&b, "  Ledger:")
	_, _ = fmt.Fprintf(&b, "    Pending: %d\n", info.Pending)
	_, _ = fmt.Fprintf(&b, "    Syncing: %d\n", info.Syncing)
	_, _ = fmt.Fprintf(&b, "    Synced:  %d\n", info.Synced)
	failed := fmt.Sprintf("%d", info.Failed)
	if info.Failed > 0 {
		failed = r.styles.Error.Render(failed)
	}
	_, _ = fmt.Fprintf(&b, "    Failed:  %s\n", failed)
	_, _ = fmt.Fprintln(&b)

	// Storage sizes
	_, _ = fmt.Fprintln(&b, "  Storage:")
	_, _ = fmt.Fprintf(&b, "    Database: %s\n", FormatBytes(info.DatabaseSize))
	_, _ = fmt.Fprintf(&b, "    Vectors:  %s\n", FormatBytes(info.VectorSize))
	_, _ = fmt.Fprintf(&b, "    Total:    %s\n", FormatBytes(info.TotalSize))
	_, _ = fmt.Fprintln(&b)

	// Embedder status
	_, _ = fmt.Fprintln(&b, "  Embedder:")
	_, _ = fmt.Fprintf(&b, "    Provider: %s\n", info.EmbedderProvider)
	_, _ = fmt.Fprintf(&b, "    Status:   %s\n", r.renderStatus(info.EmbedderStatus))
	if info.EmbedderModel != "" {
		_, _ = fmt.Fprintf(&b, "    Model:    %s\n", info.EmbedderModel)
	}
	if info.Dimensions > 0 {
		_, _ = fmt.Fprintf(&b, "    Dims:     %d\n", info.Dimensions)
	}
	if info.BreakerState != "" {
		_, _ = fmt.Fprintf(&b, "    Breaker:  %s\n", r.renderStatus(info.BreakerState))
	}

	// Daemon status
	if info.DaemonStatus != "" {
		_, _ = fmt.Fprintf(&b, "\n  Daemon: %s\n", r.renderStatus(info.DaemonStatus))
	}

	_, _ = fmt.Fprintln(r.out, r.styles.Panel.Render(strings.TrimRight(b.String(), "\n")))
	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

// renderStatus formats a status word with color.
func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "ready", "running", "closed":
		return r.styles.Success.Render(status)
	case "offline", "stopped", "half-open":
		return r.styles.Warning.Render(status)
	case "error", "open":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}

// formatTime formats a time for display.
func formatTime(t time.Time) string {
	now := time.Now()
	diff := now.Sub(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
