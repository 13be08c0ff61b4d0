package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mhcp0001/NescordBot-sub000/internal/config"
	"github.com/mhcp0001/NescordBot-sub000/internal/daemon"
	"github.com/mhcp0001/NescordBot-sub000/internal/embed"
	"github.com/mhcp0001/NescordBot-sub000/internal/store"
	"github.com/mhcp0001/NescordBot-sub000/internal/ui"
)

// embedProbeTimeout bounds the provider reachability check so status
// stays snappy when the provider host is unroutable.
const embedProbeTimeout = 3 * time.Second

// statusOptions holds CLI flags for status.
type statusOptions struct {
	jsonOut bool
}

func newStatusCmd() *cobra.Command {
	var opts statusOptions

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show store health and sync state",
		Long: `Show a point-in-time summary of the dual stores: note and vector
counts, ledger entries by status, storage sizes, embedding provider
reachability, and whether the sync daemon is running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print status as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, opts statusOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	notes, err := openNotes(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = notes.Close() }()

	info, err := collectStatus(ctx, cfg, notes)
	if err != nil {
		return err
	}

	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor)
	if opts.jsonOut {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

// collectStatus assembles the health summary from both stores, the
// sync state, and a bounded provider probe.
func collectStatus(ctx context.Context, cfg *config.Config, notes *store.SQLiteStore) (ui.StatusInfo, error) {
	info := ui.StatusInfo{DataDir: cfg.Data.Dir}

	n, err := notes.CountNotes(ctx)
	if err != nil {
		return info, fmt.Errorf("failed to count notes: %w", err)
	}
	info.Notes = n

	counts, err := notes.CountByStatus(ctx)
	if err != nil {
		return info, fmt.Errorf("failed to count ledger entries: %w", err)
	}
	info.Pending = counts[store.StatusPending]
	info.Syncing = counts[store.StatusSyncing]
	info.Synced = counts[store.StatusSynced]
	info.Failed = counts[store.StatusFailed]

	if index, loaded, err := openIndexSnapshot(cfg); err == nil {
		if loaded {
			info.VectorDocs = index.Count()
		}
		_ = index.Close()
	}

	info.DatabaseSize = fileSize(cfg.DatabasePath())
	info.VectorSize = fileSize(cfg.VectorPath()) + fileSize(cfg.VectorPath()+".meta")
	info.TotalSize = info.DatabaseSize + info.VectorSize

	probeCtx, cancel := context.WithTimeout(ctx, embedProbeTimeout)
	defer cancel()
	if embedder, err := openEmbedder(probeCtx, cfg); err != nil {
		info.EmbedderProvider = cfg.Embeddings.Provider
		info.EmbedderStatus = "error"
	} else {
		ei := embed.GetInfo(probeCtx, embedder)
		info.EmbedderProvider = string(ei.Provider)
		info.EmbedderModel = ei.Model
		info.Dimensions = ei.Dimensions
		if ei.Available {
			info.EmbedderStatus = "ready"
		} else {
			info.EmbedderStatus = "offline"
		}
		_ = embedder.Close()
	}

	info.LastVerifyAt = stateTime(ctx, notes, store.StateKeyLastVerifyAt)
	info.LastSweepAt = stateTime(ctx, notes, store.StateKeyLastSweepAt)

	if daemon.NewPIDFile(daemon.PIDPath(cfg)).IsRunning() {
		info.DaemonStatus = "running"
	} else {
		info.DaemonStatus = "stopped"
	}

	return info, nil
}

// stateTime reads an RFC3339 timestamp from sync state, zero when the
// key is absent or unparseable.
func stateTime(ctx context.Context, notes *store.SQLiteStore, key string) time.Time {
	v, err := notes.GetState(ctx, key)
	if err != nil || v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}
