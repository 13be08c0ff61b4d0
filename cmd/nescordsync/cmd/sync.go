package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mhcp0001/NescordBot-sub000/internal/embed"
	"github.com/mhcp0001/NescordBot-sub000/internal/store"
	"github.com/mhcp0001/NescordBot-sub000/internal/syncer"
	"github.com/mhcp0001/NescordBot-sub000/internal/ui"
)

// syncOptions holds CLI flags for sync.
type syncOptions struct {
	all     bool
	jsonOut bool
	verify  bool
}

func newSyncCmd() *cobra.Command {
	var opts syncOptions

	cmd := &cobra.Command{
		Use:   "sync [note-id...]",
		Short: "Embed pending notes into the vector index",
		Long: `Sweep the sync ledger and embed every pending or stale note into
the vector index. With note IDs, sync only those notes.

The sweep also retries failed entries whose backoff has elapsed and
backfills ledger entries for notes that never got one. --all marks
every note stale first, forcing a full re-embed (use after changing
the embedding model by hand).

Examples:
  nescordsync sync
  nescordsync sync --all
  nescordsync sync 7f3c9a12-...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), cmd, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.all, "all", false, "Mark every note stale and re-embed it")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print a JSON summary instead of progress output")
	cmd.Flags().BoolVar(&opts.verify, "verify", false, "Run a consistency check after the sweep")

	return cmd
}

func runSync(ctx context.Context, cmd *cobra.Command, noteIDs []string, opts syncOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	release, err := acquireDataLock(cfg)
	if err != nil {
		return err
	}
	defer release()

	notes, err := openNotes(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = notes.Close() }()

	embedder, err := openEmbedder(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	index, err := openIndex(cfg, embedder)
	if err != nil {
		return err
	}
	defer func() { _ = index.Close() }()

	sync, err := newSynchronizer(cfg, notes, index, embedder)
	if err != nil {
		return err
	}

	if _, err := sync.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover interrupted entries: %w", err)
	}

	var renderer ui.Renderer
	if !opts.jsonOut {
		renderer = ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(), ui.WithNoColor(noColor)))
		if err := renderer.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = renderer.Stop() }()
	}

	started := time.Now()

	if opts.all {
		n, err := notes.MarkAllStale(ctx)
		if err != nil {
			return fmt.Errorf("failed to mark notes stale: %w", err)
		}
		if renderer != nil {
			renderer.UpdateProgress(ui.ProgressEvent{
				Stage:   ui.StageScanning,
				Message: fmt.Sprintf("marked %d notes for re-embedding", n),
			})
		}
	}

	total, err := countCandidates(ctx, notes)
	if err != nil {
		return err
	}
	if len(noteIDs) > 0 {
		total = len(noteIDs)
	}
	if renderer != nil {
		renderer.UpdateProgress(ui.ProgressEvent{
			Stage:   ui.StageScanning,
			Message: fmt.Sprintf("%d notes to sync", total),
		})
	}

	current := 0
	onOutcome := func(o syncer.Outcome) {
		current++
		if renderer == nil {
			return
		}
		renderer.UpdateProgress(ui.ProgressEvent{
			Stage:   ui.StageSyncing,
			Current: current,
			Total:   total,
			NoteID:  o.NoteID,
		})
		switch o.Status {
		case syncer.OutcomeFailed:
			renderer.AddError(ui.ErrorEvent{NoteID: o.NoteID, Err: o.Err})
		case syncer.OutcomeUnavailable:
			renderer.AddError(ui.ErrorEvent{NoteID: o.NoteID, Err: o.Err, IsWarn: true})
		}
	}

	var outcomes []syncer.Outcome
	if len(noteIDs) > 0 {
		outcomes, err = sync.SyncBatch(ctx, noteIDs)
		for _, o := range outcomes {
			onOutcome(o)
		}
	} else {
		outcomes, err = sync.SyncAllPendingProgress(ctx, onOutcome)
	}
	if err != nil {
		return fmt.Errorf("sync aborted: %w", err)
	}

	summary := syncer.Summarize(outcomes)
	if summary.Synced > 0 || opts.all {
		if err := saveIndex(index, cfg); err != nil {
			return err
		}
	}
	if err := notes.SetState(ctx, store.StateKeyLastSweepAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to record sweep time: %w", err)
	}

	duration := time.Since(started)

	if opts.verify {
		if renderer != nil {
			renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageVerifying, Message: "checking store consistency"})
		}
		report, err := sync.VerifyConsistency(ctx)
		if err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
		if renderer != nil && !report.IsClean() {
			renderer.AddError(ui.ErrorEvent{
				Err:    fmt.Errorf("%d inconsistencies found, run 'nescordsync verify' for details", len(report.Inconsistencies)),
				IsWarn: true,
			})
		}
	}

	if opts.jsonOut {
		return printSyncJSON(cmd, summary, duration)
	}

	renderer.Complete(ui.CompletionStats{
		Notes:    summary.Total(),
		Synced:   summary.Synced,
		Skipped:  summary.AlreadySynced + summary.Skipped + summary.NotFound,
		Failed:   summary.Failed + summary.Unavailable,
		Duration: duration,
		Embedder: embed.GetInfo(ctx, embedder),
	})
	return nil
}

// countCandidates estimates sweep size for progress reporting.
func countCandidates(ctx context.Context, notes *store.SQLiteStore) (int, error) {
	counts, err := notes.CountByStatus(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count ledger entries: %w", err)
	}
	return counts[store.StatusPending] + counts[store.StatusSyncing] + counts[store.StatusFailed], nil
}

func printSyncJSON(cmd *cobra.Command, summary syncer.Summary, duration time.Duration) error {
	payload := struct {
		Synced        int    `json:"synced"`
		AlreadySynced int    `json:"already_synced"`
		Skipped       int    `json:"skipped"`
		Unavailable   int    `json:"unavailable"`
		Failed        int    `json:"failed"`
		NotFound      int    `json:"not_found"`
		Total         int    `json:"total"`
		Duration      string `json:"duration"`
	}{
		Synced:        summary.Synced,
		AlreadySynced: summary.AlreadySynced,
		Skipped:       summary.Skipped,
		Unavailable:   summary.Unavailable,
		Failed:        summary.Failed,
		NotFound:      summary.NotFound,
		Total:         summary.Total(),
		Duration:      duration.Round(time.Millisecond).String(),
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
