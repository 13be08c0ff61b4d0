package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mhcp0001/NescordBot-sub000/internal/output"
	"github.com/mhcp0001/NescordBot-sub000/internal/store"
	"github.com/mhcp0001/NescordBot-sub000/internal/syncer"
)

// retryOptions holds CLI flags for retry.
type retryOptions struct {
	reset   bool
	jsonOut bool
}

func newRetryCmd() *cobra.Command {
	var opts retryOptions

	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Re-attempt failed syncs",
		Long: `Re-attempt ledger entries that failed to sync.

By default only entries whose exponential backoff has elapsed are
tried; the rest report how long they have left. --reset puts every
failed entry back to pending and sweeps immediately, ignoring
backoff. Entries that hit the retry ceiling are only picked up again
by 'nescordsync verify --repair'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetry(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.reset, "reset", false, "Ignore backoff and retry every failed entry now")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print a JSON summary")

	return cmd
}

func runRetry(ctx context.Context, cmd *cobra.Command, opts retryOptions) error {
	out := output.New(cmd.OutOrStdout())

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

	started := time.Now()

	var outcomes []syncer.Outcome
	if opts.reset {
		n, err := resetFailedEntries(ctx, notes)
		if err != nil {
			return err
		}
		if n == 0 {
			out.Success("No failed entries")
			return nil
		}
		outcomes, err = sync.SyncAllPending(ctx)
		if err != nil {
			return fmt.Errorf("retry sweep aborted: %w", err)
		}
	} else {
		outcomes, err = sync.RetryFailed(ctx)
		if err != nil {
			return fmt.Errorf("retry aborted: %w", err)
		}
		if len(outcomes) == 0 {
			out.Success("No failed entries due for retry")
			return nil
		}
	}

	summary := syncer.Summarize(outcomes)
	if summary.Synced > 0 {
		if err := saveIndex(index, cfg); err != nil {
			return err
		}
	}

	if opts.jsonOut {
		return printSyncJSON(cmd, summary, time.Since(started))
	}

	for _, o := range outcomes {
		switch o.Status {
		case syncer.OutcomeSynced:
			out.Successf("%s synced", o.NoteID)
		case syncer.OutcomeAlreadySynced:
			out.Statusf("✅", "%s already current", o.NoteID)
		case syncer.OutcomeSkipped:
			out.Statusf("⏳", "%s %s", o.NoteID, o.Reason)
		case syncer.OutcomeUnavailable:
			out.Warningf("%s provider unavailable: %s", o.NoteID, o.Reason)
		case syncer.OutcomeFailed:
			out.Errorf("%s failed: %s", o.NoteID, o.Reason)
		case syncer.OutcomeNotFound:
			out.Statusf("🗑️", "%s note gone, ledger entry dropped", o.NoteID)
		}
	}

	if still := summary.Failed + summary.Unavailable; still > 0 {
		out.Warningf("%d of %d entries still failing", still, summary.Total())
	} else {
		out.Successf("%d entries processed", summary.Total())
	}
	return nil
}

// resetFailedEntries moves every failed ledger entry back to pending,
// clearing the backoff gate for the sweep that follows.
func resetFailedEntries(ctx context.Context, notes *store.SQLiteStore) (int, error) {
	total := 0
	for {
		entries, err := notes.ListByStatus(ctx, store.StatusFailed, 500)
		if err != nil {
			return total, fmt.Errorf("failed to list failed entries: %w", err)
		}
		if len(entries) == 0 {
			return total, nil
		}
		for _, e := range entries {
			if err := notes.MarkPending(ctx, e.NoteID); err != nil {
				return total, fmt.Errorf("failed to reset %s: %w", e.NoteID, err)
			}
			total++
		}
	}
}
