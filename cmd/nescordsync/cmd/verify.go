package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mhcp0001/NescordBot-sub000/internal/store"
	"github.com/mhcp0001/NescordBot-sub000/internal/syncer"
	"github.com/mhcp0001/NescordBot-sub000/internal/ui"
)

// verifyOptions holds CLI flags for verify.
type verifyOptions struct {
	repair        bool
	removeOrphans bool
	jsonOut       bool
}

func newVerifyCmd() *cobra.Command {
	var opts verifyOptions

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that both stores agree",
		Long: `Cross-check the relational store, the sync ledger, and the vector
index, reporting notes without vectors, stale vector copies, and
orphaned vector documents.

--repair sends missing and stale entries back through the sync path.
Orphaned vector documents are only deleted with --remove-orphans,
because the index holds the last copy of that content.

The check reads a point-in-time snapshot and can run alongside the
daemon; --repair needs the data lock and cannot.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.repair, "repair", false, "Re-sync recoverable inconsistencies")
	cmd.Flags().BoolVar(&opts.removeOrphans, "remove-orphans", false, "Delete orphaned vector documents (implies --repair)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print the report as JSON")

	return cmd
}

func runVerify(ctx context.Context, cmd *cobra.Command, opts verifyOptions) error {
	if opts.removeOrphans {
		opts.repair = true
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if opts.repair {
		release, err := acquireDataLock(cfg)
		if err != nil {
			return err
		}
		defer release()
	}

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

	report, err := sync.VerifyConsistency(ctx)
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}
	if err := notes.SetState(ctx, store.StateKeyLastVerifyAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to record verify time: %w", err)
	}

	var repair *syncer.RepairResult
	if opts.repair && !report.IsClean() {
		repair, err = sync.Repair(ctx, report, syncer.RepairOptions{RemoveOrphans: opts.removeOrphans})
		if err != nil {
			return fmt.Errorf("repair failed: %w", err)
		}
		if repair.Resynced > 0 || repair.OrphansRemoved > 0 {
			if err := saveIndex(index, cfg); err != nil {
				return err
			}
		}
	}

	if opts.jsonOut {
		if err := printVerifyJSON(cmd, report, repair); err != nil {
			return err
		}
	} else {
		renderer := ui.NewVerifyRenderer(cmd.OutOrStdout(), noColor)
		if err := renderer.Render(report); err != nil {
			return err
		}
		if repair != nil {
			if err := renderer.RenderRepair(repair); err != nil {
				return err
			}
		}
	}

	return verifyExitStatus(report, repair, opts)
}

// verifyExitStatus decides the command's exit code: non-zero when the
// stores are inconsistent and this run did not fix them.
func verifyExitStatus(report *syncer.ConsistencyReport, repair *syncer.RepairResult, opts verifyOptions) error {
	if report.IsClean() {
		return nil
	}
	if !opts.repair {
		return fmt.Errorf("%d inconsistencies found (run with --repair to fix)", len(report.Inconsistencies))
	}
	if repair != nil && repair.Failed > 0 {
		return fmt.Errorf("repair left %d entries unsynced", repair.Failed)
	}
	if repair != nil && repair.OrphansFlagged > 0 && !opts.removeOrphans {
		return fmt.Errorf("%d orphaned vector documents remain (use --remove-orphans to delete)", repair.OrphansFlagged)
	}
	return nil
}

func printVerifyJSON(cmd *cobra.Command, report *syncer.ConsistencyReport, repair *syncer.RepairResult) error {
	payload := struct {
		Report *syncer.ConsistencyReport `json:"report"`
		Repair *syncer.RepairResult      `json:"repair,omitempty"`
	}{report, repair}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
