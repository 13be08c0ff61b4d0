package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mhcp0001/NescordBot-sub000/internal/ui"
)

// historyOptions holds CLI flags for history.
type historyOptions struct {
	limit   int
	userID  string
	jsonOut bool
}

func newHistoryCmd() *cobra.Command {
	var opts historyOptions

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent searches",
		Long: `Show recent search queries, newest first, with result counts and
execution times. --user narrows the list to one user's searches.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 20, "Maximum entries")
	cmd.Flags().StringVarP(&opts.userID, "user", "u", "", "Only this user's searches")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print history as JSON")

	return cmd
}

func runHistory(ctx context.Context, cmd *cobra.Command, opts historyOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	notes, err := openNotes(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = notes.Close() }()

	entries, err := notes.GetSearchHistory(ctx, opts.userID, opts.limit)
	if err != nil {
		return fmt.Errorf("failed to load search history: %w", err)
	}

	renderer := ui.NewSearchRenderer(cmd.OutOrStdout(), noColor)
	if opts.jsonOut {
		return renderer.RenderHistoryJSON(entries)
	}
	return renderer.RenderHistory(entries)
}
