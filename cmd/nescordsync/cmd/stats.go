package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mhcp0001/NescordBot-sub000/internal/telemetry"
	"github.com/mhcp0001/NescordBot-sub000/internal/ui"
)

// statsOptions holds CLI flags for stats.
type statsOptions struct {
	days    int
	jsonOut bool
}

func newStatsCmd() *cobra.Command {
	var opts statsOptions

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show query telemetry",
		Long: `Show aggregated search telemetry: query counts by type, the
latency distribution, the most-searched terms, and recent queries
that returned nothing.

Counts are flushed to the database by whichever process ran the
searches, so this works across CLI runs and the daemon.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.days, "days", 7, "Aggregation window in days")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print metrics as JSON")

	return cmd
}

func runStats(ctx context.Context, cmd *cobra.Command, opts statsOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	notes, err := openNotes(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = notes.Close() }()

	if err := telemetry.InitTelemetrySchema(notes.DB()); err != nil {
		return fmt.Errorf("failed to init telemetry schema: %w", err)
	}
	ms, err := telemetry.NewSQLiteMetricsStore(notes.DB())
	if err != nil {
		return fmt.Errorf("failed to open metrics store: %w", err)
	}

	snapshot, err := loadSnapshot(ms, opts.days)
	if err != nil {
		return err
	}

	renderer := ui.NewMetricsRenderer(cmd.OutOrStdout(), noColor)
	if opts.jsonOut {
		return renderer.RenderJSON(snapshot)
	}
	return renderer.Render(snapshot)
}

// loadSnapshot rebuilds a metrics snapshot from the persisted daily
// aggregates, covering the last n days inclusive.
func loadSnapshot(ms *telemetry.SQLiteMetricsStore, days int) (*telemetry.Snapshot, error) {
	if days <= 0 {
		days = 1
	}
	to := time.Now()
	from := to.AddDate(0, 0, -(days - 1))
	fromDate := from.Format("2006-01-02")
	toDate := to.Format("2006-01-02")

	counts, err := ms.GetQueryTypeCounts(fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("failed to load query counts: %w", err)
	}
	terms, err := ms.GetTopTerms(15)
	if err != nil {
		return nil, fmt.Errorf("failed to load top terms: %w", err)
	}
	zeroQueries, err := ms.GetZeroResultQueries(10)
	if err != nil {
		return nil, fmt.Errorf("failed to load zero-result queries: %w", err)
	}
	zeroCount, err := ms.CountZeroResultQueries()
	if err != nil {
		return nil, fmt.Errorf("failed to count zero-result queries: %w", err)
	}
	latencies, err := ms.GetLatencyCounts(fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("failed to load latency counts: %w", err)
	}

	var total int64
	for _, n := range counts {
		total += n
	}

	return &telemetry.Snapshot{
		QueryTypeCounts:     counts,
		TopTerms:            terms,
		ZeroResultQueries:   zeroQueries,
		LatencyDistribution: latencies,
		TotalQueries:        total,
		ZeroResultCount:     zeroCount,
		Since:               time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location()),
	}, nil
}
