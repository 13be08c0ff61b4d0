package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mhcp0001/NescordBot-sub000/internal/config"
	"github.com/mhcp0001/NescordBot-sub000/internal/embed"
	"github.com/mhcp0001/NescordBot-sub000/internal/search"
	"github.com/mhcp0001/NescordBot-sub000/internal/store"
	"github.com/mhcp0001/NescordBot-sub000/internal/telemetry"
	"github.com/mhcp0001/NescordBot-sub000/internal/ui"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit       int
	mode        string // "hybrid", "vector", "keyword"
	alpha       float64
	minScore    float64
	tags        []string
	contentType string
	userID      string
	after       string
	before      string
	jsonOut     bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search notes with hybrid ranking",
		Long: `Search notes across both stores.

Hybrid mode (the default) runs semantic and keyword search in
parallel and fuses the rankings with Reciprocal Rank Fusion; --alpha
shifts the weight between them. Vector mode searches embeddings only,
keyword mode the SQLite full-text index only.

When the vector index is empty or built with a different embedding
model, hybrid search degrades to keyword results rather than failing.

Examples:
  nescordsync search "kubernetes ingress timeout"
  nescordsync search "standup notes" --tag work --after 2026-08-01
  nescordsync search "exact phrase" --mode keyword --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum results (default from config)")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "hybrid", "Search mode: hybrid, vector, keyword")
	cmd.Flags().Float64Var(&opts.alpha, "alpha", 0, "Vector weight 0.0-1.0 (default from config)")
	cmd.Flags().Float64Var(&opts.minScore, "min-score", 0, "Drop results scoring below this")
	cmd.Flags().StringSliceVar(&opts.tags, "tag", nil, "Require tag (repeatable)")
	cmd.Flags().StringVarP(&opts.contentType, "type", "t", "", "Filter by content type")
	cmd.Flags().StringVarP(&opts.userID, "user", "u", "", "Filter by owner and attribute history")
	cmd.Flags().StringVar(&opts.after, "after", "", "Only notes created after (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&opts.before, "before", "", "Only notes created before (YYYY-MM-DD or RFC3339)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print results as JSON")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	notes, err := openNotes(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = notes.Close() }()

	// Keyword-only queries never embed, so skip provider detection.
	var embedder embed.Embedder
	if opts.mode == "keyword" {
		embedder = embed.NewStaticEmbedder()
	} else {
		embedder, err = openEmbedder(ctx, cfg)
		if err != nil {
			return err
		}
	}
	defer func() { _ = embedder.Close() }()

	index, err := openIndex(cfg, embedder)
	if err != nil {
		return err
	}
	defer func() { _ = index.Close() }()

	engineOpts := []search.EngineOption{search.WithLogger(slog.Default())}
	metrics := openMetrics(notes)
	if metrics != nil {
		defer func() { _ = metrics.Close() }()
		engineOpts = append(engineOpts, search.WithMetrics(metrics))
	}

	engine, err := search.NewEngine(notes, index, embedder, notes, notes, engineConfig(cfg), engineOpts...)
	if err != nil {
		return fmt.Errorf("failed to create search engine: %w", err)
	}

	searchOpts, err := buildSearchOptions(cmd, opts)
	if err != nil {
		return err
	}

	var results []*search.Result
	switch opts.mode {
	case "hybrid":
		results, err = engine.HybridSearch(ctx, query, *searchOpts)
	case "vector":
		results, err = engine.VectorSearch(ctx, query, *searchOpts)
	case "keyword":
		results, err = engine.KeywordSearch(ctx, query, *searchOpts)
	default:
		return fmt.Errorf("unknown search mode %q (want hybrid, vector, or keyword)", opts.mode)
	}
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	renderer := ui.NewSearchRenderer(cmd.OutOrStdout(), noColor)
	if opts.jsonOut {
		return renderer.RenderJSON(results)
	}
	return renderer.Render(query, results)
}

// engineConfig maps application settings onto the search engine.
func engineConfig(cfg *config.Config) search.EngineConfig {
	ec := search.DefaultEngineConfig()
	ec.DefaultLimit = cfg.Search.MaxResults
	ec.DefaultAlpha = cfg.Search.Alpha
	ec.RRFConstant = cfg.Search.RRFConstant
	ec.SearchTimeout = cfg.QueryTimeout()
	return ec
}

// openMetrics wires persistent query telemetry. Telemetry is optional:
// a broken schema logs a warning and search runs without it.
func openMetrics(notes *store.SQLiteStore) *telemetry.QueryMetrics {
	if err := telemetry.InitTelemetrySchema(notes.DB()); err != nil {
		slog.Warn("query telemetry disabled", slog.String("error", err.Error()))
		return nil
	}
	ms, err := telemetry.NewSQLiteMetricsStore(notes.DB())
	if err != nil {
		slog.Warn("query telemetry disabled", slog.String("error", err.Error()))
		return nil
	}
	return telemetry.NewQueryMetrics(ms)
}

func buildSearchOptions(cmd *cobra.Command, opts searchOptions) (*search.Options, error) {
	filter := &store.SearchFilter{
		UserID:      opts.userID,
		ContentType: opts.contentType,
		Tags:        opts.tags,
	}

	after, err := parseTimeFlag(opts.after)
	if err != nil {
		return nil, fmt.Errorf("invalid --after: %w", err)
	}
	filter.After = after

	before, err := parseTimeFlag(opts.before)
	if err != nil {
		return nil, fmt.Errorf("invalid --before: %w", err)
	}
	filter.Before = before

	so := &search.Options{
		Limit:    opts.limit,
		MinScore: opts.minScore,
		Filter:   filter,
		UserID:   opts.userID,
	}
	if cmd.Flags().Changed("alpha") {
		if opts.alpha < 0 || opts.alpha > 1 {
			return nil, fmt.Errorf("--alpha must be between 0.0 and 1.0, got %g", opts.alpha)
		}
		alpha := opts.alpha
		so.Alpha = &alpha
	}
	return so, nil
}

// parseTimeFlag accepts a date or a full RFC3339 timestamp.
func parseTimeFlag(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("want YYYY-MM-DD or RFC3339, got %q", s)
	}
	return &t, nil
}
