package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/mhcp0001/NescordBot-sub000/internal/embed"
	nberrors "github.com/mhcp0001/NescordBot-sub000/internal/errors"
	"github.com/mhcp0001/NescordBot-sub000/internal/store"
	"github.com/mhcp0001/NescordBot-sub000/internal/telemetry"
)

// ErrNilDependency is returned by NewEngine when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// Engine runs vector, keyword, and hybrid queries over the dual stores.
// Hybrid queries fan out to both backends concurrently and degrade to the
// surviving backend when one fails; only invalid input is an error.
type Engine struct {
	notes    store.NoteStore
	index    store.VectorIndex
	embedder embed.Embedder
	state    store.StateStore
	history  store.HistoryStore
	fusion   *RRFFusion
	config   EngineConfig
	metrics  *telemetry.QueryMetrics
	logger   *slog.Logger
}

// EngineOption configures optional engine behavior.
type EngineOption func(*Engine)

// WithMetrics wires a telemetry collector into the engine. Every completed
// query is recorded; a nil collector disables recording.
func WithMetrics(m *telemetry.QueryMetrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a search engine over the given stores. Zero config
// fields fall back to DefaultEngineConfig values.
func NewEngine(notes store.NoteStore, index store.VectorIndex, embedder embed.Embedder, state store.StateStore, history store.HistoryStore, config EngineConfig, opts ...EngineOption) (*Engine, error) {
	if notes == nil {
		return nil, fmt.Errorf("%w: note store is required", ErrNilDependency)
	}
	if index == nil {
		return nil, fmt.Errorf("%w: vector index is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	if state == nil {
		return nil, fmt.Errorf("%w: state store is required", ErrNilDependency)
	}
	if history == nil {
		return nil, fmt.Errorf("%w: history store is required", ErrNilDependency)
	}

	def := DefaultEngineConfig()
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = def.DefaultLimit
	}
	if config.MaxLimit <= 0 {
		config.MaxLimit = def.MaxLimit
	}
	if config.DefaultAlpha <= 0 || config.DefaultAlpha > 1 {
		config.DefaultAlpha = def.DefaultAlpha
	}
	if config.RRFConstant <= 0 {
		config.RRFConstant = def.RRFConstant
	}
	if config.MinScore < 0 || config.MinScore > 1 {
		config.MinScore = def.MinScore
	}
	if config.SearchTimeout <= 0 {
		config.SearchTimeout = def.SearchTimeout
	}
	if config.ExcerptLength <= 0 {
		config.ExcerptLength = def.ExcerptLength
	}

	e := &Engine{
		notes:    notes,
		index:    index,
		embedder: embedder,
		state:    state,
		history:  history,
		fusion:   NewRRFFusion(config.RRFConstant),
		config:   config,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e, nil
}

// HybridSearch runs both retrieval branches concurrently and fuses them
// with RRF. One backend failing degrades the response to the survivor's
// results; both failing returns an empty result set with an error log.
// Errors are returned only for invalid input or caller cancellation.
func (e *Engine) HybridSearch(ctx context.Context, query string, opts Options) ([]*Result, error) {
	start := time.Now()
	query = strings.TrimSpace(query)
	limit, alpha, minScore, err := e.normalizeOptions(query, opts)
	if err != nil {
		return nil, err
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, e.config.SearchTimeout)
	defer cancel()

	// Over-fetch so fusion has enough overlap to rank before truncation.
	vecHits, kwHits, vecErr, kwErr := e.parallelSearch(ctx, query, limit*2, opts.Filter)
	if parent.Err() != nil {
		return nil, parent.Err()
	}

	queryType := telemetry.QueryTypeHybrid
	var fused []*FusedResult
	switch {
	case vecErr != nil && kwErr != nil:
		e.logger.Error("both search backends failed",
			slog.String("query", query),
			slog.String("vector_error", vecErr.Error()),
			slog.String("keyword_error", kwErr.Error()))
	case vecErr != nil:
		e.logger.Warn("vector search degraded, serving keyword results only",
			slog.String("error", vecErr.Error()))
		queryType = telemetry.QueryTypeKeyword
		fused = keywordOnlyFused(normalizeKeywordScores(kwHits))
	case kwErr != nil:
		e.logger.Warn("keyword search degraded, serving vector results only",
			slog.String("error", kwErr.Error()))
		queryType = telemetry.QueryTypeVector
		fused = vectorOnlyFused(vecHits)
	default:
		fused = e.fusion.Fuse(vecHits, normalizeKeywordScores(kwHits), alpha)
	}

	results := e.buildResults(ctx, query, fused, opts.Filter, minScore, limit)
	elapsed := time.Since(start)
	e.recordHistory(ctx, opts.UserID, query, len(results), elapsed)
	e.recordMetrics(query, queryType, alpha, len(results), elapsed)
	e.logger.Debug("hybrid search done",
		slog.String("query", query),
		slog.Int("results", len(results)),
		slog.Float64("alpha", alpha),
		slog.Duration("elapsed", elapsed))
	return results, nil
}

// VectorSearch embeds the query and returns the nearest notes by cosine
// similarity. Scores are the raw similarity max(0, 1-distance). Unlike
// HybridSearch, backend failures surface as errors.
func (e *Engine) VectorSearch(ctx context.Context, query string, opts Options) ([]*Result, error) {
	start := time.Now()
	query = strings.TrimSpace(query)
	limit, _, minScore, err := e.normalizeOptions(query, opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.SearchTimeout)
	defer cancel()

	if err := e.ensureVectorReady(ctx); err != nil {
		return nil, err
	}
	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := e.index.Search(ctx, embedding, limit*2, opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	results := e.buildResults(ctx, query, vectorOnlyFused(hits), opts.Filter, minScore, limit)
	elapsed := time.Since(start)
	e.recordHistory(ctx, opts.UserID, query, len(results), elapsed)
	e.recordMetrics(query, telemetry.QueryTypeVector, 1, len(results), elapsed)
	return results, nil
}

// KeywordSearch runs a full-text query against the relational store.
// Scores are bm25 values normalized so the best hit is 1.0. Unlike
// HybridSearch, backend failures surface as errors.
func (e *Engine) KeywordSearch(ctx context.Context, query string, opts Options) ([]*Result, error) {
	start := time.Now()
	query = strings.TrimSpace(query)
	limit, _, minScore, err := e.normalizeOptions(query, opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.SearchTimeout)
	defer cancel()

	hits, err := e.notes.SearchKeyword(ctx, query, opts.Filter, limit*2)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	fused := keywordOnlyFused(normalizeKeywordScores(hits))
	results := e.buildResults(ctx, query, fused, opts.Filter, minScore, limit)
	elapsed := time.Since(start)
	e.recordHistory(ctx, opts.UserID, query, len(results), elapsed)
	e.recordMetrics(query, telemetry.QueryTypeKeyword, 0, len(results), elapsed)
	return results, nil
}

// History returns recent queries, newest first. An empty userID returns
// history across all users.
func (e *Engine) History(ctx context.Context, userID string, limit int) ([]*store.SearchHistoryEntry, error) {
	if limit <= 0 {
		limit = e.config.DefaultLimit
	}
	return e.history.GetSearchHistory(ctx, userID, limit)
}

// normalizeOptions validates the query and options and applies engine
// defaults. Invalid input produces a ValidationError.
func (e *Engine) normalizeOptions(query string, opts Options) (limit int, alpha, minScore float64, err error) {
	if query == "" {
		return 0, 0, 0, nberrors.ValidationError("search query must not be empty", nil)
	}

	alpha = e.config.DefaultAlpha
	if opts.Alpha != nil {
		alpha = *opts.Alpha
	}
	if alpha < 0 || alpha > 1 {
		return 0, 0, 0, nberrors.ValidationError(
			fmt.Sprintf("alpha must be between 0 and 1, got %g", alpha), nil)
	}

	limit = opts.Limit
	switch {
	case limit < 0:
		return 0, 0, 0, nberrors.ValidationError(
			fmt.Sprintf("limit must be positive, got %d", limit), nil)
	case limit == 0:
		limit = e.config.DefaultLimit
	case limit > e.config.MaxLimit:
		limit = e.config.MaxLimit
	}

	minScore = opts.MinScore
	if minScore < 0 || minScore > 1 {
		return 0, 0, 0, nberrors.ValidationError(
			fmt.Sprintf("min score must be between 0 and 1, got %g", minScore), nil)
	}
	if minScore == 0 {
		minScore = e.config.MinScore
	}
	return limit, alpha, minScore, nil
}

// parallelSearch runs both retrieval branches concurrently. Branch errors
// are captured rather than returned so one backend failing cannot cancel
// the other; the caller decides how to degrade.
func (e *Engine) parallelSearch(ctx context.Context, query string, fetchLimit int, filter *store.SearchFilter) (vec []*store.VectorResult, kw []*store.KeywordResult, vecErr, kwErr error) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := e.ensureVectorReady(gctx); err != nil {
			vecErr = err
			return nil
		}
		embedding, err := e.embedder.Embed(gctx, query)
		if err != nil {
			vecErr = fmt.Errorf("embed query: %w", err)
			return nil
		}
		hits, err := e.index.Search(gctx, embedding, fetchLimit, filter)
		if err != nil {
			vecErr = fmt.Errorf("vector search: %w", err)
			return nil
		}
		vec = hits
		return nil
	})

	g.Go(func() error {
		hits, err := e.notes.SearchKeyword(gctx, query, filter, fetchLimit)
		if err != nil {
			kwErr = fmt.Errorf("keyword search: %w", err)
			return nil
		}
		kw = hits
		return nil
	})

	// Branches capture their own errors and always return nil.
	_ = g.Wait()
	return vec, kw, vecErr, kwErr
}

// ensureVectorReady verifies the embedder matches the model the index was
// built with. A mismatched model would query the index with vectors from a
// different space, so the vector branch stays disabled until a re-sync
// rebuilds the index.
func (e *Engine) ensureVectorReady(ctx context.Context) error {
	model, err := e.state.GetState(ctx, store.StateKeyEmbeddingModel)
	if err != nil {
		return fmt.Errorf("read embedding model state: %w", err)
	}
	if model != "" && model != e.embedder.ModelName() {
		return nberrors.ConsistencyViolation(
			fmt.Sprintf("embedding model mismatch: index built with %q, embedder is %q",
				model, e.embedder.ModelName()), nil)
	}
	dim, err := e.state.GetState(ctx, store.StateKeyEmbeddingDimension)
	if err != nil {
		return fmt.Errorf("read embedding dimension state: %w", err)
	}
	if dim != "" {
		n, convErr := strconv.Atoi(dim)
		if convErr == nil && n != e.embedder.Dimensions() {
			return nberrors.ConsistencyViolation(
				fmt.Sprintf("embedding dimension mismatch: index built with %d, embedder produces %d",
					n, e.embedder.Dimensions()), nil)
		}
	}
	return nil
}

// buildResults enriches fused hits from the relational store, re-applies
// the filter against live note data, drops hits below the score floor, and
// truncates to limit. Notes deleted since the branch queries ran are
// silently skipped.
func (e *Engine) buildResults(ctx context.Context, query string, fused []*FusedResult, filter *store.SearchFilter, minScore float64, limit int) []*Result {
	if len(fused) == 0 {
		return []*Result{}
	}
	ids := make([]string, 0, len(fused))
	for _, f := range fused {
		ids = append(ids, f.NoteID)
	}
	notes, err := e.notes.GetNotes(ctx, ids)
	if err != nil {
		e.logger.Error("enrich search results", slog.String("error", err.Error()))
		return []*Result{}
	}

	terms := strings.Fields(query)
	results := make([]*Result, 0, min(len(fused), limit))
	for _, f := range fused {
		if len(results) == limit {
			break
		}
		// fused is sorted best-first, so everything past the floor is out.
		if f.Score < minScore {
			break
		}
		note, ok := notes[f.NoteID]
		if !ok {
			continue
		}
		// Branch filters ran against index-side snapshots that may lag the
		// relational row; re-check against current data.
		if !matchesFilter(filter, note) {
			continue
		}
		results = append(results, &Result{
			NoteID:       f.NoteID,
			Title:        note.Title,
			Excerpt:      buildExcerpt(note.Content, terms, e.config.ExcerptLength),
			Score:        f.Score,
			Source:       sourceOf(f),
			Tags:         note.Tags,
			ContentType:  note.ContentType,
			CreatedAt:    note.CreatedAt,
			UpdatedAt:    note.UpdatedAt,
			VectorScore:  f.VectorScore,
			KeywordScore: f.KeywordScore,
			MatchedTerms: f.MatchedTerms,
		})
	}
	return results
}

// vectorOnlyFused adapts a bare vector result list to the fused shape.
// Scores stay raw similarities, already ordered best-first.
func vectorOnlyFused(hits []*store.VectorResult) []*FusedResult {
	fused := make([]*FusedResult, 0, len(hits))
	for i, h := range hits {
		fused = append(fused, &FusedResult{
			NoteID:      h.NoteID,
			Score:       float64(h.Score),
			VectorRank:  i + 1,
			VectorScore: float64(h.Score),
		})
	}
	return fused
}

// keywordOnlyFused adapts a bare keyword result list to the fused shape.
// Scores must already be normalized, ordered best-first.
func keywordOnlyFused(hits []*store.KeywordResult) []*FusedResult {
	fused := make([]*FusedResult, 0, len(hits))
	for i, h := range hits {
		fused = append(fused, &FusedResult{
			NoteID:       h.NoteID,
			Score:        h.Score,
			KeywordRank:  i + 1,
			KeywordScore: h.Score,
			MatchedTerms: h.MatchedTerms,
		})
	}
	return fused
}

// normalizeKeywordScores rescales bm25 scores in place so the best hit is
// 1.0, making them comparable across queries. Returns the same slice.
func normalizeKeywordScores(hits []*store.KeywordResult) []*store.KeywordResult {
	if len(hits) == 0 {
		return hits
	}
	max := hits[0].Score
	for _, h := range hits {
		if h.Score > max {
			max = h.Score
		}
	}
	if max <= 0 {
		return hits
	}
	for _, h := range hits {
		h.Score /= max
	}
	return hits
}

// matchesFilter checks a live note against the filter.
func matchesFilter(f *store.SearchFilter, note *store.Note) bool {
	if f.IsZero() {
		return true
	}
	if f.UserID != "" && note.UserID != f.UserID {
		return false
	}
	if f.ContentType != "" && note.ContentType != f.ContentType {
		return false
	}
	if !f.MatchesTags(note.Tags) {
		return false
	}
	return f.MatchesTime(note.CreatedAt)
}

// sourceOf maps branch membership to the result source label.
func sourceOf(f *FusedResult) Source {
	switch {
	case f.InBothLists:
		return SourceHybrid
	case f.VectorRank > 0:
		return SourceVector
	default:
		return SourceKeyword
	}
}

// buildExcerpt returns a window of the content around the earliest query
// term match, or the leading content when no term matches. Newlines and
// runs of whitespace collapse to single spaces.
func buildExcerpt(content string, terms []string, maxLen int) string {
	flat := strings.Join(strings.Fields(content), " ")
	if flat == "" || maxLen <= 0 {
		return ""
	}
	runes := []rune(flat)
	if len(runes) <= maxLen {
		return flat
	}

	start := 0
	if ridx := firstTermRuneIndex(flat, terms); ridx > 0 {
		// Keep a quarter window of leading context before the match.
		start = ridx - maxLen/4
		if start < 0 {
			start = 0
		}
	}
	end := start + maxLen
	if end > len(runes) {
		end = len(runes)
		start = end - maxLen
	}

	out := string(runes[start:end])
	if start > 0 {
		out = "..." + out
	}
	if end < len(runes) {
		out += "..."
	}
	return out
}

// firstTermRuneIndex returns the rune offset of the earliest
// case-insensitive term match, or -1 when nothing matches. Lowercasing is
// rune-wise, so rune offsets in the lowered copy line up with the
// original even where byte widths differ.
func firstTermRuneIndex(content string, terms []string) int {
	lower := strings.ToLower(content)
	best := -1
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if i := strings.Index(lower, t); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	if best < 0 {
		return -1
	}
	return utf8.RuneCountInString(lower[:best])
}

// recordHistory appends the query to search history, including queries
// that returned nothing. Failures only log; history is best-effort.
func (e *Engine) recordHistory(ctx context.Context, userID, query string, resultCount int, elapsed time.Duration) {
	// Bookkeeping must survive an exhausted search deadline.
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	entry := &store.SearchHistoryEntry{
		UserID:          userID,
		Query:           query,
		ResultsCount:    resultCount,
		ExecutionTimeMS: elapsed.Milliseconds(),
		Timestamp:       time.Now(),
	}
	if err := e.history.SaveSearchHistory(hctx, entry); err != nil {
		e.logger.Warn("record search history", slog.String("error", err.Error()))
	}
}

// recordMetrics feeds the optional telemetry collector.
func (e *Engine) recordMetrics(query string, qt telemetry.QueryType, alpha float64, resultCount int, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.Record(telemetry.QueryEvent{
		Query:       query,
		Type:        qt,
		Alpha:       alpha,
		ResultCount: resultCount,
		Latency:     elapsed,
		Timestamp:   time.Now(),
	})
}
