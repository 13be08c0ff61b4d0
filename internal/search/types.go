// Package search implements hybrid retrieval over the dual-store system:
// vector KNN against the HNSW index and FTS5 keyword search against the
// relational store, run concurrently and fused with Reciprocal Rank Fusion.
package search

import (
	"time"

	"github.com/mhcp0001/NescordBot-sub000/internal/store"
)

// Source identifies which retrieval branch produced a result.
type Source string

const (
	// SourceVector marks a hit found only by vector similarity.
	SourceVector Source = "vector"
	// SourceKeyword marks a hit found only by keyword match.
	SourceKeyword Source = "keyword"
	// SourceHybrid marks a hit found by both branches.
	SourceHybrid Source = "hybrid"
)

// Result is a single search hit, enriched from the relational store.
// Score is normalized to [0,1]; 1.0 is the best hit of the result set.
type Result struct {
	NoteID      string    `json:"note_id"`
	Title       string    `json:"title"`
	Excerpt     string    `json:"excerpt"`
	Score       float64   `json:"score"`
	Source      Source    `json:"source"`
	Tags        []string  `json:"tags,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Per-branch diagnostics, useful for tuning alpha.
	VectorScore  float64  `json:"vector_score,omitempty"`
	KeywordScore float64  `json:"keyword_score,omitempty"`
	MatchedTerms []string `json:"matched_terms,omitempty"`
}

// Options tunes a single search call. The zero value uses engine defaults.
type Options struct {
	// Limit caps returned results. 0 uses the engine default; values above
	// the engine maximum are clamped. Negative values are rejected.
	Limit int

	// Alpha is the vector weight in [0,1] for hybrid fusion; keyword
	// contributions are weighted 1-alpha. Nil uses the engine default.
	// 0 is pure keyword, 1 is pure vector.
	Alpha *float64

	// MinScore drops results whose normalized score falls below it.
	// 0 keeps everything.
	MinScore float64

	// Filter restricts hits by user, content type, tags, or date range.
	Filter *store.SearchFilter

	// UserID attributes the query in search history. Independent of
	// Filter.UserID, which restricts results.
	UserID string
}

// EngineConfig holds search engine tuning. Zero values fall back to the
// defaults from DefaultEngineConfig.
type EngineConfig struct {
	// DefaultLimit is the result cap when a query specifies none.
	DefaultLimit int

	// MaxLimit clamps caller-supplied limits.
	MaxLimit int

	// DefaultAlpha is the vector weight when a query specifies none.
	DefaultAlpha float64

	// RRFConstant is the fusion smoothing parameter (k).
	RRFConstant int

	// MinScore is the default normalized score floor. 0 disables it.
	MinScore float64

	// SearchTimeout bounds a single search call end to end.
	SearchTimeout time.Duration

	// ExcerptLength is the excerpt window size in runes.
	ExcerptLength int
}

// DefaultEngineConfig mirrors the config package defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultLimit:  20,
		MaxLimit:      100,
		DefaultAlpha:  0.7,
		RRFConstant:   DefaultRRFConstant,
		MinScore:      0,
		SearchTimeout: 10 * time.Second,
		ExcerptLength: 160,
	}
}
