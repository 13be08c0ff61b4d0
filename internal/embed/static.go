package embed

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

const (
	// StaticDimensions is the embedding width of the hash-based embedder.
	StaticDimensions = 256

	// StaticModelName identifies hash-based embeddings in the sync ledger.
	StaticModelName = "static"
)

// Feature weights for hash-based embeddings. Whole tokens carry most of
// the signal; character trigrams add tolerance for typos and morphology.
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// stopWords are excluded from hashing so filler words do not dominate
// the vector.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "in": {},
	"is": {}, "it": {}, "of": {}, "on": {}, "or": {}, "that": {},
	"the": {}, "to": {}, "was": {}, "will": {}, "with": {},
}

// StaticEmbedder produces deterministic hash-based embeddings with no
// external service. It is the fallback when no provider is reachable:
// semantically weaker than a real model, but stable across runs, so
// vector search degrades instead of disappearing.
type StaticEmbedder struct {
	dimensions int
}

// NewStaticEmbedder returns a hash-based embedder with StaticDimensions.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{dimensions: StaticDimensions}
}

// Embed returns the hash-based embedding for text.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.embedText(text), nil
}

// EmbedBatch returns hash-based embeddings for texts in input order.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vecs[i] = e.embedText(text)
	}
	return vecs, nil
}

// Dimensions returns the embedding width.
func (e *StaticEmbedder) Dimensions() int { return e.dimensions }

// ModelName returns StaticModelName.
func (e *StaticEmbedder) ModelName() string { return StaticModelName }

// Available always reports true; there is no external service.
func (e *StaticEmbedder) Available(ctx context.Context) bool { return true }

// Close is a no-op.
func (e *StaticEmbedder) Close() error { return nil }

// embedText hashes tokens and character trigrams into a fixed-width
// vector and normalizes it for cosine distance. Empty text yields a
// zero vector.
func (e *StaticEmbedder) embedText(text string) []float32 {
	vec := make([]float32, e.dimensions)
	for _, tok := range tokenize(text) {
		vec[hashToIndex(tok, e.dimensions)] += tokenWeight
		for i := 0; i+ngramSize <= len(tok); i++ {
			vec[hashToIndex("#"+tok[i:i+ngramSize], e.dimensions)] += ngramWeight
		}
	}
	return normalizeVector(vec)
}

// tokenize lowercases text and splits on non-alphanumeric boundaries,
// also splitting camelCase so titles like "SyncLedger" and "sync ledger"
// hash alike.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	var tokens []string
	for _, field := range fields {
		for _, part := range splitCamelCase(field) {
			part = strings.ToLower(part)
			if part == "" {
				continue
			}
			if _, skip := stopWords[part]; skip {
				continue
			}
			tokens = append(tokens, part)
		}
	}
	return tokens
}

// splitCamelCase splits at lower-to-upper transitions. Runs of capitals
// stay together, so "HTTPServer" becomes ["HTTPServer"] rather than one
// token per letter.
func splitCamelCase(s string) []string {
	runes := []rune(s)
	var parts []string
	start := 0
	for i := 1; i < len(runes); i++ {
		if unicode.IsLower(runes[i-1]) && unicode.IsUpper(runes[i]) {
			parts = append(parts, string(runes[start:i]))
			start = i
		}
	}
	return append(parts, string(runes[start:]))
}

// hashToIndex maps a token to a stable vector index.
func hashToIndex(s string, dims int) int {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int(h.Sum64() % uint64(dims))
}
