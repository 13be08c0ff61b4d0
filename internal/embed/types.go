// Package embed converts note text into dense vectors for the vector
// index. It ships two providers: an Ollama HTTP client for real
// embedding models, and a deterministic hash-based fallback that needs
// no external service. Wrappers add LRU caching and client-side rate
// limiting around either provider.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultBatchSize is the number of texts sent per provider batch
	// request.
	DefaultBatchSize = 32

	// DefaultTimeout bounds a single provider request.
	DefaultTimeout = 30 * time.Second
)

// Embedder converts text into embedding vectors. Implementations must
// be safe for concurrent use.
type Embedder interface {
	// Embed returns the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns embeddings for multiple texts in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding width this embedder produces.
	Dimensions() int

	// ModelName identifies the model. The sync ledger records it with
	// every content hash, so changing models marks all notes stale.
	ModelName() string

	// Available reports whether the backing provider is reachable.
	Available(ctx context.Context) bool

	// Close releases provider resources.
	Close() error
}

// normalizeVector scales v to unit length in place and returns it.
// Zero vectors are left untouched so empty-text markers survive.
func normalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}
