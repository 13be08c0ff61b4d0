package embed

import (
	"context"

	"golang.org/x/time/rate"
)

// ThrottledEmbedder wraps an Embedder with a client-side token bucket
// so bulk syncs do not saturate a shared provider. Batch requests
// consume one token per text, capped at the bucket's burst size.
type ThrottledEmbedder struct {
	inner   Embedder
	limiter *rate.Limiter
}

var _ Embedder = (*ThrottledEmbedder)(nil)

// NewThrottledEmbedder wraps inner with a limit of perSecond requests
// and the given burst allowance.
func NewThrottledEmbedder(inner Embedder, perSecond float64, burst int) *ThrottledEmbedder {
	if burst < 1 {
		burst = 1
	}
	return &ThrottledEmbedder{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Embed waits for one token, then delegates.
func (t *ThrottledEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.inner.Embed(ctx, text)
}

// EmbedBatch waits for one token per text before delegating. WaitN
// rejects requests above the burst size, so larger batches are charged
// the burst and rely on the steady rate to pace successive calls.
func (t *ThrottledEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) > 0 {
		n := min(len(texts), t.limiter.Burst())
		if err := t.limiter.WaitN(ctx, n); err != nil {
			return nil, err
		}
	}
	return t.inner.EmbedBatch(ctx, texts)
}

// Dimensions returns the wrapped embedder's width.
func (t *ThrottledEmbedder) Dimensions() int { return t.inner.Dimensions() }

// ModelName returns the wrapped embedder's model name.
func (t *ThrottledEmbedder) ModelName() string { return t.inner.ModelName() }

// Available reports the wrapped embedder's availability.
func (t *ThrottledEmbedder) Available(ctx context.Context) bool { return t.inner.Available(ctx) }

// Close closes the wrapped embedder.
func (t *ThrottledEmbedder) Close() error { return t.inner.Close() }

// Inner returns the wrapped embedder.
func (t *ThrottledEmbedder) Inner() Embedder { return t.inner }
