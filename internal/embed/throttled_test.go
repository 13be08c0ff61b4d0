package embed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottledEmbedder_WithinBurstPassesThrough(t *testing.T) {
	// Given: a generous limit
	inner := newCountingEmbedder("test-model")
	throttled := NewThrottledEmbedder(inner, 1000, 10)
	ctx := context.Background()

	// When: a few calls arrive inside the burst
	for i := 0; i < 3; i++ {
		_, err := throttled.Embed(ctx, "quick note")
		require.NoError(t, err)
	}

	// Then: all reached the provider without error
	assert.Equal(t, 3, inner.embedCalls)
}

func TestThrottledEmbedder_CanceledWaitDoesNotReachProvider(t *testing.T) {
	// Given: a limiter whose burst is already spent
	inner := newCountingEmbedder("test-model")
	throttled := NewThrottledEmbedder(inner, 0.001, 1)
	ctx := context.Background()

	_, err := throttled.Embed(ctx, "first")
	require.NoError(t, err)

	// When: the next call cannot get a token before cancellation
	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = throttled.Embed(cctx, "second")

	// Then: the wait fails and the provider is untouched
	require.Error(t, err)
	assert.Equal(t, 1, inner.embedCalls)
}

func TestThrottledEmbedder_BatchChargesPerTextUpToBurst(t *testing.T) {
	// Given: burst 2 with a slow refill
	inner := newCountingEmbedder("test-model")
	throttled := NewThrottledEmbedder(inner, 0.001, 2)
	ctx := context.Background()

	// When: a batch larger than the burst arrives
	vecs, err := throttled.EmbedBatch(ctx, []string{"a", "b", "c"})

	// Then: it is charged the burst and still goes through whole
	require.NoError(t, err)
	assert.Len(t, vecs, 3)
	assert.Equal(t, 3, inner.batchTexts)

	// And: the bucket is now empty, so the next call times out
	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = throttled.Embed(cctx, "d")
	require.Error(t, err)
}

func TestThrottledEmbedder_DelegatesMetadata(t *testing.T) {
	inner := newCountingEmbedder("test-model")
	throttled := NewThrottledEmbedder(inner, 1, 0)

	assert.Equal(t, StaticDimensions, throttled.Dimensions())
	assert.Equal(t, "test-model", throttled.ModelName())
	assert.True(t, throttled.Available(context.Background()))
	assert.NoError(t, throttled.Close())
	assert.Same(t, inner, throttled.Inner())
}

func TestThrottledEmbedder_EmptyBatchNeedsNoToken(t *testing.T) {
	inner := newCountingEmbedder("test-model")
	throttled := NewThrottledEmbedder(inner, 0.001, 1)
	ctx := context.Background()

	// Spend the only token.
	_, err := throttled.Embed(ctx, "first")
	require.NoError(t, err)

	// An empty batch should still pass straight through.
	_, err = throttled.EmbedBatch(ctx, nil)
	assert.NoError(t, err)
}
