package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nberrors "github.com/mhcp0001/NescordBot-sub000/internal/errors"
)

func TestParseProvider(t *testing.T) {
	assert.Equal(t, ProviderOllama, ParseProvider("ollama"))
	assert.Equal(t, ProviderOllama, ParseProvider(" Ollama "))
	assert.Equal(t, ProviderStatic, ParseProvider("static"))
	assert.Equal(t, ProviderAuto, ParseProvider(""))
	assert.Equal(t, ProviderAuto, ParseProvider("something-else"))
}

func TestNewEmbedder_StaticIsCachedByDefault(t *testing.T) {
	e, err := NewEmbedder(context.Background(), Options{Provider: ProviderStatic})
	require.NoError(t, err)
	defer e.Close()

	// The chain is cache over the static provider.
	cached, ok := e.(*CachedEmbedder)
	require.True(t, ok)
	assert.IsType(t, &StaticEmbedder{}, cached.Inner())
	assert.Equal(t, StaticDimensions, e.Dimensions())
}

func TestNewEmbedder_NegativeCacheSizeDisablesCache(t *testing.T) {
	e, err := NewEmbedder(context.Background(), Options{
		Provider:  ProviderStatic,
		CacheSize: -1,
	})
	require.NoError(t, err)
	defer e.Close()

	assert.IsType(t, &StaticEmbedder{}, e)
}

func TestNewEmbedder_RateLimitAddsThrottle(t *testing.T) {
	e, err := NewEmbedder(context.Background(), Options{
		Provider:  ProviderStatic,
		RateLimit: 50,
		RateBurst: 5,
	})
	require.NoError(t, err)
	defer e.Close()

	// Cache wraps throttle wraps provider, so cache hits skip the
	// limiter entirely.
	cached, ok := e.(*CachedEmbedder)
	require.True(t, ok)
	throttled, ok := cached.Inner().(*ThrottledEmbedder)
	require.True(t, ok)
	assert.IsType(t, &StaticEmbedder{}, throttled.Inner())
}

func TestNewEmbedder_ExplicitOllamaFailsWithoutFallback(t *testing.T) {
	// Given: no server behind the endpoint
	_, err := NewEmbedder(context.Background(), Options{
		Provider: ProviderOllama,
		Endpoint: "http://127.0.0.1:1",
	})

	// Then: the error surfaces instead of silently degrading
	require.Error(t, err)
	assert.True(t, nberrors.IsUnavailable(err))
}

func TestNewEmbedder_AutoFallsBackToStatic(t *testing.T) {
	// Given: auto detection with an unreachable server
	e, err := NewEmbedder(context.Background(), Options{
		Provider: ProviderAuto,
		Endpoint: "http://127.0.0.1:1",
	})

	// Then: the static provider takes over
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, StaticModelName, e.ModelName())

	info := GetInfo(context.Background(), e)
	assert.Equal(t, ProviderStatic, info.Provider)
	assert.True(t, info.Available)
}

func TestNewEmbedder_AutoUsesOllamaWhenReachable(t *testing.T) {
	_, srv := newFakeOllama(t, 8, "nomic-embed-text")

	e, err := NewEmbedder(context.Background(), Options{
		Provider: ProviderAuto,
		Model:    "nomic-embed-text",
		Endpoint: srv.URL,
	})
	require.NoError(t, err)
	defer e.Close()

	info := GetInfo(context.Background(), e)
	assert.Equal(t, ProviderOllama, info.Provider)
	assert.Equal(t, "nomic-embed-text", info.Model)
	assert.Equal(t, 8, info.Dimensions)
}

func TestGetInfo_LooksThroughWrappers(t *testing.T) {
	inner := newCountingEmbedder("test-model")
	throttled := NewThrottledEmbedder(inner, 100, 1)
	cached, err := NewCachedEmbedder(throttled, 8)
	require.NoError(t, err)

	info := GetInfo(context.Background(), cached)

	// countingEmbedder is not an Ollama backend, so it reports static.
	assert.Equal(t, ProviderStatic, info.Provider)
	assert.Equal(t, "test-model", info.Model)
	assert.Equal(t, StaticDimensions, info.Dimensions)
}
