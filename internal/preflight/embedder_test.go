package preflight

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecker_CheckEmbedder_Static(t *testing.T) {
	cfg := testConfig(t)

	result := New(WithOutput(io.Discard)).CheckEmbedder(context.Background(), cfg)

	assert.Equal(t, StatusPass, result.Status)
	assert.Contains(t, result.Message, "static")
	assert.Contains(t, result.Message, "ready")
}

func TestChecker_CheckEmbedder_ReportsWidth(t *testing.T) {
	// Given: the static embedder with its fixed width
	cfg := testConfig(t)

	// When: the internal check runs
	result, dims := New(WithOutput(io.Discard)).checkEmbedder(context.Background(), cfg)

	// Then: the width is reported for the vector index comparison
	assert.Equal(t, StatusPass, result.Status)
	assert.Greater(t, dims, 0)
}

func TestChecker_CheckEmbedder_OfflineSkipsProviderProbe(t *testing.T) {
	// Given: an Ollama config and a checker in offline mode
	cfg := testConfig(t)
	cfg.Embeddings.Provider = "ollama"

	// When: the check runs offline
	result := New(WithOutput(io.Discard), WithOffline(true)).CheckEmbedder(context.Background(), cfg)

	// Then: the probe is skipped instead of timing out
	assert.Equal(t, StatusWarn, result.Status)
	assert.Contains(t, result.Message, "probe skipped")
}

func TestChecker_CheckEmbedder_OfflineStillProbesStatic(t *testing.T) {
	// The static embedder needs no network, so offline mode runs it.
	cfg := testConfig(t)

	result := New(WithOutput(io.Discard), WithOffline(true)).CheckEmbedder(context.Background(), cfg)

	assert.Equal(t, StatusPass, result.Status)
}

func TestChecker_CheckEmbedder_UnreachableProvider(t *testing.T) {
	// Given: an explicit Ollama endpoint nothing listens on
	cfg := testConfig(t)
	cfg.Embeddings.Provider = "ollama"
	cfg.Embeddings.Endpoint = "http://127.0.0.1:1"

	// When: the check probes it
	result := New(WithOutput(io.Discard)).CheckEmbedder(context.Background(), cfg)

	// Then: the failure stays non-critical; sync falls back to retries
	assert.Equal(t, StatusFail, result.Status)
	assert.False(t, result.IsCritical())
	assert.Contains(t, result.Message, "cannot create embedder")
}
