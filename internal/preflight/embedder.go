package preflight

import (
	"context"
	"fmt"
	"time"

	"github.com/mhcp0001/NescordBot-sub000/internal/config"
	"github.com/mhcp0001/NescordBot-sub000/internal/embed"
)

// embedProbeTimeout bounds the provider reachability probe so a hung
// endpoint cannot stall the whole check run.
const embedProbeTimeout = 5 * time.Second

// CheckEmbedder builds the configured embedder and probes its backend.
func (c *Checker) CheckEmbedder(ctx context.Context, cfg *config.Config) CheckResult {
	result, _ := c.checkEmbedder(ctx, cfg)
	return result
}

// checkEmbedder additionally reports the embedding width so the vector
// index check can compare against it. Width 0 means unknown.
func (c *Checker) checkEmbedder(ctx context.Context, cfg *config.Config) (CheckResult, int) {
	result := CheckResult{
		Name:     "embedder",
		Required: false,
	}

	provider := embed.ParseProvider(cfg.Embeddings.Provider)
	if c.offline && provider != embed.ProviderStatic {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("probe skipped (offline mode, provider %s)", provider)
		return result, 0
	}

	probeCtx, cancel := context.WithTimeout(ctx, embedProbeTimeout)
	defer cancel()

	embedder, err := embed.NewEmbedder(probeCtx, embed.Options{
		Provider:       provider,
		Model:          cfg.Embeddings.Model,
		Dimensions:     cfg.Embeddings.Dimensions,
		Endpoint:       cfg.Embeddings.Endpoint,
		BatchSize:      cfg.Embeddings.BatchSize,
		RequestTimeout: cfg.EmbedRequestTimeout(),
		CacheSize:      -1,
	})
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create embedder: %v", err)
		result.Details = "Provider: " + cfg.Embeddings.Provider
		return result, 0
	}
	defer func() { _ = embedder.Close() }()

	info := embed.GetInfo(probeCtx, embedder)
	if !info.Available {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("provider %s unreachable (sync attempts will retry with backoff)", info.Provider)
		result.Details = "Endpoint: " + cfg.Embeddings.Endpoint
		return result, info.Dimensions
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s ready (%s, %d dims)", info.Provider, info.Model, info.Dimensions)
	return result, info.Dimensions
}
