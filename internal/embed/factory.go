package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ProviderType selects an embedding backend.
type ProviderType string

const (
	// ProviderAuto probes Ollama and falls back to static embeddings.
	ProviderAuto ProviderType = ""

	// ProviderOllama requires a reachable Ollama server.
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses hash-based embeddings with no external service.
	ProviderStatic ProviderType = "static"
)

// ParseProvider normalizes a configured provider name. Unknown names
// select auto-detection.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ollama":
		return ProviderOllama
	case "static":
		return ProviderStatic
	default:
		return ProviderAuto
	}
}

// Options configures NewEmbedder. The zero value selects automatic
// provider detection with library defaults.
type Options struct {
	// Provider picks a backend. ProviderAuto probes Ollama first.
	Provider ProviderType

	// Model is the embedding model for provider backends.
	Model string

	// Dimensions overrides provider dimension auto-detect when non-zero.
	Dimensions int

	// Endpoint is the provider base URL.
	Endpoint string

	// BatchSize is texts per provider request.
	BatchSize int

	// RequestTimeout bounds one provider request.
	RequestTimeout time.Duration

	// CacheSize is the embedding LRU capacity. Zero uses
	// DefaultCacheSize; negative disables caching.
	CacheSize int

	// RateLimit throttles provider calls in requests per second.
	// Zero disables throttling.
	RateLimit float64

	// RateBurst is the burst allowance when RateLimit is set.
	RateBurst int
}

// NewEmbedder builds the configured embedder and wraps it with rate
// limiting and caching. ProviderAuto probes Ollama and falls back to
// static embeddings when the server is unreachable; an explicitly
// configured provider never falls back silently.
func NewEmbedder(ctx context.Context, opts Options) (Embedder, error) {
	var embedder Embedder

	switch opts.Provider {
	case ProviderOllama:
		ollama, err := NewOllamaEmbedder(ctx, ollamaConfig(opts))
		if err != nil {
			return nil, err
		}
		embedder = ollama

	case ProviderStatic:
		embedder = NewStaticEmbedder()

	case ProviderAuto:
		ollama, err := NewOllamaEmbedder(ctx, ollamaConfig(opts))
		switch {
		case err == nil:
			embedder = ollama
		case ctx.Err() != nil:
			return nil, err
		default:
			slog.Warn("ollama unavailable, falling back to static embeddings",
				slog.String("error", err.Error()))
			embedder = NewStaticEmbedder()
		}

	default:
		return nil, fmt.Errorf("unknown embedding provider %q", opts.Provider)
	}

	// Throttle below the cache so cache hits never consume rate tokens.
	if opts.RateLimit > 0 {
		embedder = NewThrottledEmbedder(embedder, opts.RateLimit, opts.RateBurst)
	}
	if opts.CacheSize >= 0 {
		cached, err := NewCachedEmbedder(embedder, opts.CacheSize)
		if err != nil {
			return nil, err
		}
		embedder = cached
	}

	return embedder, nil
}

func ollamaConfig(opts Options) OllamaConfig {
	cfg := DefaultOllamaConfig()
	if opts.Endpoint != "" {
		cfg.Endpoint = opts.Endpoint
	}
	if opts.Model != "" {
		cfg.Model = opts.Model
	}
	if opts.Dimensions > 0 {
		cfg.Dimensions = opts.Dimensions
	}
	if opts.BatchSize > 0 {
		cfg.BatchSize = opts.BatchSize
	}
	if opts.RequestTimeout > 0 {
		cfg.Timeout = opts.RequestTimeout
	}
	return cfg
}

// EmbedderInfo describes a constructed embedder for status output.
type EmbedderInfo struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	Available  bool
}

// GetInfo reports the provider, model, and reachability of an embedder,
// looking through cache and throttle wrappers to find the backend.
func GetInfo(ctx context.Context, embedder Embedder) EmbedderInfo {
	info := EmbedderInfo{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
	}
	switch unwrap(embedder).(type) {
	case *OllamaEmbedder:
		info.Provider = ProviderOllama
	default:
		info.Provider = ProviderStatic
	}
	return info
}

// unwrap peels cache and throttle wrappers off an embedder.
func unwrap(embedder Embedder) Embedder {
	for {
		switch e := embedder.(type) {
		case *CachedEmbedder:
			embedder = e.Inner()
		case *ThrottledEmbedder:
			embedder = e.Inner()
		default:
			return embedder
		}
	}
}
