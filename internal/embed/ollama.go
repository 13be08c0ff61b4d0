package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	nberrors "github.com/mhcp0001/NescordBot-sub000/internal/errors"
)

const (
	// DefaultOllamaEndpoint is the default Ollama API address.
	DefaultOllamaEndpoint = "http://localhost:11434"

	// DefaultOllamaModel is the default embedding model.
	DefaultOllamaModel = "nomic-embed-text"

	// ollamaConnectTimeout bounds health and availability probes.
	ollamaConnectTimeout = 5 * time.Second

	// ollamaPoolSize is the HTTP connection pool size.
	ollamaPoolSize = 4
)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	// Endpoint is the Ollama API base URL (default http://localhost:11434).
	Endpoint string

	// Model is the embedding model name.
	Model string

	// Dimensions overrides auto-detection when non-zero.
	Dimensions int

	// BatchSize is the number of texts per /api/embed request.
	BatchSize int

	// Timeout bounds a single embedding request.
	Timeout time.Duration

	// SkipHealthCheck skips the startup reachability probe.
	SkipHealthCheck bool
}

// DefaultOllamaConfig returns the default Ollama configuration.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Endpoint:  DefaultOllamaEndpoint,
		Model:     DefaultOllamaModel,
		BatchSize: DefaultBatchSize,
		Timeout:   DefaultTimeout,
	}
}

// ollamaEmbedRequest is the /api/embed request body. Input is a string
// for single texts and []string for batches.
type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

// ollamaEmbedResponse is the /api/embed response body.
type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// ollamaTagsResponse is the /api/tags response body.
type ollamaTagsResponse struct {
	Models []ollamaModelInfo `json:"models"`
}

type ollamaModelInfo struct {
	Name string `json:"name"`
}

// OllamaEmbedder talks to a local or remote Ollama server over its
// /api/embed endpoint. Failures are reported through the error taxonomy
// so callers can distinguish retryable provider trouble (unreachable,
// rate limited, timed out) from hard failures.
type OllamaEmbedder struct {
	config     OllamaConfig
	client     *http.Client
	model      string
	dimensions int
	retry      nberrors.RetryConfig
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder connects to an Ollama server, verifies the model is
// installed, and auto-detects embedding dimensions unless configured.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultOllamaEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	transport := &http.Transport{
		MaxIdleConns:        ollamaPoolSize,
		MaxIdleConnsPerHost: ollamaPoolSize,
		IdleConnTimeout:     90 * time.Second,
	}

	e := &OllamaEmbedder{
		config: cfg,
		// No client-level timeout. Each request carries its own context
		// deadline, so a long batch is not killed by a global limit.
		client:     &http.Client{Transport: transport},
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		retry: nberrors.RetryConfig{
			MaxRetries:   3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
	}

	if !cfg.SkipHealthCheck {
		if err := e.checkHealth(ctx); err != nil {
			return nil, err
		}
	}

	if e.dimensions == 0 {
		dims, err := e.detectDimensions(ctx)
		if err != nil {
			return nil, err
		}
		e.dimensions = dims
	}

	return e, nil
}

// Embed returns the embedding for a single text. Empty text embeds to a
// zero vector without touching the server, so callers need no special
// case for blank notes.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.dimensions), nil
	}
	vecs, err := e.embedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns embeddings for texts in input order, splitting the
// work into requests of at most BatchSize texts.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))

	// Blank texts are filled locally; only real text goes to the API.
	var pending []string
	var pendingIdx []int
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			out[i] = make([]float32, e.dimensions)
			continue
		}
		pending = append(pending, text)
		pendingIdx = append(pendingIdx, i)
	}

	for start := 0; start < len(pending); start += e.config.BatchSize {
		end := min(start+e.config.BatchSize, len(pending))
		vecs, err := e.embedWithRetry(ctx, pending[start:end])
		if err != nil {
			return nil, err
		}
		for i, vec := range vecs {
			out[pendingIdx[start+i]] = vec
		}
	}
	return out, nil
}

// Dimensions returns the embedding width.
func (e *OllamaEmbedder) Dimensions() int { return e.dimensions }

// ModelName returns the configured model name.
func (e *OllamaEmbedder) ModelName() string { return e.model }

// Available reports whether the Ollama server answers /api/tags.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, ollamaConnectTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(pctx, http.MethodGet, e.config.Endpoint+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Close releases pooled connections.
func (e *OllamaEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

// checkHealth verifies the server is reachable and the model installed.
func (e *OllamaEmbedder) checkHealth(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, ollamaConnectTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(hctx, http.MethodGet, e.config.Endpoint+"/api/tags", nil)
	if err != nil {
		return nberrors.InternalError("build ollama health request", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nberrors.ProviderUnavailable(
			fmt.Sprintf("ollama is not reachable at %s", e.config.Endpoint), err).
			WithSuggestion("start the server with 'ollama serve' or set embeddings.endpoint")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nberrors.ProviderUnavailable(
			fmt.Sprintf("ollama health check returned %s", resp.Status), nil)
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nberrors.ProviderUnavailable("ollama returned a malformed tags response", err)
	}
	if !hasModel(tags.Models, e.model) {
		return nberrors.ProviderUnavailable(
			fmt.Sprintf("embedding model %q is not installed", e.model), nil).
			WithSuggestion(fmt.Sprintf("run 'ollama pull %s'", e.model))
	}
	return nil
}

// detectDimensions embeds a probe text to learn the model's width.
func (e *OllamaEmbedder) detectDimensions(ctx context.Context) (int, error) {
	vecs, err := e.embedWithRetry(ctx, []string{"dimension probe"})
	if err != nil {
		return 0, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return 0, nberrors.ProviderUnavailable(
			fmt.Sprintf("model %q returned an empty embedding", e.model), nil)
	}
	return len(vecs[0]), nil
}

func (e *OllamaEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	return nberrors.RetryWithResult(ctx, e.retry, func() ([][]float32, error) {
		return e.embedRequest(ctx, texts)
	})
}

// embedRequest performs one /api/embed call and converts the response.
func (e *OllamaEmbedder) embedRequest(ctx context.Context, texts []string) ([][]float32, error) {
	rctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	// Single-text requests use a plain string input, matching what the
	// API documents for the non-batch case.
	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: input})
	if err != nil {
		return nil, nberrors.InternalError("encode embed request", err)
	}

	req, err := http.NewRequestWithContext(rctx, http.MethodPost, e.config.Endpoint+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, nberrors.InternalError("build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, e.classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, e.classifyStatus(resp)
	}

	var decoded ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, nberrors.ProviderUnavailable("ollama returned a malformed embed response", err)
	}
	if len(decoded.Embeddings) != len(texts) {
		return nil, nberrors.ProviderUnavailable(
			fmt.Sprintf("ollama returned %d embeddings for %d texts", len(decoded.Embeddings), len(texts)), nil)
	}

	vecs := make([][]float32, len(decoded.Embeddings))
	for i, raw := range decoded.Embeddings {
		if e.dimensions > 0 && len(raw) != e.dimensions {
			return nil, nberrors.ProviderUnavailable(
				fmt.Sprintf("model %q returned %d dimensions, expected %d", e.model, len(raw), e.dimensions), nil)
		}
		vec := make([]float32, len(raw))
		for j, v := range raw {
			vec[j] = float32(v)
		}
		vecs[i] = vec
	}
	return vecs, nil
}

// classifyTransportError maps HTTP client failures onto the error
// taxonomy. Parent context cancellation passes through untouched so
// retry loops stop immediately.
func (e *OllamaEmbedder) classifyTransportError(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return nberrors.Timeout(
			fmt.Sprintf("ollama embed request exceeded %s", e.config.Timeout), err)
	default:
		return nberrors.ProviderUnavailable(
			fmt.Sprintf("ollama request to %s failed", e.config.Endpoint), err)
	}
}

// classifyStatus maps non-200 responses onto the error taxonomy.
func (e *OllamaEmbedder) classifyStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	detail := strings.TrimSpace(string(body))
	if detail == "" {
		detail = resp.Status
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nberrors.RateLimited("ollama rejected the request with 429", nil)
	case resp.StatusCode == http.StatusNotFound:
		return nberrors.ProviderUnavailable(
			fmt.Sprintf("model %q rejected by ollama: %s", e.model, detail), nil).
			WithSuggestion(fmt.Sprintf("run 'ollama pull %s'", e.model))
	case resp.StatusCode >= 500:
		return nberrors.ProviderUnavailable(
			fmt.Sprintf("ollama server error: %s", detail), nil)
	default:
		// Remaining 4xx responses mean our input was rejected, which a
		// retry cannot fix.
		return nberrors.ValidationError(
			fmt.Sprintf("ollama rejected embed request: %s", detail), nil)
	}
}

// hasModel matches the configured model against installed tags. Ollama
// lists untagged pulls as "<name>:latest".
func hasModel(models []ollamaModelInfo, name string) bool {
	for _, m := range models {
		if m.Name == name || strings.TrimSuffix(m.Name, ":latest") == name {
			return true
		}
	}
	return false
}
