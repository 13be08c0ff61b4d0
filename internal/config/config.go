// Package config loads and validates configuration for the sync and search
// subsystem. Configuration is applied in order of increasing precedence:
// hardcoded defaults, the user config file, then NESCORDSYNC_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete subsystem configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Data       DataConfig       `yaml:"data" json:"data"`
	Sync       SyncConfig       `yaml:"sync" json:"sync"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Verify     VerifyConfig     `yaml:"verify" json:"verify"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// DataConfig configures where the stores live on disk.
type DataConfig struct {
	// Dir is the data directory. Defaults to ~/.nescordsync.
	Dir string `yaml:"dir" json:"dir"`
	// DatabaseFile is the SQLite database filename inside Dir.
	DatabaseFile string `yaml:"database_file" json:"database_file"`
	// VectorFile is the vector index snapshot filename inside Dir.
	VectorFile string `yaml:"vector_file" json:"vector_file"`
}

// SyncConfig configures the synchronizer.
type SyncConfig struct {
	// Concurrency bounds the per-note fan-out of batch sync.
	Concurrency int `yaml:"concurrency" json:"concurrency"`
	// MaxRetries is the retry ceiling for failed entries.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// OpTimeout is the per-note sync timeout (e.g., "30s").
	OpTimeout string `yaml:"op_timeout" json:"op_timeout"`
	// RetryBaseDelay is the base of the exponential backoff (e.g., "1s").
	RetryBaseDelay string `yaml:"retry_base_delay" json:"retry_base_delay"`
	// RetryMaxDelay caps the exponential backoff (e.g., "30s").
	RetryMaxDelay string `yaml:"retry_max_delay" json:"retry_max_delay"`
	// BreakerMaxFailures trips the provider circuit breaker.
	BreakerMaxFailures int `yaml:"breaker_max_failures" json:"breaker_max_failures"`
	// BreakerResetTimeout is how long the breaker stays open (e.g., "30s").
	BreakerResetTimeout string `yaml:"breaker_reset_timeout" json:"breaker_reset_timeout"`
	// QueueSize is the buffered capacity of the batch operation queue.
	QueueSize int `yaml:"queue_size" json:"queue_size"`
}

// SearchConfig configures hybrid search parameters.
// Alpha and the RRF constant are configurable via:
//  1. User config (~/.config/nescordsync/config.yaml)
//  2. Env vars (NESCORDSYNC_ALPHA, NESCORDSYNC_RRF_CONSTANT) - highest priority
type SearchConfig struct {
	// Alpha is the default vector weight for hybrid search (0.0-1.0).
	// Keyword contributions are weighted by 1-alpha.
	Alpha float64 `yaml:"alpha" json:"alpha"`

	// RRFConstant is the RRF fusion smoothing parameter (k).
	// Default: 60 (industry standard used by Azure AI Search, OpenSearch).
	// Higher values reduce the impact of rank differences.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// MaxResults is the default result limit when a query specifies none.
	MaxResults int `yaml:"max_results" json:"max_results"`

	// QueryTimeout bounds a single search request (e.g., "10s").
	QueryTimeout string `yaml:"query_timeout" json:"query_timeout"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedding backend: "ollama", "static", or empty
	// for auto-detection (ollama when reachable, static otherwise).
	Provider string `yaml:"provider" json:"provider"`
	// Model is the embedding model name. Part of the content hash, so
	// changing it marks every note stale.
	Model string `yaml:"model" json:"model"`
	// Dimensions is the embedding width. 0 auto-detects from the provider.
	Dimensions int `yaml:"dimensions" json:"dimensions"`
	// Endpoint is the provider base URL. Empty uses http://localhost:11434.
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// BatchSize is texts per provider batch request.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// RequestTimeout is the per-request timeout (e.g., "30s").
	RequestTimeout string `yaml:"request_timeout" json:"request_timeout"`
	// CacheSize is the LRU embedding cache capacity in entries.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
	// RateLimit throttles provider calls in requests/second. 0 disables.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`
	// RateBurst is the burst allowance when RateLimit is set.
	RateBurst int `yaml:"rate_burst" json:"rate_burst"`
}

// VerifyConfig configures scheduled consistency verification in the daemon.
type VerifyConfig struct {
	// Schedule is a cron expression for consistency verification.
	// Default: daily at 03:00.
	Schedule string `yaml:"schedule" json:"schedule"`
	// SweepSchedule is a cron expression for pending-sync sweeps.
	SweepSchedule string `yaml:"sweep_schedule" json:"sweep_schedule"`
	// AutoRepair re-syncs recoverable inconsistencies after verification.
	AutoRepair bool `yaml:"auto_repair" json:"auto_repair"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" json:"level"`
	// File is the log file path. Empty uses ~/.nescordsync/logs/sync.log.
	File string `yaml:"file" json:"file"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Data: DataConfig{
			Dir:          DefaultDataDir(),
			DatabaseFile: "notes.db",
			VectorFile:   "vectors.hnsw",
		},
		Sync: SyncConfig{
			Concurrency:         4,
			MaxRetries:          3,
			OpTimeout:           "30s",
			RetryBaseDelay:      "1s",
			RetryMaxDelay:       "30s",
			BreakerMaxFailures:  5,
			BreakerResetTimeout: "30s",
			QueueSize:           64,
		},
		Search: SearchConfig{
			Alpha: 0.7,
			// RRF constant k=60 is industry standard (Azure AI Search, OpenSearch)
			RRFConstant:  60,
			MaxResults:   20,
			QueryTimeout: "10s",
		},
		Embeddings: EmbeddingsConfig{
			Provider:       "", // Empty triggers auto-detection: Ollama → Static
			Model:          "nomic-embed-text",
			Dimensions:     0, // Auto-detect from embedder
			Endpoint:       "",
			BatchSize:      32,
			RequestTimeout: "30s",
			CacheSize:      1024,
			RateLimit:      0,
			RateBurst:      1,
		},
		Verify: VerifyConfig{
			Schedule:      "0 3 * * *",
			SweepSchedule: "@every 10m",
			AutoRepair:    false,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// DefaultDataDir returns the default data directory (~/.nescordsync).
// Falls back to temp directory if home directory is unavailable.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".nescordsync")
	}
	return filepath.Join(home, ".nescordsync")
}

// GetUserConfigPath returns the path to the user configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/nescordsync/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/nescordsync/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "nescordsync", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback - should rarely happen
		return filepath.Join(os.TempDir(), ".config", "nescordsync", "config.yaml")
	}
	return filepath.Join(home, ".config", "nescordsync", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// Load loads configuration with the standard precedence chain.
// If path is empty, the user config path is tried; a missing file is fine.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	// Step 1: Load config file (explicit path must exist; default may not)
	if path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	} else if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, err
		}
	}

	// Step 2: Apply environment variable overrides (highest precedence)
	cfg.applyEnvOverrides()

	// Step 3: Validate the final configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Use a temporary struct for parsing to detect type errors
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Merge parsed values with defaults (only non-zero values)
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Data
	if other.Data.Dir != "" {
		c.Data.Dir = other.Data.Dir
	}
	if other.Data.DatabaseFile != "" {
		c.Data.DatabaseFile = other.Data.DatabaseFile
	}
	if other.Data.VectorFile != "" {
		c.Data.VectorFile = other.Data.VectorFile
	}

	// Sync
	if other.Sync.Concurrency != 0 {
		c.Sync.Concurrency = other.Sync.Concurrency
	}
	if other.Sync.MaxRetries != 0 {
		c.Sync.MaxRetries = other.Sync.MaxRetries
	}
	if other.Sync.OpTimeout != "" {
		c.Sync.OpTimeout = other.Sync.OpTimeout
	}
	if other.Sync.RetryBaseDelay != "" {
		c.Sync.RetryBaseDelay = other.Sync.RetryBaseDelay
	}
	if other.Sync.RetryMaxDelay != "" {
		c.Sync.RetryMaxDelay = other.Sync.RetryMaxDelay
	}
	if other.Sync.BreakerMaxFailures != 0 {
		c.Sync.BreakerMaxFailures = other.Sync.BreakerMaxFailures
	}
	if other.Sync.BreakerResetTimeout != "" {
		c.Sync.BreakerResetTimeout = other.Sync.BreakerResetTimeout
	}
	if other.Sync.QueueSize != 0 {
		c.Sync.QueueSize = other.Sync.QueueSize
	}

	// Search
	// Note: 0 is not a practical value for alpha defaults, so we only merge
	// non-zero values; explicit zero is available via the env override.
	if other.Search.Alpha != 0 {
		c.Search.Alpha = other.Search.Alpha
	}
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}
	if other.Search.QueryTimeout != "" {
		c.Search.QueryTimeout = other.Search.QueryTimeout
	}

	// Embeddings
	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.Endpoint != "" {
		c.Embeddings.Endpoint = other.Embeddings.Endpoint
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.RequestTimeout != "" {
		c.Embeddings.RequestTimeout = other.Embeddings.RequestTimeout
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}
	if other.Embeddings.RateLimit != 0 {
		c.Embeddings.RateLimit = other.Embeddings.RateLimit
	}
	if other.Embeddings.RateBurst != 0 {
		c.Embeddings.RateBurst = other.Embeddings.RateBurst
	}

	// Verify
	if other.Verify.Schedule != "" {
		c.Verify.Schedule = other.Verify.Schedule
	}
	if other.Verify.SweepSchedule != "" {
		c.Verify.SweepSchedule = other.Verify.SweepSchedule
	}
	if other.Verify.AutoRepair {
		c.Verify.AutoRepair = other.Verify.AutoRepair
	}

	// Logging
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.File != "" {
		c.Logging.File = other.Logging.File
	}
}

// applyEnvOverrides applies NESCORDSYNC_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("NESCORDSYNC_DATA_DIR"); v != "" {
		c.Data.Dir = v
	}

	// Search tuning (explicit zero values are supported via env vars)
	if v := os.Getenv("NESCORDSYNC_ALPHA"); v != "" {
		if a, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && a >= 0 && a <= 1 {
			c.Search.Alpha = a
		}
	}
	if v := os.Getenv("NESCORDSYNC_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	if v := os.Getenv("NESCORDSYNC_MAX_RESULTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.MaxResults = n
		}
	}

	// Sync tuning
	if v := os.Getenv("NESCORDSYNC_SYNC_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Sync.Concurrency = n
		}
	}
	if v := os.Getenv("NESCORDSYNC_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Sync.MaxRetries = n
		}
	}

	// Embeddings
	if v := os.Getenv("NESCORDSYNC_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("NESCORDSYNC_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("NESCORDSYNC_EMBEDDINGS_ENDPOINT"); v != "" {
		c.Embeddings.Endpoint = v
	}

	if v := os.Getenv("NESCORDSYNC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// DatabasePath returns the absolute SQLite database path.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Data.Dir, c.Data.DatabaseFile)
}

// VectorPath returns the absolute vector index snapshot path.
func (c *Config) VectorPath() string {
	return filepath.Join(c.Data.Dir, c.Data.VectorFile)
}

// LockPath returns the data-dir lock file path used by the daemon.
func (c *Config) LockPath() string {
	return filepath.Join(c.Data.Dir, ".nescordsync.lock")
}

// OpTimeout returns the parsed per-note sync timeout.
func (c *Config) OpTimeout() time.Duration {
	return parseDurationOr(c.Sync.OpTimeout, 30*time.Second)
}

// QueryTimeout returns the parsed search query timeout.
func (c *Config) QueryTimeout() time.Duration {
	return parseDurationOr(c.Search.QueryTimeout, 10*time.Second)
}

// RetryBaseDelay returns the parsed backoff base delay.
func (c *Config) RetryBaseDelay() time.Duration {
	return parseDurationOr(c.Sync.RetryBaseDelay, time.Second)
}

// RetryMaxDelay returns the parsed backoff cap.
func (c *Config) RetryMaxDelay() time.Duration {
	return parseDurationOr(c.Sync.RetryMaxDelay, 30*time.Second)
}

// BreakerResetTimeout returns the parsed breaker reset timeout.
func (c *Config) BreakerResetTimeout() time.Duration {
	return parseDurationOr(c.Sync.BreakerResetTimeout, 30*time.Second)
}

// EmbedRequestTimeout returns the parsed provider request timeout.
func (c *Config) EmbedRequestTimeout() time.Duration {
	return parseDurationOr(c.Embeddings.RequestTimeout, 30*time.Second)
}

// parseDurationOr parses a duration string, returning fallback when empty
// or malformed. Validate catches malformed values up front; this keeps the
// getters total.
func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	// Validate search parameters
	if c.Search.Alpha < 0 || c.Search.Alpha > 1 {
		return fmt.Errorf("search.alpha must be between 0 and 1, got %f", c.Search.Alpha)
	}
	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("search.rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be positive, got %d", c.Search.MaxResults)
	}

	// Validate sync parameters
	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("sync.concurrency must be at least 1, got %d", c.Sync.Concurrency)
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries must be non-negative, got %d", c.Sync.MaxRetries)
	}
	if c.Sync.QueueSize < 1 {
		return fmt.Errorf("sync.queue_size must be at least 1, got %d", c.Sync.QueueSize)
	}

	// Validate durations
	for name, val := range map[string]string{
		"sync.op_timeout":            c.Sync.OpTimeout,
		"sync.retry_base_delay":      c.Sync.RetryBaseDelay,
		"sync.retry_max_delay":       c.Sync.RetryMaxDelay,
		"sync.breaker_reset_timeout": c.Sync.BreakerResetTimeout,
		"search.query_timeout":       c.Search.QueryTimeout,
		"embeddings.request_timeout": c.Embeddings.RequestTimeout,
	} {
		if val == "" {
			continue
		}
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("%s is not a valid duration: %q", name, val)
		}
	}

	// Validate provider (empty string allowed for auto-detection)
	if c.Embeddings.Provider != "" {
		validProviders := map[string]bool{"ollama": true, "static": true}
		if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
			return fmt.Errorf("embeddings.provider must be 'ollama', 'static', or empty (auto-detect), got %s", c.Embeddings.Provider)
		}
	}

	if c.Embeddings.RateLimit < 0 {
		return fmt.Errorf("embeddings.rate_limit must be non-negative, got %f", c.Embeddings.RateLimit)
	}

	// Validate log level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
