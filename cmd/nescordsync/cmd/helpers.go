package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/mhcp0001/NescordBot-sub000/internal/config"
	"github.com/mhcp0001/NescordBot-sub000/internal/daemon"
	"github.com/mhcp0001/NescordBot-sub000/internal/embed"
	"github.com/mhcp0001/NescordBot-sub000/internal/store"
	"github.com/mhcp0001/NescordBot-sub000/internal/syncer"
)

// loadConfig resolves the effective configuration, honoring --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// effectiveConfigPath returns the config file the daemon should watch
// for hot reloads: the --config flag when given, otherwise the user
// config file when one exists.
func effectiveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if config.UserConfigExists() {
		return config.GetUserConfigPath()
	}
	return ""
}

// openNotes opens the relational store under the configured data dir.
func openNotes(cfg *config.Config) (*store.SQLiteStore, error) {
	notes, err := store.NewSQLiteStore(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open note store: %w", err)
	}
	return notes, nil
}

// openEmbedder builds the embedding client from config.
func openEmbedder(ctx context.Context, cfg *config.Config) (embed.Embedder, error) {
	embedder, err := embed.NewEmbedder(ctx, embed.Options{
		Provider:       embed.ParseProvider(cfg.Embeddings.Provider),
		Model:          cfg.Embeddings.Model,
		Dimensions:     cfg.Embeddings.Dimensions,
		Endpoint:       cfg.Embeddings.Endpoint,
		BatchSize:      cfg.Embeddings.BatchSize,
		RequestTimeout: cfg.EmbedRequestTimeout(),
		CacheSize:      cfg.Embeddings.CacheSize,
		RateLimit:      cfg.Embeddings.RateLimit,
		RateBurst:      cfg.Embeddings.RateBurst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return embedder, nil
}

// openIndex creates a vector index sized for the embedder and loads
// the on-disk snapshot when one exists. A snapshot built with a
// different embedding width is left on disk and the index starts
// empty; the model-change sweep re-embeds everything and the next
// save overwrites the stale snapshot.
func openIndex(cfg *config.Config, embedder embed.Embedder) (*store.HNSWIndex, error) {
	dims := embedder.Dimensions()
	index, err := store.NewHNSWIndex(store.DefaultVectorIndexConfig(dims))
	if err != nil {
		return nil, fmt.Errorf("failed to create vector index: %w", err)
	}

	vectorPath := cfg.VectorPath()
	onDisk, err := store.ReadHNSWIndexDimensions(vectorPath)
	if err != nil {
		slog.Warn("unreadable vector snapshot, starting empty",
			slog.String("path", vectorPath),
			slog.String("error", err.Error()))
		return index, nil
	}
	if onDisk == 0 {
		return index, nil
	}
	if onDisk != dims {
		slog.Warn("vector snapshot width differs from embedder, starting empty",
			slog.Int("snapshot_dims", onDisk),
			slog.Int("embedder_dims", dims))
		return index, nil
	}
	if err := index.Load(vectorPath); err != nil {
		slog.Warn("failed to load vector snapshot, starting empty",
			slog.String("path", vectorPath),
			slog.String("error", err.Error()))
	}
	return index, nil
}

// openIndexSnapshot loads the vector index purely from its on-disk
// snapshot, for commands that read or prune the index without
// embedding anything. Returns loaded=false when no snapshot exists;
// the returned index is then an empty placeholder.
func openIndexSnapshot(cfg *config.Config) (*store.HNSWIndex, bool, error) {
	vectorPath := cfg.VectorPath()
	dims, err := store.ReadHNSWIndexDimensions(vectorPath)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read vector snapshot metadata: %w", err)
	}
	if dims == 0 {
		index, err := store.NewHNSWIndex(store.DefaultVectorIndexConfig(embed.StaticDimensions))
		if err != nil {
			return nil, false, fmt.Errorf("failed to create vector index: %w", err)
		}
		return index, false, nil
	}
	index, err := store.NewHNSWIndex(store.DefaultVectorIndexConfig(dims))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create vector index: %w", err)
	}
	if err := index.Load(vectorPath); err != nil {
		_ = index.Close()
		return nil, false, fmt.Errorf("failed to load vector snapshot: %w", err)
	}
	return index, true, nil
}

// removeVectorDoc drops a note's vector document from the snapshot.
// The caller holds the data lock. Without a snapshot there is nothing
// to remove.
func removeVectorDoc(ctx context.Context, cfg *config.Config, noteID string) error {
	index, loaded, err := openIndexSnapshot(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = index.Close() }()
	if !loaded {
		return nil
	}

	docID := store.VectorDocIDForNote(noteID)
	if !index.Contains(docID) {
		return nil
	}
	if err := index.Delete(ctx, []string{docID}); err != nil {
		return fmt.Errorf("failed to remove vector document: %w", err)
	}
	return saveIndex(index, cfg)
}

// newSynchronizer wires a Synchronizer exactly the way the daemon
// does, so one-shot commands and the daemon sync identically.
func newSynchronizer(cfg *config.Config, notes *store.SQLiteStore, index *store.HNSWIndex, embedder embed.Embedder) (*syncer.Synchronizer, error) {
	s, err := syncer.New(notes, notes, notes, index, embedder, daemon.SyncerConfig(cfg), slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to create synchronizer: %w", err)
	}
	return s, nil
}

// acquireDataLock takes the data-dir lock that serializes vector index
// writers. The daemon holds it for its whole lifetime, so commands
// that mutate the index fail fast with a pointer at the daemon.
func acquireDataLock(cfg *config.Config) (func(), error) {
	lockPath := cfg.LockPath()
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire data lock: %w", err)
	}
	if !ok {
		if daemon.NewPIDFile(daemon.PIDPath(cfg)).IsRunning() {
			return nil, fmt.Errorf("the sync daemon owns %s; it sweeps pending notes on its own schedule (stop it to run this command manually)", cfg.Data.Dir)
		}
		return nil, fmt.Errorf("another nescordsync process holds the lock at %s", lockPath)
	}
	return func() { _ = lock.Unlock() }, nil
}

// saveIndex persists the vector index snapshot.
func saveIndex(index *store.HNSWIndex, cfg *config.Config) error {
	if err := index.Save(cfg.VectorPath()); err != nil {
		return fmt.Errorf("failed to save vector index: %w", err)
	}
	return nil
}
