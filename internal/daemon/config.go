package daemon

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/mhcp0001/NescordBot-sub000/internal/config"
	"github.com/mhcp0001/NescordBot-sub000/internal/syncer"
)

// DefaultShutdownGracePeriod bounds how long shutdown waits for queued
// operations to drain before cancelling them.
const DefaultShutdownGracePeriod = 10 * time.Second

// Config holds daemon runtime settings. Most fields derive from the
// application configuration via FromConfig; tests construct them directly.
type Config struct {
	// DataDir is the data directory the daemon guards.
	DataDir string

	// LockPath is the flock file that enforces a single daemon per
	// data directory.
	LockPath string

	// PIDPath records the daemon's process ID for other commands.
	PIDPath string

	// VectorPath is where the vector index snapshot is persisted.
	VectorPath string

	// ConfigPath, when set, is watched for changes and hot-reloaded.
	ConfigPath string

	// VerifySchedule is the cron expression for consistency verification.
	VerifySchedule string

	// SweepSchedule is the cron expression for pending-sync sweeps.
	SweepSchedule string

	// AutoRepair re-syncs recoverable inconsistencies after a scheduled
	// verification finds drift. Orphan removal always stays manual.
	AutoRepair bool

	// QueueSize is the buffered capacity of the operation queue.
	QueueSize int

	// ShutdownGracePeriod bounds the drain of queued operations on stop.
	ShutdownGracePeriod time.Duration
}

// FromConfig derives daemon settings from the application configuration.
// configPath enables config hot-reload when non-empty; pass the path the
// configuration was actually loaded from.
func FromConfig(cfg *config.Config, configPath string) Config {
	return Config{
		DataDir:             cfg.Data.Dir,
		LockPath:            cfg.LockPath(),
		PIDPath:             PIDPath(cfg),
		VectorPath:          cfg.VectorPath(),
		ConfigPath:          configPath,
		VerifySchedule:      cfg.Verify.Schedule,
		SweepSchedule:       cfg.Verify.SweepSchedule,
		AutoRepair:          cfg.Verify.AutoRepair,
		QueueSize:           cfg.Sync.QueueSize,
		ShutdownGracePeriod: DefaultShutdownGracePeriod,
	}
}

// DefaultConfig returns daemon settings derived from application defaults.
func DefaultConfig() Config {
	return FromConfig(config.NewConfig(), "")
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.LockPath == "" {
		return fmt.Errorf("lock path cannot be empty")
	}
	if c.PIDPath == "" {
		return fmt.Errorf("PID path cannot be empty")
	}
	if c.VectorPath == "" {
		return fmt.Errorf("vector path cannot be empty")
	}
	if c.VerifySchedule == "" {
		return fmt.Errorf("verify schedule cannot be empty")
	}
	if c.SweepSchedule == "" {
		return fmt.Errorf("sweep schedule cannot be empty")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("shutdown grace period must be positive")
	}
	return nil
}

// PIDPath returns the daemon PID file path for the given configuration.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Data.Dir, "daemon.pid")
}

// SyncerConfig maps application sync settings onto synchronizer tuning.
// The daemon and the one-shot commands share this mapping so both run
// the engine with identical behavior.
func SyncerConfig(cfg *config.Config) syncer.Config {
	return syncer.Config{
		Concurrency:         cfg.Sync.Concurrency,
		MaxRetries:          cfg.Sync.MaxRetries,
		OpTimeout:           cfg.OpTimeout(),
		RetryBaseDelay:      cfg.RetryBaseDelay(),
		RetryMaxDelay:       cfg.RetryMaxDelay(),
		BreakerMaxFailures:  cfg.Sync.BreakerMaxFailures,
		BreakerResetTimeout: cfg.BreakerResetTimeout(),
	}
}
