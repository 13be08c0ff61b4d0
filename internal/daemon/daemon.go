// Package daemon runs the background sync service. One daemon per data
// directory owns all writes: a single queue consumer applies note
// operations in arrival order, cron schedules feed periodic sweep and
// verification work through the same queue, and a config watcher
// hot-reloads tunable settings. Other commands observe the daemon
// through its PID file; there is no IPC surface.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"

	"github.com/mhcp0001/NescordBot-sub000/internal/config"
	"github.com/mhcp0001/NescordBot-sub000/internal/embed"
	"github.com/mhcp0001/NescordBot-sub000/internal/store"
	"github.com/mhcp0001/NescordBot-sub000/internal/syncer"
)

// ErrAlreadyRunning indicates another process holds the data-dir lock.
var ErrAlreadyRunning = errors.New("daemon already running")

// Deps are the storage and embedding components the daemon drives.
// In production all three store fields are the same SQLite store.
type Deps struct {
	Notes    store.NoteStore
	Ledger   store.LedgerStore
	State    store.StateStore
	Index    store.VectorIndex
	Embedder embed.Embedder
}

// Daemon owns the sync pipeline for one data directory.
type Daemon struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	lock    *flock.Flock
	pidfile *PIDFile
	queue   *syncer.Queue
	cron    *cron.Cron

	verifyEntry cron.EntryID
	sweepEntry  cron.EntryID

	// mu guards the reloadable state below.
	mu           sync.RWMutex
	appCfg       *config.Config
	syncCfg      syncer.Config
	synchronizer *syncer.Synchronizer

	stopCh   chan struct{}
	stopOnce sync.Once
	started  time.Time
}

// New creates a daemon. appCfg is the application configuration the
// daemon settings were derived from; it is the baseline for hot-reload
// comparisons. Scheduling expressions are validated here so a bad
// config fails at startup, not at first fire.
func New(cfg Config, appCfg *config.Config, deps Deps, logger *slog.Logger) (*Daemon, error) {
	if appCfg == nil {
		return nil, fmt.Errorf("application config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid daemon config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	syncCfg := SyncerConfig(appCfg)
	s, err := syncer.New(deps.Notes, deps.Ledger, deps.State, deps.Index, deps.Embedder, syncCfg, logger)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:          cfg,
		deps:         deps,
		logger:       logger,
		lock:         flock.New(cfg.LockPath),
		pidfile:      NewPIDFile(cfg.PIDPath),
		queue:        syncer.NewQueue(cfg.QueueSize, logger),
		appCfg:       appCfg,
		syncCfg:      syncCfg,
		synchronizer: s,
		stopCh:       make(chan struct{}),
	}

	d.cron = cron.New(cron.WithLogger(cronLogger{logger}))
	if d.verifyEntry, err = d.cron.AddFunc(cfg.VerifySchedule, d.enqueueVerify); err != nil {
		return nil, fmt.Errorf("invalid verify schedule %q: %w", cfg.VerifySchedule, err)
	}
	if d.sweepEntry, err = d.cron.AddFunc(cfg.SweepSchedule, d.enqueueSweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", cfg.SweepSchedule, err)
	}

	return d, nil
}

// Run blocks until ctx is cancelled or Stop is called. It acquires the
// data-dir lock, writes the PID file, recovers ledger entries stranded
// by a previous crash, drains the pending backlog, and then serves
// queued and scheduled operations. Run may be called once.
func (d *Daemon) Run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(d.cfg.LockPath), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	acquired, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire data-dir lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("%w: lock held at %s", ErrAlreadyRunning, d.cfg.LockPath)
	}
	defer func() { _ = d.lock.Unlock() }()

	if err := d.pidfile.Write(); err != nil {
		return err
	}
	defer func() { _ = d.pidfile.Remove() }()

	d.started = time.Now()
	d.logger.Info("daemon starting",
		slog.String("data_dir", d.cfg.DataDir),
		slog.Int("pid", os.Getpid()),
		slog.String("verify_schedule", d.cfg.VerifySchedule),
		slog.String("sweep_schedule", d.cfg.SweepSchedule))

	if n, err := d.sync().Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover ledger: %w", err)
	} else if n > 0 {
		d.logger.Info("recovered stranded ledger entries", slog.Int("count", n))
	}

	// The consumer runs on its own context so queued operations can
	// finish draining after ctx is cancelled. The shutdown grace timer
	// is the only thing that cancels it early.
	opCtx, opCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer opCancel()
	d.queue.Start(opCtx, d.handleOp)

	// Pick up anything that accumulated while the daemon was down.
	d.enqueueSweep()

	d.cron.Start()

	stopWatch := func() {}
	if d.cfg.ConfigPath != "" {
		stopWatch, err = d.watchConfig(ctx)
		if err != nil {
			d.logger.Warn("config hot-reload disabled",
				slog.String("path", d.cfg.ConfigPath),
				slog.String("error", err.Error()))
			stopWatch = func() {}
		}
	}

	select {
	case <-ctx.Done():
	case <-d.stopCh:
	}

	d.logger.Info("daemon stopping")
	stopWatch()

	cronDone := d.cron.Stop()
	<-cronDone.Done()

	grace := time.AfterFunc(d.cfg.ShutdownGracePeriod, opCancel)
	d.queue.Stop()
	grace.Stop()

	if err := d.saveIndex(); err != nil {
		d.logger.Error("failed to persist vector index on shutdown",
			slog.String("error", err.Error()))
	}

	d.logger.Info("daemon stopped",
		slog.Duration("uptime", time.Since(d.started).Round(time.Second)))

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// Stop asks a blocked Run to shut down. Safe to call multiple times.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

// Enqueue offers an operation to the daemon's queue. It reports whether
// the operation was accepted; the periodic sweep covers anything a full
// queue rejected.
func (d *Daemon) Enqueue(op syncer.Op) bool {
	return d.queue.Enqueue(op)
}

// Config returns a snapshot of the current daemon settings.
func (d *Daemon) Config() Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

func (d *Daemon) sync() *syncer.Synchronizer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.synchronizer
}

func (d *Daemon) autoRepair() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg.AutoRepair
}

func (d *Daemon) enqueueVerify() {
	d.Enqueue(syncer.Op{Kind: syncer.OpVerify})
}

func (d *Daemon) enqueueSweep() {
	d.Enqueue(syncer.Op{Kind: syncer.OpSyncAll})
}

// handleOp is the queue consumer. It runs on a single goroutine, which
// serializes every store write the daemon performs.
func (d *Daemon) handleOp(ctx context.Context, op syncer.Op) {
	switch op.Kind {
	case syncer.OpSyncNote:
		outcome := d.sync().SyncNote(ctx, op.NoteID)
		if outcome.Status == syncer.OutcomeFailed {
			d.logger.Warn("note sync failed",
				slog.String("note_id", op.NoteID),
				slog.String("reason", outcome.Reason))
		}
	case syncer.OpDeleteNote:
		if err := d.sync().OnNoteDeleted(ctx, op.NoteID); err != nil {
			d.logger.Warn("note deletion cleanup failed",
				slog.String("note_id", op.NoteID),
				slog.String("error", err.Error()))
		}
	case syncer.OpSyncAll:
		d.runSweep(ctx)
	case syncer.OpVerify:
		d.runVerify(ctx)
	default:
		d.logger.Warn("unknown queue operation", slog.String("kind", op.Kind.String()))
	}
}

// runSweep syncs all pending entries, then retries failed ones that are
// due for another attempt.
func (d *Daemon) runSweep(ctx context.Context) {
	start := time.Now()

	outcomes, err := d.sync().SyncAllPending(ctx)
	if err != nil {
		d.logger.Error("pending sweep failed", slog.String("error", err.Error()))
		return
	}

	retried, err := d.sync().RetryFailed(ctx)
	if err != nil {
		d.logger.Error("failed-entry retry failed", slog.String("error", err.Error()))
	}
	outcomes = append(outcomes, retried...)

	summary := syncer.Summarize(outcomes)
	if summary.Total() > 0 {
		d.logger.Info("sweep complete",
			slog.Int("synced", summary.Synced),
			slog.Int("already_synced", summary.AlreadySynced),
			slog.Int("failed", summary.Failed),
			slog.Int("unavailable", summary.Unavailable),
			slog.Duration("duration", time.Since(start).Round(time.Millisecond)))
	}

	if err := d.deps.State.SetState(ctx, store.StateKeyLastSweepAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		d.logger.Warn("failed to record sweep time", slog.String("error", err.Error()))
	}

	if summary.Synced > 0 {
		if err := d.saveIndex(); err != nil {
			d.logger.Error("failed to persist vector index", slog.String("error", err.Error()))
		}
	}
}

// runVerify runs a consistency check and, when enabled, repairs what it
// can. Orphaned vector documents are never removed automatically.
func (d *Daemon) runVerify(ctx context.Context) {
	report, err := d.sync().VerifyConsistency(ctx)
	if err != nil {
		d.logger.Error("consistency check failed", slog.String("error", err.Error()))
		return
	}

	if report.IsClean() {
		d.logger.Info("consistency check clean",
			slog.Int("checked_notes", report.CheckedNotes),
			slog.Int("checked_docs", report.CheckedDocs),
			slog.Duration("duration", report.Duration.Round(time.Millisecond)))
	} else {
		d.logger.Warn("consistency check found drift",
			slog.Int("checked_notes", report.CheckedNotes),
			slog.Int("checked_docs", report.CheckedDocs),
			slog.Int("inconsistencies", len(report.Inconsistencies)))
	}

	if err := d.deps.State.SetState(ctx, store.StateKeyLastVerifyAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		d.logger.Warn("failed to record verify time", slog.String("error", err.Error()))
	}

	if report.IsClean() || !d.autoRepair() {
		return
	}

	result, err := d.sync().Repair(ctx, report, syncer.RepairOptions{})
	if err != nil {
		d.logger.Error("auto-repair failed", slog.String("error", err.Error()))
		return
	}
	d.logger.Info("auto-repair complete",
		slog.Int("resynced", result.Resynced),
		slog.Int("failed", result.Failed),
		slog.Int("orphans_flagged", result.OrphansFlagged))

	if result.Resynced > 0 {
		if err := d.saveIndex(); err != nil {
			d.logger.Error("failed to persist vector index", slog.String("error", err.Error()))
		}
	}
}

func (d *Daemon) saveIndex() error {
	if err := d.deps.Index.Save(d.cfg.VectorPath); err != nil {
		return fmt.Errorf("failed to save vector index: %w", err)
	}
	return nil
}

// cronLogger adapts slog to the cron logger interface. Scheduling
// chatter goes to debug; job errors keep their severity.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	args := append([]any{slog.String("error", err.Error())}, keysAndValues...)
	l.logger.Error(msg, args...)
}
