package daemon

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/mhcp0001/NescordBot-sub000/internal/config"
	"github.com/mhcp0001/NescordBot-sub000/internal/syncer"
	"github.com/mhcp0001/NescordBot-sub000/internal/watcher"
)

// watchConfig starts the config file watcher and the goroutine that
// consumes its events. The returned function stops both.
func (d *Daemon) watchConfig(ctx context.Context) (func(), error) {
	w, err := watcher.New(d.cfg.ConfigPath, watcher.DefaultOptions(), d.logger)
	if err != nil {
		return nil, err
	}

	go func() {
		if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Warn("config watcher stopped", slog.String("error", err.Error()))
		}
	}()
	go d.consumeConfigEvents(ctx, w)

	d.logger.Info("config hot-reload enabled",
		slog.String("path", d.cfg.ConfigPath),
		slog.String("mode", w.Mode()))

	return func() { _ = w.Stop() }, nil
}

func (d *Daemon) consumeConfigEvents(ctx context.Context, w *watcher.FileWatcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events():
			if !ok {
				return
			}
			d.handleConfigEvent(ev)
		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			d.logger.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}

// handleConfigEvent reloads the config file after a change. A removed
// or unparseable file keeps the current configuration; the daemon never
// reverts to defaults mid-flight.
func (d *Daemon) handleConfigEvent(ev watcher.Event) {
	if ev.Op == watcher.OpRemove {
		d.logger.Warn("config file removed, keeping current configuration",
			slog.String("path", ev.Path))
		return
	}

	next, err := config.Load(d.cfg.ConfigPath)
	if err != nil {
		d.logger.Error("config reload failed, keeping current configuration",
			slog.String("path", d.cfg.ConfigPath),
			slog.String("error", err.Error()))
		return
	}

	applied := d.applyConfig(next)
	if len(applied) == 0 {
		d.logger.Info("config file changed, no reloadable settings differ")
		return
	}
	d.logger.Info("configuration reloaded", slog.String("applied", strings.Join(applied, ", ")))
}

// applyConfig applies the reloadable subset of a new configuration and
// returns the names of the settings that changed. Sync tuning rebuilds
// the synchronizer, schedule changes reschedule their cron entries, and
// the auto-repair flag flips in place. Data paths, embedding settings,
// queue size, and logging need a restart and are only reported.
func (d *Daemon) applyConfig(next *config.Config) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var applied []string
	prev := d.appCfg

	if syncCfg := SyncerConfig(next); syncCfg != d.syncCfg {
		s, err := syncer.New(d.deps.Notes, d.deps.Ledger, d.deps.State, d.deps.Index, d.deps.Embedder, syncCfg, d.logger)
		if err != nil {
			d.logger.Error("sync tuning rejected, keeping previous",
				slog.String("error", err.Error()))
		} else {
			d.synchronizer = s
			d.syncCfg = syncCfg
			applied = append(applied, "sync tuning")
		}
	}

	if next.Verify.Schedule != d.cfg.VerifySchedule {
		// Add before remove so a bad expression never loses the old entry.
		if id, err := d.cron.AddFunc(next.Verify.Schedule, d.enqueueVerify); err != nil {
			d.logger.Error("invalid verify schedule, keeping previous",
				slog.String("schedule", next.Verify.Schedule),
				slog.String("error", err.Error()))
		} else {
			d.cron.Remove(d.verifyEntry)
			d.verifyEntry = id
			d.cfg.VerifySchedule = next.Verify.Schedule
			applied = append(applied, "verify schedule")
		}
	}

	if next.Verify.SweepSchedule != d.cfg.SweepSchedule {
		if id, err := d.cron.AddFunc(next.Verify.SweepSchedule, d.enqueueSweep); err != nil {
			d.logger.Error("invalid sweep schedule, keeping previous",
				slog.String("schedule", next.Verify.SweepSchedule),
				slog.String("error", err.Error()))
		} else {
			d.cron.Remove(d.sweepEntry)
			d.sweepEntry = id
			d.cfg.SweepSchedule = next.Verify.SweepSchedule
			applied = append(applied, "sweep schedule")
		}
	}

	if next.Verify.AutoRepair != d.cfg.AutoRepair {
		d.cfg.AutoRepair = next.Verify.AutoRepair
		applied = append(applied, "auto-repair")
	}

	if next.Search != prev.Search {
		d.logger.Info("search defaults changed, new searches pick them up")
	}
	if next.Data != prev.Data {
		d.logger.Warn("data paths changed, restart required to apply")
	}
	if next.Embeddings != prev.Embeddings {
		d.logger.Warn("embedding settings changed, restart required to apply")
	}
	if next.Sync.QueueSize != prev.Sync.QueueSize {
		d.logger.Warn("queue size changed, restart required to apply")
	}
	if next.Logging != prev.Logging {
		d.logger.Warn("logging settings changed, restart required to apply")
	}

	d.appCfg = next
	return applied
}
