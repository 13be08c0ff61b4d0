package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mhcp0001/NescordBot-sub000/internal/daemon"
	"github.com/mhcp0001/NescordBot-sub000/internal/logging"
	"github.com/mhcp0001/NescordBot-sub000/internal/output"
	"github.com/mhcp0001/NescordBot-sub000/internal/preflight"
	"github.com/mhcp0001/NescordBot-sub000/internal/profiling"
)

// runOptions holds CLI flags for run.
type runOptions struct {
	logLevel   string
	profileDir string
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync daemon in the foreground",
		Long: `Run the background sync service.

The daemon takes the data-directory lock, drains the sync backlog,
then keeps sweeping pending notes and verifying store consistency on
the configured schedules. It watches the config file and applies
tunable settings without a restart.

It stays in the foreground; use a service manager (systemd, launchd)
to daemonize it. Logs go to the log file only.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (default from config)")
	cmd.Flags().StringVar(&opts.profileDir, "profile-dir", "", "Write CPU, heap, and goroutine profiles into this directory")

	return cmd
}

func runDaemon(ctx context.Context, cmd *cobra.Command, opts runOptions) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	level := opts.logLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	cleanup, err := logging.SetupDaemonMode(level, cfg.Logging.File)
	if err != nil {
		return fmt.Errorf("failed to setup daemon logging: %w", err)
	}
	defer cleanup()

	if opts.profileDir != "" {
		session, err := profiling.Start(opts.profileDir)
		if err != nil {
			return fmt.Errorf("failed to start profiling: %w", err)
		}
		defer func() {
			if err := session.Stop(); err != nil {
				slog.Warn("profiling session did not finish cleanly",
					slog.String("error", err.Error()))
			}
		}()
	}

	notes, err := openNotes(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = notes.Close() }()

	embedder, err := openEmbedder(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	index, err := openIndex(cfg, embedder)
	if err != nil {
		return err
	}
	defer func() { _ = index.Close() }()

	d, err := daemon.New(daemon.FromConfig(cfg, effectiveConfigPath()), cfg, daemon.Deps{
		Notes:    notes,
		Ledger:   notes,
		State:    notes,
		Index:    index,
		Embedder: embedder,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	out.Statusf("🔄", "Sync daemon running (pid %d, data %s)", os.Getpid(), cfg.Data.Dir)
	out.Status("", "Logs: "+logFileFor(cfg.Logging.File))
	if preflight.NeedsCheck(cfg.Data.Dir) {
		out.Status("", "Tip: run 'nescordsync doctor' to check this environment")
	}
	out.Status("", "Press Ctrl-C to stop")

	err = d.Run(sigCtx)
	switch {
	case errors.Is(err, daemon.ErrAlreadyRunning):
		return fmt.Errorf("another daemon already owns %s", cfg.Data.Dir)
	case errors.Is(err, context.Canceled):
		out.Success("Daemon stopped")
		return nil
	case err != nil:
		return fmt.Errorf("daemon exited: %w", err)
	}
	out.Success("Daemon stopped")
	return nil
}

func logFileFor(configured string) string {
	if configured != "" {
		return configured
	}
	return logging.DefaultLogPath()
}
