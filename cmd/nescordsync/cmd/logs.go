package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mhcp0001/NescordBot-sub000/internal/logging"
)

// logsOptions holds CLI flags for logs.
type logsOptions struct {
	file    string
	lines   int
	follow  bool
	level   string
	pattern string
}

func newLogsCmd() *cobra.Command {
	var opts logsOptions

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View sync logs",
		Long: `View the structured log file written by the daemon and by
commands run with --debug.

Examples:
  nescordsync logs
  nescordsync logs -f --level warn
  nescordsync logs --grep "sync_failed|circuit"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogs(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.file, "file", "", "Log file (default: the standard log location)")
	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Lines to show")
	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Keep printing new entries")
	cmd.Flags().StringVar(&opts.level, "level", "", "Minimum level: debug, info, warn, error")
	cmd.Flags().StringVar(&opts.pattern, "grep", "", "Only lines matching this regexp")

	return cmd
}

func runLogs(cmd *cobra.Command, opts logsOptions) error {
	path, err := logging.FindLogFile(opts.file)
	if err != nil {
		return fmt.Errorf("no log file found (the daemon and --debug runs create one): %w", err)
	}

	vcfg := logging.ViewerConfig{
		Level:   opts.level,
		NoColor: noColor,
	}
	if opts.pattern != "" {
		re, err := regexp.Compile(opts.pattern)
		if err != nil {
			return fmt.Errorf("invalid --grep pattern: %w", err)
		}
		vcfg.Pattern = re
	}

	w := cmd.OutOrStdout()
	viewer := logging.NewViewer(vcfg, w)

	entries, err := viewer.Tail(path, opts.lines)
	if err != nil {
		return err
	}
	viewer.Print(entries)

	if !opts.follow {
		return nil
	}

	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch := make(chan logging.LogEntry, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range ch {
			fmt.Fprintln(w, viewer.FormatEntry(entry))
		}
	}()

	err = viewer.Follow(sigCtx, path, ch)
	close(ch)
	<-done
	return err
}
