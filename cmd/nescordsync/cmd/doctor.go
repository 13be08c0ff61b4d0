package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mhcp0001/NescordBot-sub000/internal/preflight"
)

// doctorOptions holds CLI flags for doctor.
type doctorOptions struct {
	verbose bool
	jsonOut bool
	offline bool
}

func newDoctorCmd() *cobra.Command {
	var opts doctorOptions

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment and diagnose sync issues",
		Long: `Run environment diagnostics before trusting the stores.

Checks:
  - Data directory write permissions
  - Free disk space (100MB minimum)
  - File descriptor limits (1024 minimum)
  - Note database integrity and ledger counts
  - Vector snapshot readability and embedding width agreement
  - Embedding provider reachability
  - Daemon liveness and stale PID files

Store and embedder findings are warnings, not failures: a missing
database or snapshot just means nothing has synced yet, and an
unreachable provider is retried with backoff during sync.

A clean run records a marker in the data directory; the daemon
suggests running doctor when the marker is missing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Show detail lines under each check")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print results as JSON")
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "Skip checks that reach the embedding provider")

	return cmd
}

func runDoctor(ctx context.Context, cmd *cobra.Command, opts doctorOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	checker := preflight.New(
		preflight.WithOffline(opts.offline),
		preflight.WithVerbose(opts.verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
	)

	results := checker.RunAll(ctx, cfg)

	if opts.jsonOut {
		if err := printDoctorJSON(cmd, checker, results); err != nil {
			return err
		}
	} else {
		checker.PrintResults(results)

		if age := preflight.MarkerAge(cfg.Data.Dir); age > 0 {
			cmd.Printf("\nLast clean check: %s ago\n", age.Round(time.Second))
		}
	}

	if checker.HasCriticalFailures(results) {
		return fmt.Errorf("environment check failed")
	}

	// Only a fully clean run refreshes the marker.
	if checker.SummaryStatus(results) == "ready" {
		if err := preflight.MarkPassed(cfg.Data.Dir); err != nil {
			return fmt.Errorf("failed to record check marker: %w", err)
		}
	}

	return nil
}

// doctorCheck is one check result in JSON output.
type doctorCheck struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Required bool   `json:"required"`
	Details  string `json:"details,omitempty"`
}

// doctorReport is the JSON payload for doctor --json.
type doctorReport struct {
	Status   string        `json:"status"`
	Checks   []doctorCheck `json:"checks"`
	Warnings []string      `json:"warnings,omitempty"`
	Errors   []string      `json:"errors,omitempty"`
}

func printDoctorJSON(cmd *cobra.Command, checker *preflight.Checker, results []preflight.CheckResult) error {
	report := doctorReport{
		Status: checker.SummaryStatus(results),
		Checks: make([]doctorCheck, len(results)),
	}

	for i, r := range results {
		report.Checks[i] = doctorCheck{
			Name:     r.Name,
			Status:   strings.ToLower(r.Status.String()),
			Message:  r.Message,
			Required: r.Required,
			Details:  r.Details,
		}

		if r.IsCritical() {
			report.Errors = append(report.Errors, r.Name+": "+r.Message)
		} else if r.Status == preflight.StatusWarn {
			report.Warnings = append(report.Warnings, r.Name+": "+r.Message)
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
