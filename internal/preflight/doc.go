// Package preflight validates that the environment can run the sync
// engine before anything touches the stores.
//
// The checks cover:
//   - Data directory existence and write permissions
//   - Free disk space under the data directory (minimum 100MB)
//   - File descriptor limits (minimum 1024)
//   - Note database integrity
//   - Vector snapshot readability and embedding width agreement
//   - Embedding provider reachability
//   - Daemon liveness and stale PID files
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, cfg)
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
