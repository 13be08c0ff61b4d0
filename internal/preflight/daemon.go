package preflight

import (
	"fmt"

	"github.com/mhcp0001/NescordBot-sub000/internal/config"
	"github.com/mhcp0001/NescordBot-sub000/internal/daemon"
)

// CheckDaemon reports whether a sync daemon owns the data directory.
// A running daemon is not a problem, but mutating commands defer to it,
// so the doctor surfaces it. A PID file left behind by a dead daemon
// gets a warning.
func (c *Checker) CheckDaemon(cfg *config.Config) CheckResult {
	result := CheckResult{
		Name:     "daemon",
		Required: false,
	}

	pidFile := daemon.NewPIDFile(daemon.PIDPath(cfg))
	pid, err := pidFile.Read()
	if err != nil {
		result.Status = StatusPass
		result.Message = "not running"
		return result
	}

	if pidFile.IsRunning() {
		result.Status = StatusPass
		result.Message = fmt.Sprintf("running (pid %d)", pid)
		result.Details = "Sync and verify commands defer to the daemon while it holds the data lock"
		return result
	}

	result.Status = StatusWarn
	result.Message = fmt.Sprintf("stale PID file (pid %d is not running)", pid)
	result.Details = "Remove " + pidFile.Path() + " if the daemon did not shut down cleanly"
	return result
}
