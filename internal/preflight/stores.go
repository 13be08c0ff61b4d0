package preflight

import (
	"context"
	"fmt"
	"os"

	"github.com/mhcp0001/NescordBot-sub000/internal/config"
	"github.com/mhcp0001/NescordBot-sub000/internal/store"
)

// CheckDatabase opens the note database and runs a quick integrity
// check. A missing database is a warning, not a failure: the first
// note add creates it.
func (c *Checker) CheckDatabase(ctx context.Context, cfg *config.Config) CheckResult {
	result := CheckResult{
		Name:     "database",
		Required: true,
	}

	path := cfg.DatabasePath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		result.Status = StatusWarn
		result.Message = "not created yet (the first note add creates it)"
		result.Details = "Path: " + path
		return result
	}

	notes, err := store.NewSQLiteStore(path)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot open: %v", err)
		result.Details = "Path: " + path
		return result
	}
	defer func() { _ = notes.Close() }()

	var verdict string
	if err := notes.DB().QueryRowContext(ctx, "PRAGMA quick_check").Scan(&verdict); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("integrity check failed: %v", err)
		return result
	}
	if verdict != "ok" {
		result.Status = StatusFail
		result.Message = "integrity check failed: " + verdict
		return result
	}

	total, err := notes.CountNotes(ctx)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot count notes: %v", err)
		return result
	}
	byStatus, err := notes.CountByStatus(ctx)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot read ledger: %v", err)
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d notes (%d synced, %d pending, %d failed)",
		total,
		byStatus[store.StatusSynced],
		byStatus[store.StatusPending],
		byStatus[store.StatusFailed])
	result.Details = "Path: " + path
	return result
}

// CheckVectorIndex inspects the vector snapshot sidecar. A missing
// snapshot is normal before the first sync. When embedderDims is
// non-zero and the snapshot was built with a different width, every
// search from that snapshot would miss, so the check warns and points
// at a full re-sync.
func (c *Checker) CheckVectorIndex(cfg *config.Config, embedderDims int) CheckResult {
	result := CheckResult{
		Name:     "vector_index",
		Required: false,
	}

	path := cfg.VectorPath()
	dims, err := store.ReadHNSWIndexDimensions(path)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("unreadable snapshot metadata: %v", err)
		result.Details = "Delete " + path + " and its .meta sidecar, then run 'nescordsync sync --all'"
		return result
	}
	if dims == 0 {
		result.Status = StatusWarn
		result.Message = "no snapshot yet (the first sync creates it)"
		result.Details = "Path: " + path
		return result
	}

	if embedderDims != 0 && dims != embedderDims {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("snapshot width %d differs from embedder width %d", dims, embedderDims)
		result.Details = "Run 'nescordsync sync --all' to re-embed every note at the new width"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("snapshot present (%d dims)", dims)
	result.Details = "Path: " + path
	return result
}
