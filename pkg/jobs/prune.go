package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/psantana5/whisperq/pkg/logging"
	"github.com/psantana5/whisperq/pkg/store"
)

// PruneConfig defines which records are removed
type PruneConfig struct {
	// OlderThan is the minimum age since the record's last update
	OlderThan time.Duration
	// DryRun reports what would be deleted without deleting
	DryRun bool
}

// PruneStats summarizes one prune run
type PruneStats struct {
	Scanned  int
	Deleted  []string
	Skipped  int
	Duration time.Duration
}

// Prune deletes terminal records (with their history) whose last update
// is older than cfg.OlderThan. Non-terminal records are never touched.
func Prune(ctx context.Context, st store.Store, cfg PruneConfig, now time.Time, logger *logging.Logger) (PruneStats, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	start := time.Now()
	stats := PruneStats{Deleted: []string{}}
	cutoff := now.Add(-cfg.OlderThan)

	records, err := st.List(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list jobs: %w", err)
	}
	for _, rec := range records {
		stats.Scanned++
		if !rec.IsTerminal() || !rec.UpdatedAt.Before(cutoff) {
			stats.Skipped++
			continue
		}
		if !cfg.DryRun {
			if err := st.Delete(ctx, rec.JobID); err != nil {
				return stats, fmt.Errorf("failed to delete job %s: %w", rec.JobID, err)
			}
		}
		stats.Deleted = append(stats.Deleted, rec.JobID)
	}

	stats.Duration = time.Since(start)
	logger.Info("Prune complete", map[string]interface{}{
		"scanned": stats.Scanned,
		"deleted": len(stats.Deleted),
		"dry_run": cfg.DryRun,
	})
	return stats, nil
}
