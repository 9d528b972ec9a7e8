package jobs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/psantana5/whisperq/pkg/logging"
	"github.com/psantana5/whisperq/pkg/models"
	"github.com/psantana5/whisperq/pkg/store"
)

// Query is the read-only view over the status store
type Query struct {
	store        store.Store
	pollInterval time.Duration
	logger       *logging.Logger
}

// NewQuery creates a query client. pollInterval paces Follow when the
// store offers no change notifications.
func NewQuery(st store.Store, pollInterval time.Duration, logger *logging.Logger) *Query {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Query{store: st, pollInterval: pollInterval, logger: logger}
}

// UnknownRecord is returned for job IDs with no record on this host
func UnknownRecord(jobID string) models.JobRecord {
	return models.JobRecord{JobID: jobID, Status: models.JobStatusUnknown}
}

// GetStatus returns the job record, or a record with status "unknown"
// when none exists. Only store failures are errors.
func (q *Query) GetStatus(ctx context.Context, jobID string) (models.JobRecord, error) {
	rec, err := q.store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) || errors.Is(err, store.ErrInvalidJobID) {
			return UnknownRecord(jobID), nil
		}
		return models.JobRecord{}, fmt.Errorf("failed to read job %s: %w", jobID, err)
	}
	return rec, nil
}

// GetHistory returns the newest maxLines history entries in chronological
// order; maxLines <= 0 returns everything. A job with no history yields
// an empty slice.
func (q *Query) GetHistory(ctx context.Context, jobID string, maxLines int) ([]models.HistoryEntry, error) {
	entries, err := q.store.History(ctx, jobID, maxLines)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) || errors.Is(err, store.ErrInvalidJobID) {
			return []models.HistoryEntry{}, nil
		}
		return nil, fmt.Errorf("failed to read history for %s: %w", jobID, err)
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	return entries, nil
}

// List returns all records, newest first
func (q *Query) List(ctx context.Context) ([]models.JobRecord, error) {
	records, err := q.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].JobID > records[j].JobID
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// Follow calls fn with the current record and again on every change,
// returning once the record is terminal or ctx is done. File-backed
// stores are watched with fsnotify; others are polled.
func (q *Query) Follow(ctx context.Context, jobID string, fn func(models.JobRecord)) error {
	var (
		last    models.JobRecord
		emitted bool
	)
	check := func() (bool, error) {
		rec, err := q.GetStatus(ctx, jobID)
		if err != nil {
			return false, err
		}
		if !emitted || rec.Status != last.Status || !rec.UpdatedAt.Equal(last.UpdatedAt) {
			fn(rec)
			last, emitted = rec, true
		}
		return rec.IsTerminal(), nil
	}

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if fs, ok := q.store.(*store.FileStore); ok {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			q.logger.Warn("File watcher unavailable, polling instead", map[string]interface{}{"error": err.Error()})
		} else {
			defer watcher.Close()
			if err := watcher.Add(fs.Dir()); err != nil {
				q.logger.Warn("Failed to watch jobs directory, polling instead", map[string]interface{}{"error": err.Error()})
			} else {
				events, watchErrs = watcher.Events, watcher.Errors
			}
		}
	}

	// first read happens after the watch is in place so no change slips in between
	if done, err := check(); err != nil || done {
		return err
	}

	recordName := jobID + ".json"
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(ev.Name) != recordName || !ev.Has(fsnotify.Create|fsnotify.Write|fsnotify.Rename) {
				continue
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			q.logger.Warn("File watcher error", map[string]interface{}{"error": err.Error()})
			continue
		case <-ticker.C:
		}
		if done, err := check(); err != nil || done {
			return err
		}
	}
}
