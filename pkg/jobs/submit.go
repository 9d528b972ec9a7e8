package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/psantana5/whisperq/pkg/logging"
	"github.com/psantana5/whisperq/pkg/models"
	"github.com/psantana5/whisperq/pkg/queue"
	"github.com/psantana5/whisperq/pkg/retry"
	"github.com/psantana5/whisperq/pkg/store"
)

// ErrEmptySource is returned when Submit is called without a source
var ErrEmptySource = errors.New("source is required")

// RemoteQueue is the subset of the queue client used by jobs
type RemoteQueue interface {
	Submit(ctx context.Context, input models.TranscriptionRequest) (*queue.SubmitResponse, error)
	Status(ctx context.Context, remoteID string) (*queue.Poll, error)
}

// Spawner starts the watcher for a job without waiting for it
type Spawner interface {
	Spawn(jobID string) error
}

// SubmitOptions carries per-job request settings. Empty fields fall back
// to the submitter defaults, and from there to the worker's environment.
type SubmitOptions struct {
	JobID            string
	Language         string
	StorageBucket    string
	StorageKeyPrefix string
	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
}

func (o SubmitOptions) withDefaults(d SubmitOptions) SubmitOptions {
	pick := func(v, def string) string {
		if v != "" {
			return v
		}
		return def
	}
	return SubmitOptions{
		JobID:            o.JobID,
		Language:         pick(o.Language, d.Language),
		StorageBucket:    pick(o.StorageBucket, d.StorageBucket),
		StorageKeyPrefix: pick(o.StorageKeyPrefix, d.StorageKeyPrefix),
		StorageEndpoint:  pick(o.StorageEndpoint, d.StorageEndpoint),
		StorageAccessKey: pick(o.StorageAccessKey, d.StorageAccessKey),
		StorageSecretKey: pick(o.StorageSecretKey, d.StorageSecretKey),
	}
}

// Submitter sends jobs to the remote queue and records them locally
type Submitter struct {
	store    store.Store
	queue    RemoteQueue
	spawner  Spawner
	defaults SubmitOptions
	retry    retry.Config
	logger   *logging.Logger
	now      func() time.Time
}

// NewSubmitter creates a submitter. defaults fill options left empty per call.
func NewSubmitter(st store.Store, q RemoteQueue, spawner Spawner, defaults SubmitOptions, logger *logging.Logger) *Submitter {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Submitter{
		store:    st,
		queue:    q,
		spawner:  spawner,
		defaults: defaults,
		retry:    retry.DefaultConfig(),
		logger:   logger,
		now:      time.Now,
	}
}

// Submit enqueues source on the remote queue, writes the initial record
// and starts its watcher. A remote rejection is not returned as an error:
// the returned record is already terminal with the failure recorded. The
// error return is reserved for local failures (bad input, id collision,
// status store unavailable).
func (s *Submitter) Submit(ctx context.Context, source string, opts SubmitOptions) (models.JobRecord, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return models.JobRecord{}, ErrEmptySource
	}
	opts = opts.withDefaults(s.defaults)

	jobID := opts.JobID
	if jobID == "" {
		jobID = NewJobID(s.now())
	}
	if err := store.ValidateJobID(jobID); err != nil {
		return models.JobRecord{}, err
	}
	if _, err := s.store.Get(ctx, jobID); err == nil {
		return models.JobRecord{}, fmt.Errorf("job %s: %w", jobID, store.ErrJobExists)
	} else if !errors.Is(err, store.ErrJobNotFound) {
		return models.JobRecord{}, fmt.Errorf("failed to check job %s: %w", jobID, err)
	}

	logger := s.logger.WithField("job_id", jobID)
	req := models.TranscriptionRequest{
		Source:           source,
		JobID:            jobID,
		Language:         opts.Language,
		StorageBucket:    opts.StorageBucket,
		StorageKeyPrefix: opts.StorageKeyPrefix,
		StorageEndpoint:  opts.StorageEndpoint,
		StorageAccessKey: opts.StorageAccessKey,
		StorageSecretKey: opts.StorageSecretKey,
	}

	resp, err := s.queue.Submit(ctx, req)
	if err != nil {
		logger.Error("Submission rejected", map[string]interface{}{"error": err.Error()})
		rec := models.NewFailedRecord(jobID, source, "submission failed: "+err.Error(), s.now())
		if cerr := s.create(ctx, rec); cerr != nil {
			return models.JobRecord{}, cerr
		}
		return rec, nil
	}

	rec := models.NewStartingRecord(jobID, resp.ID, source, s.now())
	if err := s.create(ctx, rec); err != nil {
		return models.JobRecord{}, fmt.Errorf("remote job %s was accepted but not recorded: %w", resp.ID, err)
	}
	if err := s.store.AppendHistory(ctx, jobID, models.HistoryEntry{
		Timestamp:    s.now().UTC(),
		HTTPStatus:   resp.HTTPStatus,
		RemoteStatus: resp.Status,
		Response:     models.RawResponse(resp.Body),
	}); err != nil {
		logger.Warn("Failed to log submission response", map[string]interface{}{"error": err.Error()})
	}
	logger.Info("Job submitted", map[string]interface{}{
		"remote_job_id": resp.ID,
		"remote_status": resp.Status,
	})

	if err := s.spawner.Spawn(jobID); err != nil {
		logger.Error("Failed to start watcher", map[string]interface{}{"error": err.Error()})
		failed, terr := rec.Transition(models.JobStatusError, nil, "failed to start watcher: "+err.Error(), s.now())
		if terr != nil {
			return rec, terr
		}
		if uerr := s.update(ctx, failed); uerr != nil {
			return rec, uerr
		}
		return failed, nil
	}
	return rec, nil
}

func (s *Submitter) create(ctx context.Context, rec models.JobRecord) error {
	return retry.Do(ctx, s.retry, func() error {
		err := s.store.Create(ctx, rec)
		if errors.Is(err, store.ErrJobExists) || errors.Is(err, store.ErrInvalidJobID) {
			return retry.Permanent(err)
		}
		return err
	})
}

func (s *Submitter) update(ctx context.Context, rec models.JobRecord) error {
	return retry.Do(ctx, s.retry, func() error {
		err := s.store.Update(ctx, rec)
		if errors.Is(err, store.ErrJobNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
}
