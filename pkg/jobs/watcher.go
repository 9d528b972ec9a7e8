package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/psantana5/whisperq/pkg/logging"
	"github.com/psantana5/whisperq/pkg/models"
	"github.com/psantana5/whisperq/pkg/queue"
	"github.com/psantana5/whisperq/pkg/retry"
	"github.com/psantana5/whisperq/pkg/store"
)

var (
	// ErrWatcherFault is returned when a local failure forced the record to error
	ErrWatcherFault = errors.New("watcher fault")
	// ErrWatchCancelled is returned when the watcher stopped before a terminal state
	ErrWatchCancelled = errors.New("watch cancelled")
)

// WatcherConfig tunes the poll loop
type WatcherConfig struct {
	PollInterval time.Duration
	// MaxPollErrors is how many consecutive failed polls are tolerated
	// before the job is marked as error. 0 means unlimited.
	MaxPollErrors int
	Retry         retry.Config
}

// DefaultWatcherConfig returns a 15s fixed cadence
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		PollInterval:  15 * time.Second,
		MaxPollErrors: 120,
		Retry:         retry.DefaultConfig(),
	}
}

// Watcher drives one job record from starting to done or error by polling
// the remote queue at a fixed interval. It is the record's only writer.
type Watcher struct {
	jobID  string
	store  store.Store
	queue  RemoteQueue
	cfg    WatcherConfig
	logger *logging.Logger
	now    func() time.Time

	pollFailures int
}

// NewWatcher creates a watcher for jobID
func NewWatcher(jobID string, st store.Store, q RemoteQueue, cfg WatcherConfig, logger *logging.Logger) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultWatcherConfig().PollInterval
	}
	if cfg.MaxPollErrors < 0 {
		cfg.MaxPollErrors = 0
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Watcher{
		jobID:  jobID,
		store:  st,
		queue:  q,
		cfg:    cfg,
		logger: logger.WithField("job_id", jobID),
		now:    time.Now,
	}
}

// outcome is the local interpretation of one poll
type outcome struct {
	status    models.JobStatus
	locations map[string]string
	message   string
}

// Run polls until the record is terminal. It returns nil once a terminal
// state is persisted, ErrWatchCancelled when ctx is done or a cancel was
// requested (the record is left as is), and an ErrWatcherFault-wrapped
// error when a local failure terminated the record.
func (w *Watcher) Run(ctx context.Context) error {
	rec, err := w.load(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ErrWatchCancelled
		}
		return err
	}
	if rec.IsTerminal() {
		return nil
	}
	if rec.RemoteJobID == "" {
		return w.fault(ctx, rec, errors.New("record has no remote job id"))
	}

	w.logger.Info("Watching job", map[string]interface{}{
		"remote_job_id": rec.RemoteJobID,
		"interval":      w.cfg.PollInterval.String(),
	})

	for {
		if w.stopRequested(ctx) {
			w.logger.Info("Watch cancelled", map[string]interface{}{"status": string(rec.Status)})
			return ErrWatchCancelled
		}

		poll, perr := w.queue.Status(ctx, rec.RemoteJobID)
		if ctx.Err() != nil {
			return ErrWatchCancelled
		}

		if err := w.appendHistory(ctx, historyEntry(w.now(), poll, perr)); err != nil {
			if ctx.Err() != nil {
				return ErrWatchCancelled
			}
			return w.fault(ctx, rec, fmt.Errorf("failed to append history: %w", err))
		}

		if out, ok := w.evaluate(poll, perr); ok && changes(rec, out) {
			next, err := rec.Transition(out.status, out.locations, out.message, w.now())
			if err != nil {
				// done without usable locations
				next, err = rec.Transition(models.JobStatusError, nil, err.Error(), w.now())
				if err != nil {
					return w.fault(ctx, rec, err)
				}
			}
			if err := w.persist(ctx, next); err != nil {
				// an interrupted write leaves the record at its last status
				if ctx.Err() != nil {
					return ErrWatchCancelled
				}
				return w.fault(ctx, rec, fmt.Errorf("failed to persist record: %w", err))
			}
			w.logger.Info("Job status changed", map[string]interface{}{
				"from": string(rec.Status),
				"to":   string(next.Status),
			})
			rec = next
		}

		if rec.IsTerminal() {
			w.logger.Info("Job finished", map[string]interface{}{
				"status": string(rec.Status),
				"error":  rec.Error,
			})
			return nil
		}

		select {
		case <-ctx.Done():
			return ErrWatchCancelled
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// changes reports whether applying out would modify rec
func changes(rec models.JobRecord, out outcome) bool {
	return out.status != rec.Status || models.IsTerminalState(out.status)
}

// evaluate maps one poll onto a local outcome. ok is false when the poll
// does not warrant a transition.
func (w *Watcher) evaluate(poll *queue.Poll, perr error) (outcome, bool) {
	if perr != nil {
		if errors.Is(perr, queue.ErrJobNotFound) {
			return outcome{status: models.JobStatusError, message: queue.ErrJobNotFound.Error()}, true
		}
		var apiErr *queue.APIError
		if errors.As(perr, &apiErr) && !retry.IsRetryable(apiErr) {
			return outcome{status: models.JobStatusError, message: "remote queue rejected status request: " + apiErr.Error()}, true
		}
		w.pollFailures++
		w.logger.Warn("Poll failed", map[string]interface{}{
			"error":    perr.Error(),
			"failures": w.pollFailures,
		})
		if w.cfg.MaxPollErrors > 0 && w.pollFailures > w.cfg.MaxPollErrors {
			return outcome{
				status:  models.JobStatusError,
				message: fmt.Sprintf("remote queue unreachable after %d consecutive failed polls: %v", w.pollFailures, perr),
			}, true
		}
		return outcome{}, false
	}

	w.pollFailures = 0
	return mapRemoteStatus(poll.Response)
}

// mapRemoteStatus translates a remote status response into a local
// outcome. Unrecognized status tokens map to no transition.
func mapRemoteStatus(resp *queue.StatusResponse) (outcome, bool) {
	if resp == nil {
		return outcome{}, false
	}
	switch resp.Status {
	case queue.StatusInQueue, queue.StatusInProgress:
		return outcome{status: models.JobStatusRunning}, true
	case queue.StatusCompleted:
		return decodeOutput(resp.Output), true
	case queue.StatusFailed:
		msg := "remote job failed"
		if text := resp.ErrorText(); text != "" {
			msg += ": " + text
		}
		return outcome{status: models.JobStatusError, message: msg}, true
	case queue.StatusCancelled:
		return outcome{status: models.JobStatusError, message: "remote job cancelled"}, true
	case queue.StatusTimedOut:
		return outcome{status: models.JobStatusError, message: "remote job timed out"}, true
	default:
		return outcome{}, false
	}
}

// decodeOutput reads the worker result carried by a completed job. The
// output may arrive as an object or as a JSON-encoded string.
func decodeOutput(raw json.RawMessage) outcome {
	if len(raw) == 0 || string(raw) == "null" {
		return outcome{status: models.JobStatusError, message: "remote job completed without output"}
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		raw = json.RawMessage(encoded)
	}

	var result models.TranscriptionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return outcome{status: models.JobStatusError, message: "undecodable worker output: " + err.Error()}
	}
	switch result.Status {
	case models.ResultStatusDone:
		return outcome{status: models.JobStatusDone, locations: result.Locations()}
	case models.ResultStatusError:
		msg := result.Error
		if msg == "" {
			msg = "worker reported an error"
		}
		return outcome{status: models.JobStatusError, message: msg}
	default:
		return outcome{status: models.JobStatusError, message: fmt.Sprintf("unrecognized worker output status %q", result.Status)}
	}
}

// historyEntry records one poll exactly as observed
func historyEntry(now time.Time, poll *queue.Poll, perr error) models.HistoryEntry {
	entry := models.HistoryEntry{Timestamp: now.UTC()}
	if poll != nil {
		entry.HTTPStatus = poll.HTTPStatus
		entry.Response = models.RawResponse(poll.Body)
		if poll.Response != nil {
			entry.RemoteStatus = poll.Response.Status
		}
	}
	if perr != nil {
		entry.Error = perr.Error()
	}
	return entry
}

func (w *Watcher) stopRequested(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	cancelled, err := w.store.CancelRequested(ctx, w.jobID)
	if err != nil {
		w.logger.Warn("Failed to read cancel flag", map[string]interface{}{"error": err.Error()})
		return false
	}
	return cancelled
}

func (w *Watcher) load(ctx context.Context) (models.JobRecord, error) {
	var rec models.JobRecord
	err := retry.Do(ctx, w.cfg.Retry, func() error {
		var err error
		rec, err = w.store.Get(ctx, w.jobID)
		if errors.Is(err, store.ErrJobNotFound) || errors.Is(err, store.ErrInvalidJobID) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return rec, fmt.Errorf("failed to load job %s: %w", w.jobID, err)
	}
	return rec, nil
}

func (w *Watcher) appendHistory(ctx context.Context, entry models.HistoryEntry) error {
	return retry.Do(ctx, w.cfg.Retry, func() error {
		return w.store.AppendHistory(ctx, w.jobID, entry)
	})
}

func (w *Watcher) persist(ctx context.Context, rec models.JobRecord) error {
	return retry.Do(ctx, w.cfg.Retry, func() error {
		err := w.store.Update(ctx, rec)
		if errors.Is(err, store.ErrJobNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
}

// fault terminates the record as error after a local failure. The write is
// attempted even if ctx is already done.
func (w *Watcher) fault(ctx context.Context, rec models.JobRecord, cause error) error {
	w.logger.Error("Watcher fault", map[string]interface{}{"error": cause.Error()})
	failed, err := rec.Transition(models.JobStatusError, nil, "watcher fault: "+cause.Error(), w.now())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWatcherFault, cause)
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := w.persist(writeCtx, failed); err != nil {
		return fmt.Errorf("%w: %v (record not updated: %v)", ErrWatcherFault, cause, err)
	}
	return fmt.Errorf("%w: %v", ErrWatcherFault, cause)
}
