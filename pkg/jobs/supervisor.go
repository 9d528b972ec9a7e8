package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/psantana5/whisperq/pkg/logging"
	"github.com/psantana5/whisperq/pkg/store"
)

// ErrAlreadyWatching is returned by Spawn when the job already has a watcher
var ErrAlreadyWatching = errors.New("job is already being watched")

// SupervisorStats counts watcher outcomes
type SupervisorStats struct {
	Started   int64
	Finished  int64
	Cancelled int64
	Faulted   int64
}

// Supervisor runs watchers in-process, one goroutine per job, each with
// its own cancel func. It satisfies Spawner.
type Supervisor struct {
	ctx    context.Context
	store  store.Store
	queue  RemoteQueue
	cfg    WatcherConfig
	logger *logging.Logger

	mu       sync.Mutex
	watchers map[string]context.CancelFunc
	wg       sync.WaitGroup
	stats    SupervisorStats
}

// NewSupervisor creates a supervisor whose watchers stop when ctx is done
func NewSupervisor(ctx context.Context, st store.Store, q RemoteQueue, cfg WatcherConfig, logger *logging.Logger) *Supervisor {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Supervisor{
		ctx:      ctx,
		store:    st,
		queue:    q,
		cfg:      cfg,
		logger:   logger,
		watchers: make(map[string]context.CancelFunc),
	}
}

// Spawn starts a watcher goroutine for jobID and returns immediately
func (s *Supervisor) Spawn(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return fmt.Errorf("supervisor stopped: %w", s.ctx.Err())
	}
	if _, ok := s.watchers[jobID]; ok {
		return fmt.Errorf("%s: %w", jobID, ErrAlreadyWatching)
	}

	ctx, cancel := context.WithCancel(s.ctx)
	s.watchers[jobID] = cancel
	s.stats.Started++
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer cancel()

		err := NewWatcher(jobID, s.store, s.queue, s.cfg, s.logger).Run(ctx)

		s.mu.Lock()
		delete(s.watchers, jobID)
		switch {
		case err == nil:
			s.stats.Finished++
		case errors.Is(err, ErrWatchCancelled):
			s.stats.Cancelled++
		default:
			s.stats.Faulted++
			s.logger.Error("Watcher exited with error", map[string]interface{}{
				"job_id": jobID,
				"error":  err.Error(),
			})
		}
		s.mu.Unlock()
	}()
	return nil
}

// Cancel stops the watcher for jobID. It reports whether one was running.
func (s *Supervisor) Cancel(jobID string) bool {
	s.mu.Lock()
	cancel, ok := s.watchers[jobID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Active returns the job IDs currently being watched, sorted
func (s *Supervisor) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.watchers))
	for id := range s.watchers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats returns a snapshot of watcher outcomes
func (s *Supervisor) Stats() SupervisorStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Wait blocks until every watcher has exited
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Shutdown cancels all watchers and waits for them, bounded by ctx
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, cancel := range s.watchers {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("watchers did not stop: %w", ctx.Err())
	}
}

// Resume spawns watchers for every non-terminal record in the store. It
// is an explicit recovery step after the host that watched them died.
func (s *Supervisor) Resume(ctx context.Context) ([]string, error) {
	records, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	var resumed []string
	for _, rec := range records {
		if rec.IsTerminal() {
			continue
		}
		if err := s.Spawn(rec.JobID); err != nil {
			if errors.Is(err, ErrAlreadyWatching) {
				continue
			}
			return resumed, err
		}
		resumed = append(resumed, rec.JobID)
	}
	return resumed, nil
}
