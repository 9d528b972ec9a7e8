package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/psantana5/whisperq/pkg/models"
	"github.com/psantana5/whisperq/pkg/queue"
	"github.com/psantana5/whisperq/pkg/store"
)

// step is one scripted answer to a status poll
type step struct {
	resp *queue.StatusResponse
	code int // non-2xx answers produce an APIError
	err  error
}

func statusStep(status string) step {
	return step{resp: &queue.StatusResponse{Status: status}}
}

func completedStep(output interface{}) step {
	raw, _ := json.Marshal(output)
	return step{resp: &queue.StatusResponse{Status: queue.StatusCompleted, Output: raw}}
}

// fakeQueue answers polls from a per-remote-job script. The last step
// repeats once the script is exhausted.
type fakeQueue struct {
	mu        sync.Mutex
	scripts   map[string][]step
	polls     map[string]int
	submitErr error
	submitted []models.TranscriptionRequest
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{scripts: make(map[string][]step), polls: make(map[string]int)}
}

func (f *fakeQueue) script(remoteID string, steps ...step) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[remoteID] = steps
}

func (f *fakeQueue) pollCount(remoteID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls[remoteID]
}

func (f *fakeQueue) Submit(ctx context.Context, input models.TranscriptionRequest) (*queue.SubmitResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, input)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	remoteID := "remote-" + input.JobID
	return &queue.SubmitResponse{
		ID:         remoteID,
		Status:     queue.StatusInQueue,
		HTTPStatus: http.StatusOK,
		Body:       []byte(`{"id":"` + remoteID + `","status":"IN_QUEUE","delayTime":0}`),
	}, nil
}

func (f *fakeQueue) Status(ctx context.Context, remoteID string) (*queue.Poll, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	steps := f.scripts[remoteID]
	if len(steps) == 0 {
		return nil, errors.New("no script for " + remoteID)
	}
	i := f.polls[remoteID]
	f.polls[remoteID]++
	if i >= len(steps) {
		i = len(steps) - 1
	}
	s := steps[i]

	if s.err != nil {
		return nil, s.err
	}
	if s.code != 0 {
		body := `{"error":"status ` + http.StatusText(s.code) + `"}`
		return &queue.Poll{HTTPStatus: s.code, Body: []byte(body)},
			&queue.APIError{Op: "status", StatusCode: s.code, Body: body}
	}
	resp := *s.resp
	resp.ID = remoteID
	body, _ := json.Marshal(resp)
	return &queue.Poll{HTTPStatus: http.StatusOK, Body: body, Response: &resp}, nil
}

// countingStore counts record updates and can fail them on demand
type countingStore struct {
	store.Store
	mu            sync.Mutex
	updates       int
	failUpdates   int // number of upcoming Update calls that fail
	failHistory   bool
	updateFailure error
}

func (s *countingStore) Update(ctx context.Context, rec models.JobRecord) error {
	s.mu.Lock()
	s.updates++
	fail := s.failUpdates > 0
	if fail {
		s.failUpdates--
	}
	s.mu.Unlock()
	if fail {
		err := s.updateFailure
		if err == nil {
			err = errors.New("disk full")
		}
		return err
	}
	return s.Store.Update(ctx, rec)
}

func (s *countingStore) AppendHistory(ctx context.Context, jobID string, entry models.HistoryEntry) error {
	if s.failHistory {
		return errors.New("read-only file system")
	}
	return s.Store.AppendHistory(ctx, jobID, entry)
}

func (s *countingStore) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

// recordingSpawner records spawned jobs
type recordingSpawner struct {
	mu   sync.Mutex
	jobs []string
	err  error
}

func (r *recordingSpawner) Spawn(jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.jobs = append(r.jobs, jobID)
	return nil
}

// interruptingStore cancels the watcher's context in the middle of a write,
// the way a signal lands while a SQL or redis call is in flight
type interruptingStore struct {
	store.Store
	cancel    context.CancelFunc
	onHistory bool
	onUpdate  bool
}

func (s *interruptingStore) AppendHistory(ctx context.Context, jobID string, entry models.HistoryEntry) error {
	if s.onHistory {
		s.cancel()
		return context.Canceled
	}
	return s.Store.AppendHistory(ctx, jobID, entry)
}

func (s *interruptingStore) Update(ctx context.Context, rec models.JobRecord) error {
	if s.onUpdate {
		s.cancel()
		return context.Canceled
	}
	return s.Store.Update(ctx, rec)
}
