package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/psantana5/whisperq/pkg/models"
)

// MemoryStore is an in-memory implementation of the store, used by
// in-process supervisors and tests
type MemoryStore struct {
	jobs     map[string]models.JobRecord
	history  map[string][]models.HistoryEntry
	canceled map[string]bool
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[string]models.JobRecord),
		history:  make(map[string][]models.HistoryEntry),
		canceled: make(map[string]bool),
	}
}

// Create stores a new record
func (s *MemoryStore) Create(ctx context.Context, rec models.JobRecord) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[rec.JobID]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, rec.JobID)
	}
	s.jobs[rec.JobID] = rec.Clone()
	return nil
}

// Get retrieves a record by ID
func (s *MemoryStore) Get(ctx context.Context, jobID string) (models.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.jobs[jobID]
	if !exists {
		return models.JobRecord{}, ErrJobNotFound
	}
	return rec.Clone(), nil
}

// Update replaces an existing record
func (s *MemoryStore) Update(ctx context.Context, rec models.JobRecord) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[rec.JobID]; !exists {
		return ErrJobNotFound
	}
	s.jobs[rec.JobID] = rec.Clone()
	return nil
}

// List returns all records ordered by job ID
func (s *MemoryStore) List(ctx context.Context) ([]models.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]models.JobRecord, 0, len(s.jobs))
	for _, rec := range s.jobs {
		records = append(records, rec.Clone())
	}
	sort.Slice(records, func(i, j int) bool { return records[i].JobID < records[j].JobID })
	return records, nil
}

// Delete removes a record with its history
func (s *MemoryStore) Delete(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[jobID]; !exists {
		return ErrJobNotFound
	}
	delete(s.jobs, jobID)
	delete(s.history, jobID)
	delete(s.canceled, jobID)
	return nil
}

// AppendHistory appends an entry to the job's history
func (s *MemoryStore) AppendHistory(ctx context.Context, jobID string, entry models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[jobID] = append(s.history[jobID], entry)
	return nil
}

// History returns the newest maxLines entries in chronological order
func (s *MemoryStore) History(ctx context.Context, jobID string, maxLines int) ([]models.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := tail(s.history[jobID], maxLines)
	out := make([]models.HistoryEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// RequestCancel flags the job for cancellation
func (s *MemoryStore) RequestCancel(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[jobID]; !exists {
		return ErrJobNotFound
	}
	s.canceled[jobID] = true
	return nil
}

// CancelRequested reports whether cancellation was requested
func (s *MemoryStore) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.canceled[jobID], nil
}

// HealthCheck always succeeds
func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
