package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/psantana5/whisperq/pkg/models"
)

// FileStore keeps one JSON file per job under <dir>/jobs. It is the
// inter-process contract between the watcher and query commands:
//
//	<id>.json           status record, replaced atomically
//	<id>.history.jsonl  one HistoryEntry per line, append-only
//	<id>.cancel         present once cancellation was requested
type FileStore struct {
	dir  string
	sync bool
}

const (
	recordExt  = ".json"
	historyExt = ".history.jsonl"
	cancelExt  = ".cancel"
)

// NewFileStore creates a file store rooted at dir
func NewFileStore(dir string, sync bool) (*FileStore, error) {
	jobsDir := filepath.Join(dir, "jobs")
	if err := os.MkdirAll(jobsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create jobs directory: %w", err)
	}
	return &FileStore{dir: jobsDir, sync: sync}, nil
}

// Dir returns the directory holding the job files
func (s *FileStore) Dir() string {
	return s.dir
}

// RecordPath returns the status record path for a job
func (s *FileStore) RecordPath(jobID string) string {
	return filepath.Join(s.dir, jobID+recordExt)
}

func (s *FileStore) historyPath(jobID string) string {
	return filepath.Join(s.dir, jobID+historyExt)
}

func (s *FileStore) cancelPath(jobID string) string {
	return filepath.Join(s.dir, jobID+cancelExt)
}

// writeTemp writes data to a temp file next to the record and returns its path
func (s *FileStore) writeTemp(jobID string, data []byte) (string, error) {
	f, err := os.CreateTemp(s.dir, jobID+recordExt+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp record: %w", err)
	}
	tmpPath := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write temp record: %w", err)
	}
	if s.sync {
		if err := f.Sync(); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return "", fmt.Errorf("failed to sync temp record: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to close temp record: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to chmod temp record: %w", err)
	}
	return tmpPath, nil
}

func marshalRecord(rec models.JobRecord) ([]byte, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	return append(data, '\n'), nil
}

// Create writes a new record. The record becomes visible through a hard
// link so an existing record with the same ID is never overwritten.
func (s *FileStore) Create(ctx context.Context, rec models.JobRecord) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	data, err := marshalRecord(rec)
	if err != nil {
		return err
	}
	tmpPath, err := s.writeTemp(rec.JobID, data)
	if err != nil {
		return err
	}
	defer os.Remove(tmpPath)

	if err := os.Link(tmpPath, s.RecordPath(rec.JobID)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrJobExists, rec.JobID)
		}
		return fmt.Errorf("failed to publish record: %w", err)
	}
	return nil
}

// Get reads a record
func (s *FileStore) Get(ctx context.Context, jobID string) (models.JobRecord, error) {
	if err := ValidateJobID(jobID); err != nil {
		return models.JobRecord{}, err
	}
	return s.readRecord(s.RecordPath(jobID))
}

func (s *FileStore) readRecord(path string) (models.JobRecord, error) {
	var rec models.JobRecord
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return rec, ErrJobNotFound
		}
		return rec, fmt.Errorf("failed to read record: %w", err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("failed to decode record %s: %w", filepath.Base(path), err)
	}
	return rec, nil
}

// Update replaces an existing record with write-temp-then-rename
func (s *FileStore) Update(ctx context.Context, rec models.JobRecord) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	path := s.RecordPath(rec.JobID)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrJobNotFound
		}
		return fmt.Errorf("failed to stat record: %w", err)
	}
	data, err := marshalRecord(rec)
	if err != nil {
		return err
	}
	tmpPath, err := s.writeTemp(rec.JobID, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp record: %w", err)
	}
	return nil
}

// List returns all records ordered by job ID
func (s *FileStore) List(ctx context.Context) ([]models.JobRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs directory: %w", err)
	}
	var records []models.JobRecord
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}
		rec, err := s.readRecord(filepath.Join(s.dir, name))
		if err != nil {
			// Deleted between ReadDir and ReadFile
			if errors.Is(err, ErrJobNotFound) {
				continue
			}
			return nil, err
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].JobID < records[j].JobID })
	return records, nil
}

// Delete removes a record with its history and cancel flag
func (s *FileStore) Delete(ctx context.Context, jobID string) error {
	if err := ValidateJobID(jobID); err != nil {
		return err
	}
	if err := os.Remove(s.RecordPath(jobID)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrJobNotFound
		}
		return fmt.Errorf("failed to delete record: %w", err)
	}
	for _, p := range []string{s.historyPath(jobID), s.cancelPath(jobID)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to delete %s: %w", filepath.Base(p), err)
		}
	}
	return nil
}

// AppendHistory appends one entry as a single write to the history file
func (s *FileStore) AppendHistory(ctx context.Context, jobID string, entry models.HistoryEntry) error {
	if err := ValidateJobID(jobID); err != nil {
		return err
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(s.historyPath(jobID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("failed to append history: %w", err)
	}
	return f.Close()
}

// History returns the newest maxLines entries in chronological order.
// A trailing line still being written is ignored.
func (s *FileStore) History(ctx context.Context, jobID string, maxLines int) ([]models.HistoryEntry, error) {
	if err := ValidateJobID(jobID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.historyPath(jobID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []models.HistoryEntry{}, nil
		}
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
		data = data[:i+1]
	} else {
		data = nil
	}

	entries := []models.HistoryEntry{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry models.HistoryEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan history: %w", err)
	}
	return tail(entries, maxLines), nil
}

// RequestCancel drops the cancel flag file next to the record
func (s *FileStore) RequestCancel(ctx context.Context, jobID string) error {
	if _, err := s.Get(ctx, jobID); err != nil {
		return err
	}
	f, err := os.OpenFile(s.cancelPath(jobID), os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create cancel flag: %w", err)
	}
	return f.Close()
}

// CancelRequested reports whether the cancel flag file exists
func (s *FileStore) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	if err := ValidateJobID(jobID); err != nil {
		return false, err
	}
	_, err := os.Stat(s.cancelPath(jobID))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat cancel flag: %w", err)
}

// HealthCheck verifies the jobs directory is writable
func (s *FileStore) HealthCheck(ctx context.Context) error {
	f, err := os.CreateTemp(s.dir, ".health-*")
	if err != nil {
		return fmt.Errorf("jobs directory not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// Close is a no-op for the file store
func (s *FileStore) Close() error {
	return nil
}
