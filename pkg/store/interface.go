package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/psantana5/whisperq/pkg/models"
)

// Store persists job records, their poll history and cancellation flags.
// A record has a single writer (its watcher); implementations must make
// every Update an atomic replace so concurrent readers never see a torn record.
type Store interface {
	// Record operations
	Create(ctx context.Context, rec models.JobRecord) error
	Get(ctx context.Context, jobID string) (models.JobRecord, error)
	Update(ctx context.Context, rec models.JobRecord) error
	List(ctx context.Context) ([]models.JobRecord, error)
	Delete(ctx context.Context, jobID string) error

	// History operations (append-only)
	AppendHistory(ctx context.Context, jobID string, entry models.HistoryEntry) error
	History(ctx context.Context, jobID string, maxLines int) ([]models.HistoryEntry, error)

	// Local cancellation flag, checked by the watcher every iteration
	RequestCancel(ctx context.Context, jobID string) error
	CancelRequested(ctx context.Context, jobID string) (bool, error)

	// Lifecycle
	HealthCheck(ctx context.Context) error
	Close() error
}

// Config holds store configuration
type Config struct {
	Type string // "file" (default), "sqlite", "postgres", "redis", "memory"

	// Path is the state directory for the file store and the database
	// file for sqlite.
	Path string
	DSN  string // PostgreSQL connection string
	Sync bool   // fsync record writes before the rename (file store)

	// Connection pool settings (PostgreSQL)
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// Redis settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
}

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch config.Type {
	case "file", "":
		path := config.Path
		if path == "" {
			path = "."
		}
		s, err = NewFileStore(path, config.Sync)
	case "sqlite", "sqlite3":
		path := config.Path
		if path == "" {
			path = config.DSN
		}
		if path == "" {
			path = "whisperq.db"
		}
		s, err = NewSQLiteStore(path)
	case "postgres", "postgresql":
		s, err = NewPostgresStore(config)
	case "redis":
		s, err = NewRedisStore(config)
	case "memory":
		s = NewMemoryStore()
	default:
		return nil, ErrUnsupportedStore
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrJobExists        = errors.New("job already exists")
	ErrInvalidJobID     = errors.New("invalid job id")
	ErrUnsupportedStore = NewError("unsupported store type")
)

// NewError creates a new error with message
func NewError(message string) error {
	return &storeError{message: message}
}

type storeError struct {
	message string
}

func (e *storeError) Error() string {
	return e.message
}

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateJobID rejects identifiers that cannot be used as a file name or key
func ValidateJobID(jobID string) error {
	if !jobIDPattern.MatchString(jobID) {
		return fmt.Errorf("%w: %q", ErrInvalidJobID, jobID)
	}
	return nil
}

func checkRecord(rec models.JobRecord) error {
	if err := ValidateJobID(rec.JobID); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record %s: %w", rec.JobID, err)
	}
	return nil
}

// tail keeps the newest maxLines entries; maxLines <= 0 keeps all.
func tail(entries []models.HistoryEntry, maxLines int) []models.HistoryEntry {
	if maxLines > 0 && len(entries) > maxLines {
		return entries[len(entries)-maxLines:]
	}
	return entries
}
