package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/psantana5/whisperq/pkg/models"
)

// RedisStore keeps records as JSON strings, history as lists and the job
// index as a set. SET NX and SET XX give create-once and replace semantics.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(config Config) (*RedisStore, error) {
	if config.RedisAddr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = "whisperq:"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) jobKey(id string) string     { return s.prefix + "job:" + id }
func (s *RedisStore) historyKey(id string) string { return s.prefix + "job:" + id + ":history" }
func (s *RedisStore) cancelKey(id string) string  { return s.prefix + "job:" + id + ":cancel" }
func (s *RedisStore) indexKey() string            { return s.prefix + "jobs" }

// Create stores a record only if the key does not exist
func (s *RedisStore) Create(ctx context.Context, rec models.JobRecord) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.jobKey(rec.JobID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobExists, rec.JobID)
	}
	if err := s.client.SAdd(ctx, s.indexKey(), rec.JobID).Err(); err != nil {
		return fmt.Errorf("failed to index record: %w", err)
	}
	return nil
}

// Get retrieves a record by ID
func (s *RedisStore) Get(ctx context.Context, jobID string) (models.JobRecord, error) {
	var rec models.JobRecord
	data, err := s.client.Get(ctx, s.jobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return rec, ErrJobNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("failed to get record: %w", err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("failed to decode record: %w", err)
	}
	return rec, nil
}

// Update replaces an existing record
func (s *RedisStore) Update(ctx context.Context, rec models.JobRecord) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	ok, err := s.client.SetXX(ctx, s.jobKey(rec.JobID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	if !ok {
		return ErrJobNotFound
	}
	return nil
}

// List returns all indexed records ordered by job ID
func (s *RedisStore) List(ctx context.Context) ([]models.JobRecord, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	sort.Strings(ids)

	var records []models.JobRecord
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Delete removes a record, its history and cancel flag
func (s *RedisStore) Delete(ctx context.Context, jobID string) error {
	n, err := s.client.Del(ctx, s.jobKey(jobID), s.historyKey(jobID), s.cancelKey(jobID)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if err := s.client.SRem(ctx, s.indexKey(), jobID).Err(); err != nil {
		return fmt.Errorf("failed to unindex record: %w", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// AppendHistory pushes an entry onto the job's history list
func (s *RedisStore) AppendHistory(ctx context.Context, jobID string, entry models.HistoryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}
	if err := s.client.RPush(ctx, s.historyKey(jobID), data).Err(); err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// History returns the newest maxLines entries in chronological order
func (s *RedisStore) History(ctx context.Context, jobID string, maxLines int) ([]models.HistoryEntry, error) {
	start := int64(0)
	if maxLines > 0 {
		start = -int64(maxLines)
	}
	raw, err := s.client.LRange(ctx, s.historyKey(jobID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	entries := make([]models.HistoryEntry, 0, len(raw))
	for _, line := range raw {
		var entry models.HistoryEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("failed to decode history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// RequestCancel sets the cancel flag key
func (s *RedisStore) RequestCancel(ctx context.Context, jobID string) error {
	exists, err := s.client.Exists(ctx, s.jobKey(jobID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check record: %w", err)
	}
	if exists == 0 {
		return ErrJobNotFound
	}
	return s.client.Set(ctx, s.cancelKey(jobID), "1", 0).Err()
}

// CancelRequested reports whether the cancel flag key exists
func (s *RedisStore) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.cancelKey(jobID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read cancel flag: %w", err)
	}
	return n > 0, nil
}

// HealthCheck pings Redis
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
