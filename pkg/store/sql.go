package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/psantana5/whisperq/pkg/models"
)

// sqlStore holds the queries shared by the SQLite and PostgreSQL stores.
// Queries are written with ? placeholders and rebound for PostgreSQL.
type sqlStore struct {
	db       *sql.DB
	numbered bool // use $1, $2... placeholders
}

const timeLayout = time.RFC3339Nano

func (s *sqlStore) rebind(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func encodeLocations(locs map[string]string) (sql.NullString, error) {
	if len(locs) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(locs)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal result_locations: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// Create inserts a record, rejecting an existing job ID
func (s *sqlStore) Create(ctx context.Context, rec models.JobRecord) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	locs, err := encodeLocations(rec.ResultLocations)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, `
		INSERT INTO jobs (job_id, remote_job_id, source, status, result_locations, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id) DO NOTHING
	`, rec.JobID, nullString(rec.RemoteJobID), rec.Source, string(rec.Status), locs,
		nullString(rec.Error), rec.CreatedAt.UTC().Format(timeLayout), rec.UpdatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check insert: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrJobExists, rec.JobID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (models.JobRecord, error) {
	var (
		rec                      models.JobRecord
		remoteID, locs, errMsg   sql.NullString
		status, created, updated string
	)
	if err := row.Scan(&rec.JobID, &remoteID, &rec.Source, &status, &locs, &errMsg, &created, &updated); err != nil {
		return rec, err
	}
	rec.RemoteJobID = remoteID.String
	rec.Status = models.JobStatus(status)
	rec.Error = errMsg.String
	if locs.Valid && locs.String != "" {
		if err := json.Unmarshal([]byte(locs.String), &rec.ResultLocations); err != nil {
			return rec, fmt.Errorf("failed to decode result_locations: %w", err)
		}
	}
	var err error
	if rec.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return rec, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return rec, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return rec, nil
}

const selectJob = `SELECT job_id, remote_job_id, source, status, result_locations, error, created_at, updated_at FROM jobs`

// Get retrieves a record by ID
func (s *sqlStore) Get(ctx context.Context, jobID string) (models.JobRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(selectJob+` WHERE job_id = ?`), jobID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.JobRecord{}, ErrJobNotFound
	}
	if err != nil {
		return models.JobRecord{}, fmt.Errorf("failed to get job: %w", err)
	}
	return rec, nil
}

// Update replaces a record in a single statement
func (s *sqlStore) Update(ctx context.Context, rec models.JobRecord) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	locs, err := encodeLocations(rec.ResultLocations)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, `
		UPDATE jobs SET remote_job_id = ?, source = ?, status = ?, result_locations = ?, error = ?, created_at = ?, updated_at = ?
		WHERE job_id = ?
	`, nullString(rec.RemoteJobID), rec.Source, string(rec.Status), locs, nullString(rec.Error),
		rec.CreatedAt.UTC().Format(timeLayout), rec.UpdatedAt.UTC().Format(timeLayout), rec.JobID)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update: %w", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// List returns all records ordered by job ID
func (s *sqlStore) List(ctx context.Context) ([]models.JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectJob+` ORDER BY job_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var records []models.JobRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Delete removes a record and its history in one transaction
func (s *sqlStore) Delete(ctx context.Context, jobID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM job_history WHERE job_id = ?`), jobID); err != nil {
		return fmt.Errorf("failed to delete history: %w", err)
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM jobs WHERE job_id = ?`), jobID)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return tx.Commit()
}

// AppendHistory inserts one history row
func (s *sqlStore) AppendHistory(ctx context.Context, jobID string, entry models.HistoryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}
	if _, err := s.exec(ctx, `INSERT INTO job_history (job_id, entry) VALUES (?, ?)`, jobID, string(data)); err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// History returns the newest maxLines entries in chronological order
func (s *sqlStore) History(ctx context.Context, jobID string, maxLines int) ([]models.HistoryEntry, error) {
	query := `SELECT entry FROM job_history WHERE job_id = ? ORDER BY id DESC`
	args := []interface{}{jobID}
	if maxLines > 0 {
		query += ` LIMIT ?`
		args = append(args, maxLines)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	entries := []models.HistoryEntry{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		var entry models.HistoryEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("failed to decode history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Newest first from the query
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// RequestCancel sets the cancel flag on the job row
func (s *sqlStore) RequestCancel(ctx context.Context, jobID string) error {
	res, err := s.exec(ctx, `UPDATE jobs SET cancel_requested = 1 WHERE job_id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("failed to request cancel: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// CancelRequested reads the cancel flag; a missing job is not canceled
func (s *sqlStore) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	var flag int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT cancel_requested FROM jobs WHERE job_id = ?`), jobID).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cancel flag: %w", err)
	}
	return flag != 0, nil
}

// HealthCheck pings the database
func (s *sqlStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	return s.db.Close()
}
