package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/whisperq/pkg/models"
)

func TestFileStoreRecordFormat(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), true)
	require.NoError(t, err)

	rec := models.NewStartingRecord("job-format", "", "src", testNow)
	require.NoError(t, s.Create(context.Background(), rec))

	data, err := os.ReadFile(s.RecordPath("job-format"))
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `"job_id": "job-format"`)
	assert.Contains(t, text, `"remote_job_id": null`)
	assert.Contains(t, text, `"result_locations": null`)
	assert.Contains(t, text, `"error": null`)
}

func TestFileStoreNoTempFilesLeft(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), false)
	require.NoError(t, err)
	ctx := context.Background()

	rec := models.NewStartingRecord("job-tmp", "r", "src", testNow)
	require.NoError(t, s.Create(ctx, rec))
	require.Error(t, s.Create(ctx, rec))
	running, err := rec.Transition(models.JobStatusRunning, nil, "", testNow)
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, running))

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "leftover temp file %s", e.Name())
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewFileStore(dir, false)
	require.NoError(t, err)
	rec := models.NewStartingRecord("job-reopen", "r-9", "src", testNow)
	rec, err = rec.Transition(models.JobStatusError, nil, "remote job FAILED: out of memory", testNow)
	require.NoError(t, err)
	require.NoError(t, first.Create(ctx, rec))
	before, err := os.ReadFile(first.RecordPath(rec.JobID))
	require.NoError(t, err)

	second, err := NewFileStore(dir, false)
	require.NoError(t, err)
	got, err := second.Get(ctx, rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	// Re-writing the read record reproduces the same bytes
	require.NoError(t, second.Update(ctx, got))
	after, err := os.ReadFile(second.RecordPath(rec.JobID))
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestFileStoreHistoryIgnoresPartialLine(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), false)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.AppendHistory(ctx, "job-partial", models.HistoryEntry{Timestamp: testNow, RemoteStatus: "IN_QUEUE"}))

	f, err := os.OpenFile(filepath.Join(s.Dir(), "job-partial"+historyExt), os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"timestamp":"2026-04-02T10:30:00Z","remote_st`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := s.History(ctx, "job-partial", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "IN_QUEUE", entries[0].RemoteStatus)
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), false)
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "../../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidJobID)
}
