package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/whisperq/pkg/models"
	"github.com/psantana5/whisperq/pkg/store"
)

func TestGetStatusUnknown(t *testing.T) {
	q := NewQuery(store.NewMemoryStore(), 0, nil)

	rec, err := q.GetStatus(context.Background(), "never-submitted")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusUnknown, rec.Status)
	assert.Equal(t, "never-submitted", rec.JobID)

	rec, err = q.GetStatus(context.Background(), "../bad")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusUnknown, rec.Status)
}

func TestGetStatusIdempotent(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewFileStore(dir, false)
	require.NoError(t, err)
	seedJob(t, st, "job-1")
	q := NewQuery(st, 0, nil)

	first, err := q.GetStatus(context.Background(), "job-1")
	require.NoError(t, err)
	second, err := q.GetStatus(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGetHistory(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	seedJob(t, st, "job-1")
	q := NewQuery(st, 0, nil)

	entries, err := q.GetHistory(ctx, "job-1", 10)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, st.AppendHistory(ctx, "job-1", models.HistoryEntry{
			Timestamp:    base.Add(time.Duration(i) * time.Second),
			RemoteStatus: []string{"IN_QUEUE", "IN_QUEUE", "IN_PROGRESS", "IN_PROGRESS", "COMPLETED"}[i],
		}))
	}

	entries, err = q.GetHistory(ctx, "job-1", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "IN_PROGRESS", entries[0].RemoteStatus)
	assert.Equal(t, "COMPLETED", entries[1].RemoteStatus)
	assert.True(t, entries[0].Timestamp.Before(entries[1].Timestamp))

	entries, err = q.GetHistory(ctx, "job-1", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 5)

	entries, err = q.GetHistory(ctx, "no-such-job", 5)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestListNewestFirst(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	base := time.Now()
	require.NoError(t, st.Create(ctx, models.NewStartingRecord("old", "r1", "s", base.Add(-time.Hour))))
	require.NoError(t, st.Create(ctx, models.NewStartingRecord("new", "r2", "s", base)))

	records, err := NewQuery(st, 0, nil).List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "new", records[0].JobID)
	assert.Equal(t, "old", records[1].JobID)
}

// followUntilDone runs Follow while advancing the record through running to done
func followUntilDone(t *testing.T, st store.Store, pollInterval time.Duration) []models.JobStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec := seedJob(t, st, "job-1")
	q := NewQuery(st, pollInterval, nil)

	var (
		mu   sync.Mutex
		seen []models.JobStatus
	)
	errc := make(chan error, 1)
	go func() {
		errc <- q.Follow(ctx, "job-1", func(r models.JobRecord) {
			mu.Lock()
			seen = append(seen, r.Status)
			mu.Unlock()
		})
	}()

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(seen)
	}
	require.Eventually(t, func() bool { return count() == 1 }, 2*time.Second, time.Millisecond)

	running, err := rec.Transition(models.JobStatusRunning, nil, "", time.Now().Add(time.Second))
	require.NoError(t, err)
	require.NoError(t, st.Update(ctx, running))
	require.Eventually(t, func() bool { return count() == 2 }, 2*time.Second, time.Millisecond)

	done, err := running.Transition(models.JobStatusDone, map[string]string{"srt": "s3://b/k.srt"}, "", time.Now().Add(2*time.Second))
	require.NoError(t, err)
	require.NoError(t, st.Update(ctx, done))

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("Follow did not return after terminal state")
	}
	mu.Lock()
	defer mu.Unlock()
	return seen
}

func TestFollowPolling(t *testing.T) {
	seen := followUntilDone(t, store.NewMemoryStore(), 5*time.Millisecond)
	assert.Equal(t, []models.JobStatus{models.JobStatusStarting, models.JobStatusRunning, models.JobStatusDone}, seen)
}

func TestFollowFileStore(t *testing.T) {
	st, err := store.NewFileStore(t.TempDir(), false)
	require.NoError(t, err)
	// a long poll interval means changes must arrive through fsnotify
	seen := followUntilDone(t, st, time.Hour)
	assert.Equal(t, []models.JobStatus{models.JobStatusStarting, models.JobStatusRunning, models.JobStatusDone}, seen)
}

func TestFollowTerminalReturnsImmediately(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.Create(ctx, models.NewFailedRecord("job-1", "s", "boom", time.Now())))

	calls := 0
	err := NewQuery(st, time.Hour, nil).Follow(ctx, "job-1", func(models.JobRecord) { calls++ })
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
