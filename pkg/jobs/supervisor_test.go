package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/whisperq/pkg/models"
	"github.com/psantana5/whisperq/pkg/queue"
	"github.com/psantana5/whisperq/pkg/store"
)

func TestSupervisorRunsIndependentWatchers(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	q := newFakeQueue()
	for _, id := range []string{"job-a", "job-b"} {
		seedJob(t, st, id)
	}
	q.script("remote-job-a", statusStep(queue.StatusInProgress), completedStep(doneOutput("job-a")))
	q.script("remote-job-b", statusStep(queue.StatusFailed))

	sup := NewSupervisor(ctx, st, q, testWatcherConfig(), nil)
	require.NoError(t, sup.Spawn("job-a"))
	require.NoError(t, sup.Spawn("job-b"))
	sup.Wait()

	a, err := st.Get(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDone, a.Status)

	b, err := st.Get(ctx, "job-b")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusError, b.Status)

	assert.Empty(t, sup.Active())
	assert.Equal(t, SupervisorStats{Started: 2, Finished: 2}, sup.Stats())
}

func TestSupervisorDuplicateAndCancel(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	q := newFakeQueue()
	seedJob(t, st, "job-a")
	q.script("remote-job-a", statusStep(queue.StatusInProgress))

	sup := NewSupervisor(ctx, st, q, testWatcherConfig(), nil)
	require.NoError(t, sup.Spawn("job-a"))
	assert.ErrorIs(t, sup.Spawn("job-a"), ErrAlreadyWatching)
	assert.Equal(t, []string{"job-a"}, sup.Active())

	assert.True(t, sup.Cancel("job-a"))
	sup.Wait()
	assert.False(t, sup.Cancel("job-a"))
	assert.Equal(t, int64(1), sup.Stats().Cancelled)

	rec, err := st.Get(ctx, "job-a")
	require.NoError(t, err)
	assert.False(t, rec.IsTerminal())
}

func TestSupervisorShutdown(t *testing.T) {
	st := store.NewMemoryStore()
	q := newFakeQueue()
	for _, id := range []string{"job-a", "job-b", "job-c"} {
		seedJob(t, st, id)
		q.script("remote-"+id, statusStep(queue.StatusInQueue))
	}

	sup := NewSupervisor(context.Background(), st, q, testWatcherConfig(), nil)
	resumed, err := sup.Resume(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"job-a", "job-b", "job-c"}, resumed)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sup.Shutdown(ctx))
	assert.Empty(t, sup.Active())
}

func TestSupervisorResumeSkipsTerminal(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	q := newFakeQueue()
	seedJob(t, st, "job-live")
	q.script("remote-job-live", completedStep(doneOutput("job-live")))
	require.NoError(t, st.Create(ctx, models.NewFailedRecord("job-dead", "src", "boom", time.Now())))

	sup := NewSupervisor(ctx, st, q, testWatcherConfig(), nil)
	resumed, err := sup.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"job-live"}, resumed)
	sup.Wait()
}

func TestSupervisorRejectsAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sup := NewSupervisor(ctx, store.NewMemoryStore(), newFakeQueue(), testWatcherConfig(), nil)
	assert.Error(t, sup.Spawn("job-a"))
}
