package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/ingestd/internal/model"
	"github.com/albapepper/ingestd/internal/scheduler/jobstore"
)

func newTestStore(t *testing.T) *jobstore.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := jobstore.Open(dir + "/jobs.db")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestDispatch_RunsRegisteredJobAndRecordsSuccess(t *testing.T) {
	store := newTestStore(t)
	s := New(store)

	var calls atomic.Int32
	s.RegisterRunner("frame_maker", func(ctx context.Context, job model.Job) error {
		calls.Add(1)
		return nil
	})

	job := model.Job{Name: "frame_maker", Queue: model.QueueFrames, HardTimeLimit: time.Second, SoftTimeLimit: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, q := range s.queues {
		q.start(ctx)
	}
	s.dispatch(ctx, job, 1)

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 10*time.Millisecond)

	runs, err := store.RecentRuns("frame_maker", 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunSucceeded, runs[0].Status)
}

func TestDispatch_RetriesOnFailureUpToRetryCount(t *testing.T) {
	store := newTestStore(t)
	s := New(store)

	var calls atomic.Int32
	s.RegisterRunner("finalizer", func(ctx context.Context, job model.Job) error {
		calls.Add(1)
		return errors.New("boom")
	})

	job := model.Job{Name: "finalizer", Queue: model.QueueFinalizer, HardTimeLimit: time.Second, RetryCount: 2}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, q := range s.queues {
		q.start(ctx)
	}
	s.dispatch(ctx, job, 1)

	require.Eventually(t, func() bool { return calls.Load() == 3 }, 4*time.Second, 20*time.Millisecond,
		"expected 1 initial attempt + 2 retries")
}

func TestDue_IntervalJobFiresOnlyAfterItsInterval(t *testing.T) {
	store := newTestStore(t)
	s := New(store)

	job := model.Job{Name: "live_trigger", Schedule: model.Every(30 * time.Second), Enabled: true}
	now := time.Now().UTC()

	assert.True(t, s.due(job, now), "never-fired interval job is always due")

	s.mu.Lock()
	s.lastFired[job.Name] = now
	s.mu.Unlock()

	assert.False(t, s.due(job, now.Add(10*time.Second)))
	assert.True(t, s.due(job, now.Add(31*time.Second)))
}

func TestSetCatalog_HotReloadsJobTable(t *testing.T) {
	store := newTestStore(t)
	s := New(store)

	custom := []model.Job{{Name: "only_job", Schedule: model.Every(time.Second), Queue: model.QueueMaintenance, Enabled: true}}
	require.NoError(t, s.SetCatalog(custom))

	jobs := *s.catalog.Load()
	require.Len(t, jobs, 1)
	assert.Equal(t, "only_job", jobs[0].Name)
}

func TestTick_SkipsDisabledJobs(t *testing.T) {
	store := newTestStore(t)
	s := New(store)

	var calls atomic.Int32
	s.RegisterRunner("fixture_poll", func(ctx context.Context, job model.Job) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, s.SetCatalog([]model.Job{
		{Name: "fixture_poll", Schedule: model.Every(time.Millisecond), Queue: model.QueueFixtures, Enabled: false},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, q := range s.queues {
		q.start(ctx)
	}
	s.tick(ctx, time.Now().UTC())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}
