// Package scheduler drives the job catalog: a declarative job table
// feeds typed, bounded worker-pool queues through
// a PENDING -> RUNNING -> terminal state machine, ledgered in
// internal/scheduler/jobstore.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/albapepper/ingestd/internal/model"
	"github.com/albapepper/ingestd/internal/scheduler/jobstore"
	"github.com/albapepper/ingestd/internal/telemetry"
)

// RunFunc executes one job's run. The scheduler supplies no arguments
// beyond the job and a context bounded by the job's hard time limit;
// everything a runner needs (store handles, aggregator, ingest loop) is
// closed over by the caller when it registers the runner.
type RunFunc func(ctx context.Context, job model.Job) error

// dispatchTick is how often the dispatcher re-evaluates the catalog
// against the clock; a catalog edit takes effect within one tick.
const dispatchTick = 1 * time.Second

// Scheduler owns the job catalog, the typed queues, and the dispatcher
// tick loop.
type Scheduler struct {
	catalog atomic.Pointer[[]model.Job]
	store   *jobstore.Store

	queues map[model.Queue]*workQueue

	mu        sync.Mutex
	runners   map[string]RunFunc
	crons     map[string]cronSchedule
	lastFired map[string]time.Time // job name -> last dispatch instant
}

func New(store *jobstore.Store) *Scheduler {
	s := &Scheduler{
		store:     store,
		queues:    make(map[model.Queue]*workQueue),
		runners:   make(map[string]RunFunc),
		crons:     make(map[string]cronSchedule),
		lastFired: make(map[string]time.Time),
	}
	for _, qc := range defaultQueueConfigs() {
		s.queues[qc.name] = newWorkQueue(qc)
	}
	s.SetCatalog(DefaultCatalog())
	return s
}

// SetCatalog hot-swaps the job table; it takes effect at the dispatcher's
// next tick.
func (s *Scheduler) SetCatalog(jobs []model.Job) error {
	crons := make(map[string]cronSchedule, len(jobs))
	for _, j := range jobs {
		if j.Schedule.Kind != model.ScheduleCron {
			continue
		}
		cs, err := parseCron(j.Schedule.Expr)
		if err != nil {
			return fmt.Errorf("job %s: %w", j.Name, err)
		}
		crons[j.Name] = cs
	}

	s.mu.Lock()
	s.crons = crons
	s.mu.Unlock()

	snapshot := append([]model.Job(nil), jobs...)
	s.catalog.Store(&snapshot)
	return nil
}

// Catalog returns a copy of the current job table.
func (s *Scheduler) Catalog() []model.Job {
	return append([]model.Job(nil), *s.catalog.Load()...)
}

// UpdateJob applies mutate to the named job and swaps the edited catalog
// in. The edit takes effect at the dispatcher's next tick.
func (s *Scheduler) UpdateJob(name string, mutate func(*model.Job) error) error {
	jobs := s.Catalog()
	for i := range jobs {
		if jobs[i].Name != name {
			continue
		}
		if err := mutate(&jobs[i]); err != nil {
			return err
		}
		return s.SetCatalog(jobs)
	}
	return fmt.Errorf("unknown job %q", name)
}

// QueueDepths reports how many dispatched runs currently sit in each
// typed queue, for the health probe.
func (s *Scheduler) QueueDepths() map[model.Queue]int {
	out := make(map[model.Queue]int, len(s.queues))
	for name, q := range s.queues {
		out[name] = len(q.ch)
	}
	return out
}

// RegisterRunner binds a job name to the function that executes it.
func (s *Scheduler) RegisterRunner(jobName string, fn RunFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runners[jobName] = fn
}

// Run starts all queue worker pools and the dispatcher tick loop; it
// blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for _, q := range s.queues {
		q.start(ctx)
	}

	ticker := time.NewTicker(dispatchTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.tick(ctx, now.UTC())
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	jobs := *s.catalog.Load()
	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		if !s.due(job, now) {
			continue
		}
		s.dispatch(ctx, job, 1)
	}
}

func (s *Scheduler) due(job model.Job, now time.Time) bool {
	s.mu.Lock()
	last, seen := s.lastFired[job.Name]
	s.mu.Unlock()

	switch job.Schedule.Kind {
	case model.ScheduleInterval:
		return !seen || now.Sub(last) >= job.Schedule.Every
	case model.ScheduleCron:
		s.mu.Lock()
		cs, ok := s.crons[job.Name]
		s.mu.Unlock()
		if !ok {
			return false
		}
		// A cron field matches at minute granularity; guard against
		// firing twice within the same matching minute.
		if seen && last.Truncate(time.Minute).Equal(now.Truncate(time.Minute)) {
			return false
		}
		return cs.matches(now)
	default:
		return false
	}
}

// dispatch enqueues one run of job. Failed and timed-out runs are
// retried as fresh PENDING runs with exponential backoff, up to
// job.RetryCount times.
func (s *Scheduler) dispatch(ctx context.Context, job model.Job, attempt int) {
	s.mu.Lock()
	runner, ok := s.runners[job.Name]
	s.mu.Unlock()
	if !ok {
		telemetry.Debugf("scheduler: no runner registered for job=%s, skipping", job.Name)
		return
	}

	q, ok := s.queues[job.Queue]
	if !ok {
		telemetry.Errorf("scheduler: job=%s references unknown queue=%s", job.Name, job.Queue)
		return
	}

	run, err := s.store.CreateRun(job.Name, attempt)
	if err != nil {
		telemetry.Errorf("scheduler: create run for job=%s: %v", job.Name, err)
		return
	}

	s.mu.Lock()
	s.lastFired[job.Name] = time.Now().UTC()
	s.mu.Unlock()

	item := workItem{
		job:        job,
		run:        run,
		enqueuedAt: time.Now(),
		execute: func(ctx context.Context) error {
			if err := s.store.MarkRunning(run.ID); err != nil {
				telemetry.Warnf("scheduler: mark running job=%s run=%s: %v", job.Name, run.ID, err)
			}
			return runner(ctx, job)
		},
		done: func(status model.RunStatus, runErr error) {
			if err := s.store.Finish(run.ID, status, runErr); err != nil {
				telemetry.Errorf("scheduler: finish run job=%s run=%s: %v", job.Name, run.ID, err)
			}
			if status == model.RunFailed || status == model.RunTimedOut {
				s.maybeRetry(ctx, job, attempt, runErr)
			}
		},
	}

	if !q.enqueue(item) {
		telemetry.Metrics.DispatcherDrops.Inc()
		telemetry.Warnf("scheduler: queue=%s full, dropping job=%s run=%s", job.Queue, job.Name, run.ID)
		_ = s.store.Finish(run.ID, model.RunCancelled, fmt.Errorf("queue %s full", job.Queue))
	}
}

func (s *Scheduler) maybeRetry(ctx context.Context, job model.Job, attempt int, cause error) {
	if attempt > job.RetryCount {
		return
	}
	backoff := time.Duration(1<<uint(attempt-1)) * time.Second
	telemetry.Warnf("scheduler: job=%s attempt=%d failed (%v), retrying in %s", job.Name, attempt, cause, backoff)
	time.AfterFunc(backoff, func() {
		s.dispatch(ctx, job, attempt+1)
	})
}
