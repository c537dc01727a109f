package scheduler

import (
	"context"
	"time"

	"github.com/albapepper/ingestd/internal/model"
	"github.com/albapepper/ingestd/internal/telemetry"
)

// workItem is one dispatched job run sitting in a typed queue.
type workItem struct {
	job        model.Job
	run        model.JobRun
	enqueuedAt time.Time
	execute    func(ctx context.Context) error
	done       func(status model.RunStatus, err error)
}

// queueConfig describes one typed workload class.
type queueConfig struct {
	name    model.Queue
	maxLen  int
	ttl     time.Duration
	workers int
}

func defaultQueueConfigs() []queueConfig {
	return []queueConfig{
		{name: model.QueueLive, maxLen: 64, ttl: 20 * time.Second, workers: 4},
		{name: model.QueueFixtures, maxLen: 16, ttl: 5 * time.Minute, workers: 2},
		{name: model.QueuePrematch, maxLen: 16, ttl: 5 * time.Minute, workers: 2},
		{name: model.QueueFrames, maxLen: 32, ttl: 45 * time.Second, workers: 2},
		{name: model.QueueFinalizer, maxLen: 32, ttl: 2 * time.Minute, workers: 2},
		{name: model.QueueMaintenance, maxLen: 8, ttl: 30 * time.Minute, workers: 1},
	}
}

// workQueue is a bounded channel with a dedicated worker pool. A message
// that sits past its TTL before a worker picks it up is dropped and
// counted, never executed.
type workQueue struct {
	cfg queueConfig
	ch  chan workItem
}

func newWorkQueue(cfg queueConfig) *workQueue {
	return &workQueue{cfg: cfg, ch: make(chan workItem, cfg.maxLen)}
}

// enqueue returns false if the queue is full, in which case the caller
// must count the message as dropped.
func (q *workQueue) enqueue(item workItem) bool {
	select {
	case q.ch <- item:
		return true
	default:
		return false
	}
}

// start launches the queue's worker pool; each worker pulls items until
// ctx is cancelled.
func (q *workQueue) start(ctx context.Context) {
	for i := 0; i < q.cfg.workers; i++ {
		go q.worker(ctx)
	}
}

func (q *workQueue) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-q.ch:
			q.run(ctx, item)
		}
	}
}

func (q *workQueue) run(ctx context.Context, item workItem) {
	if time.Since(item.enqueuedAt) > q.cfg.ttl {
		telemetry.Metrics.DispatcherDrops.Inc()
		telemetry.Warnf("scheduler: job=%s run=%s dropped, TTL %s exceeded in queue=%s", item.job.Name, item.run.ID, q.cfg.ttl, q.cfg.name)
		item.done(model.RunCancelled, nil)
		return
	}

	hardCtx, cancel := context.WithTimeout(ctx, item.job.HardTimeLimit)
	defer cancel()

	start := time.Now()
	errCh := make(chan error, 1)
	go func() { errCh <- item.execute(hardCtx) }()

	select {
	case err := <-errCh:
		if err != nil {
			item.done(model.RunFailed, err)
			return
		}
		if d := time.Since(start); item.job.SoftTimeLimit > 0 && d > item.job.SoftTimeLimit {
			telemetry.Warnf("scheduler: job=%s run=%s exceeded soft time limit (%s > %s)", item.job.Name, item.run.ID, d, item.job.SoftTimeLimit)
		}
		item.done(model.RunSucceeded, nil)
	case <-hardCtx.Done():
		item.done(model.RunTimedOut, hardCtx.Err())
	}
}
