// Package worker executes queued audit runs.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit-crawler/internal/crawler"
	"github.com/JakeFAU/site-audit-crawler/internal/metrics"
)

// Runner executes one run to completion or suspension.
type Runner interface {
	Run(ctx context.Context, runID string) (crawler.AuditRun, error)
}

// Lock retry defaults. A lock usually outlives its loop only by the unlock
// round trip, so a few short retries cover it.
const (
	DefaultLockRetryDelay = 250 * time.Millisecond
	DefaultLockRetries    = 40
)

// Worker consumes queue items and runs each under the run's lock.
type Worker struct {
	id             int
	queue          crawler.Queue
	runner         Runner
	locker         crawler.Locker
	lockRetryDelay time.Duration
	lockRetries    int
	logger         *zap.Logger
}

// Option customizes a Worker.
type Option func(*Worker)

// WithLockRetry sets how long a worker waits before putting back an item
// whose run is locked, and how many times it does so before giving up.
func WithLockRetry(delay time.Duration, retries int) Option {
	return func(w *Worker) {
		w.lockRetryDelay = delay
		w.lockRetries = retries
	}
}

// New constructs a Worker.
func New(id int, queue crawler.Queue, runner Runner, locker crawler.Locker, logger *zap.Logger, opts ...Option) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Worker{
		id:             id,
		queue:          queue,
		runner:         runner,
		locker:         locker,
		lockRetryDelay: DefaultLockRetryDelay,
		lockRetries:    DefaultLockRetries,
		logger:         logger.With(zap.Int("worker", id)),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued run", zap.String("run_id", item.RunID), zap.Bool("resume", item.Resume))
		w.Process(ctx, item)
	}
}

// Process runs one queue item. An item whose run is locked is put back on the
// queue after a delay: the holder may be a loop that is just exiting, as when
// a resume follows a pause.
func (w *Worker) Process(ctx context.Context, item crawler.QueueItem) {
	logger := w.logger.With(zap.String("run_id", item.RunID))
	if w.runner == nil {
		logger.Error("no runner configured")
		return
	}

	if w.locker != nil {
		unlock, ok, err := w.locker.TryLock(ctx, item.RunID)
		if err != nil {
			logger.Error("run lock failed", zap.Error(err))
			return
		}
		if !ok {
			w.requeue(ctx, item, logger)
			return
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("run unlock failed", zap.Error(err))
			}
		}()
	}

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	start := time.Now()
	run, err := w.runner.Run(ctx, item.RunID)
	fields := []zap.Field{
		zap.String("status", string(run.Status)),
		zap.Int("pages", len(run.Pages)),
		zap.Duration("elapsed", time.Since(start)),
	}
	switch {
	case err == nil:
		logger.Info("run processed", fields...)
	case errors.Is(err, crawler.ErrNotFound), errors.Is(err, crawler.ErrConflict):
		logger.Warn("run skipped", append(fields, zap.Error(err))...)
	default:
		logger.Error("run failed", append(fields, zap.Error(err))...)
	}
}

// requeue puts item back after the lock retry delay without blocking the
// worker. Items past the retry budget are dropped.
func (w *Worker) requeue(ctx context.Context, item crawler.QueueItem, logger *zap.Logger) {
	if item.Attempts >= w.lockRetries {
		logger.Warn("run still locked, dropping item", zap.Int("attempts", item.Attempts), zap.Bool("resume", item.Resume))
		return
	}
	item.Attempts++
	logger.Debug("run locked, requeueing item", zap.Int("attempt", item.Attempts))
	go func() {
		timer := time.NewTimer(w.lockRetryDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if err := w.queue.Enqueue(ctx, item); err != nil && ctx.Err() == nil {
			logger.Warn("requeue locked run failed", zap.Error(err))
		}
	}()
}
