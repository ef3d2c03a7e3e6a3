// Package dispatcher hands start and resume requests to a pool of run workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit-crawler/internal/crawler"
	"github.com/JakeFAU/site-audit-crawler/internal/metrics"
	"github.com/JakeFAU/site-audit-crawler/internal/worker"
)

// Config wires a Dispatcher.
type Config struct {
	Queue   crawler.Queue
	Workers []*worker.Worker
	Logger  *zap.Logger
}

// Dispatcher is the producer side of the run queue and the owner of the
// workers draining it. The audit service submits through Enqueue.
type Dispatcher struct {
	queue   crawler.Queue
	workers []*worker.Worker
	logger  *zap.Logger
}

// New validates cfg and returns a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Queue == nil {
		return nil, errors.New("dispatcher requires a queue")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Dispatcher{queue: cfg.Queue, workers: cfg.Workers, logger: cfg.Logger}, nil
}

// Run starts every worker and blocks until all of them return, which happens
// once ctx ends or the queue is closed.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started", zap.Int("workers", len(d.workers)))
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
	d.logger.Info("dispatcher stopped")
}

// Enqueue submits a run for execution. Items without a run id are rejected.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if item.RunID == "" {
		return errors.New("enqueue: run id is required")
	}
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("enqueue run %s: %w", item.RunID, err)
	}
	kind := "start"
	if item.Resume {
		kind = "resume"
	}
	metrics.ObserveRunQueued(kind)
	d.logger.Debug("run queued", zap.String("run_id", item.RunID), zap.String("kind", kind))
	return nil
}
