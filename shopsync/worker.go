// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package shopsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// WorkerPool executes due offline records with independent workers pulling
// from the durable queue. Workers are uncoordinated; exclusivity per record
// comes from the scheduler's claim CAS, and no ordering is guaranteed
// between records.
type WorkerPool struct {
	scheduler    *Scheduler
	workers      int
	pollInterval time.Duration
	batchSize    int
	logger       *slog.Logger
}

// NewWorkerPool creates a pool of n workers polling every pollInterval.
func NewWorkerPool(scheduler *Scheduler, workers int, pollInterval time.Duration, logger *slog.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		scheduler:    scheduler,
		workers:      workers,
		pollInterval: pollInterval,
		batchSize:    32,
		logger:       logger,
	}
}

// Run blocks until ctx is cancelled, executing due records as they become
// available. Transient attempt failures stay inside the loop; only starting
// errors surface.
func (p *WorkerPool) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.workerLoop(ctx, id)
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

func (p *WorkerPool) workerLoop(ctx context.Context, id int) {
	logger := p.logger.With("worker", id)
	for {
		n, err := p.Drain(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			logger.Error("Worker poll failed", "error", err)
		}
		if n == 0 {
			if err := sleepWithContext(ctx, p.pollInterval); err != nil {
				return
			}
		}
	}
}

// Drain executes every currently due record once and returns how many were
// picked up. Losing a claim race to another worker is not an error.
func (p *WorkerPool) Drain(ctx context.Context) (int, error) {
	due, err := p.scheduler.Store().ListDueRecords(ctx, time.Now(), p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list due records: %w", err)
	}
	executed := 0
	for _, rec := range due {
		if ctx.Err() != nil {
			return executed, ctx.Err()
		}
		err := p.scheduler.Execute(ctx, rec.ID)
		switch {
		case err == nil:
			executed++
		case errors.Is(err, ErrRecordBusy):
			// Another worker claimed it first.
		default:
			var terr *TransientProcessingError
			if errors.As(err, &terr) {
				// Failed attempt already parked with backoff by the scheduler.
				executed++
				continue
			}
			return executed, err
		}
	}
	return executed, nil
}
