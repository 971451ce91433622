// Package workerpool bounds background fan-out on a shared ants pool
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// Task is one unit of background work
type Task func(ctx context.Context) error

// Pool runs tasks on a fixed number of goroutines
type Pool struct {
	pool   *ants.Pool
	logger *slog.Logger
}

// New creates a pool with size workers
func New(size int, logger *slog.Logger) (*Pool, error) {
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	return &Pool{
		pool:   pool,
		logger: logger,
	}, nil
}

// Submit runs task in the background; the result is only logged
func (p *Pool) Submit(ctx context.Context, name string, task Task) error {
	err := p.pool.Submit(func() {
		if err := task(ctx); err != nil {
			p.logger.Error("Background task failed", "task", name, "error", err)
		}
	})
	if err != nil {
		p.logger.Error("Failed to submit task to worker pool", "task", name, "error", err)
		return fmt.Errorf("failed to submit %s: %w", name, err)
	}
	return nil
}

// Run submits every task and waits for all of them. The returned error joins every task failure.
func (p *Pool) Run(ctx context.Context, tasks []Task) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for _, task := range tasks {
		task := task
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			if err := task(ctx); err != nil {
				record(err)
			}
		})
		if err != nil {
			wg.Done()
			record(fmt.Errorf("failed to submit task: %w", err))
		}
	}

	wg.Wait()
	return errors.Join(errs...)
}

// Shutdown releases the pool's goroutines
func (p *Pool) Shutdown() {
	p.logger.Info("Shutting down worker pool", "running_workers", p.pool.Running())
	p.pool.Release()
}

// Running returns the number of running workers in the pool
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Capacity returns the capacity of the worker pool
func (p *Pool) Capacity() int {
	return p.pool.Cap()
}
