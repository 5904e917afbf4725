// Package workerpool runs independent units of work with bounded parallelism.
package workerpool

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Config configures the pool.
type Config struct {
	MaxConcurrent int // Maximum units in flight (default: 8)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 8,
	}
}

// Pool bounds how many work items run at once. Results are collected as they
// complete, so a slow item never holds back the start of the next one.
type Pool struct {
	sem    *semaphore.Weighted
	limit  int
	logger *zap.Logger
}

// New creates a pool.
func New(cfg Config, logger *zap.Logger) *Pool {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	return &Pool{
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		limit:  cfg.MaxConcurrent,
		logger: logger.Named("worker-pool"),
	}
}

// Limit returns the configured concurrency bound.
func (p *Pool) Limit() int {
	return p.limit
}

// WorkItem is a unit of work.
type WorkItem[T any] struct {
	ID      string                               // For logging/tracking
	Execute func(ctx context.Context) (T, error) // The work to be executed
}

// WorkResult is the result of one work item.
type WorkResult[T any] struct {
	ID     string
	Result T
	Err    error
}

// Process executes all items and returns their results in completion order.
// Every item produces exactly one result: items that never got a slot
// because ctx ended carry ctx.Err(), and a panicking item carries an error.
func Process[T any](
	ctx context.Context,
	pool *Pool,
	items []WorkItem[T],
	onProgress func(completed, total int),
) []WorkResult[T] {
	if len(items) == 0 {
		return nil
	}

	resultsChan := make(chan WorkResult[T], len(items))
	var wg sync.WaitGroup

	for _, item := range items {
		wg.Add(1)
		go func(item WorkItem[T]) {
			defer wg.Done()

			if err := pool.sem.Acquire(ctx, 1); err != nil {
				resultsChan <- WorkResult[T]{ID: item.ID, Err: err}
				return
			}
			defer pool.sem.Release(1)

			resultsChan <- run(ctx, pool.logger, item)
		}(item)
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	results := make([]WorkResult[T], 0, len(items))
	completed := 0
	for result := range resultsChan {
		results = append(results, result)
		completed++
		if onProgress != nil {
			onProgress(completed, len(items))
		}
	}
	return results
}

func run[T any](ctx context.Context, logger *zap.Logger, item WorkItem[T]) (res WorkResult[T]) {
	res.ID = item.ID
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Work item panicked",
				zap.String("id", item.ID),
				zap.Any("panic", r))
			res.Err = fmt.Errorf("work item %s panicked: %v", item.ID, r)
		}
	}()
	res.Result, res.Err = item.Execute(ctx)
	return res
}
