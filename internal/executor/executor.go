// Package executor runs a task over a slice with bounded parallelism.
package executor

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Executor runs tasks over items of type T producing results of type R.
type Executor[T, R any] struct {
	limit  int
	logger *slog.Logger
}

// New creates an Executor running at most limit tasks at once.
// A limit below one is treated as one.
func New[T, R any](limit int, logger *slog.Logger) *Executor[T, R] {
	return &Executor[T, R]{
		limit:  max(1, limit),
		logger: logger.With("component", "executor"),
	}
}

// Limit returns the effective worker count.
func (e *Executor[T, R]) Limit() int { return e.limit }

// Run calls task for every item and returns the results in input order.
// A failing item is logged and left at R's zero value; its siblings keep
// running. Items not yet dispatched when ctx is done are skipped.
func (e *Executor[T, R]) Run(ctx context.Context, items []T, task func(context.Context, T) (R, error)) []R {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results
	}

	var g errgroup.Group
	g.SetLimit(e.limit)

	for i, item := range items {
		if ctx.Err() != nil {
			e.logger.Debug("dispatch stopped", "remaining", len(items)-i, "err", ctx.Err())
			break
		}
		g.Go(func() error {
			r, err := task(ctx, item)
			if err != nil {
				e.logger.Error("task failed", "index", i, "err", err)
				return nil
			}
			results[i] = r
			return nil
		})
	}

	_ = g.Wait()
	return results
}
