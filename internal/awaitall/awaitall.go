// Package awaitall provides the run-everything-then-branch combinator
// used at every concurrent fan-out point in the mutation engine. Unlike
// errgroup, it never fails fast: all tasks run to completion and every
// failure is reported, so a request touching N fields always surfaces
// the complete failure set.
package awaitall

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"list-mutator/internal/merr"
)

// Task produces one value of a concurrent batch.
type Task[T any] func(ctx context.Context) (T, error)

// All runs every task concurrently and waits for the whole batch to
// settle. If every task succeeded the values are returned in task
// order. If two or more failed, a single MutationError carrying the
// ordered failure reasons is returned and successful values are
// discarded. A sole typed failure is returned as-is so its kind and
// field attribution survive the fan-out; only untyped lone failures
// are wrapped.
func All[T any](ctx context.Context, tasks []Task[T]) ([]T, error) {
	if len(tasks) == 0 {
		return nil, nil
	}

	results := make([]T, len(tasks))
	failures := make([]error, len(tasks))

	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task Task[T]) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					failures[i] = fmt.Errorf("task panicked: %v", r)
				}
			}()
			results[i], failures[i] = task(ctx)
		}(i, task)
	}
	wg.Wait()

	reasons := make([]error, 0, len(tasks))
	for _, failure := range failures {
		if failure != nil {
			reasons = append(reasons, failure)
		}
	}
	if len(reasons) == 1 {
		var me *merr.Error
		if errors.As(reasons[0], &me) {
			return nil, reasons[0]
		}
	}
	if len(reasons) > 0 {
		return nil, merr.Aggregate(aggregateMessage(len(reasons), len(tasks)), reasons)
	}
	return results, nil
}

// Do is All for effect-only tasks.
func Do(ctx context.Context, tasks []func(ctx context.Context) error) error {
	wrapped := make([]Task[struct{}], len(tasks))
	for i, task := range tasks {
		wrapped[i] = func(ctx context.Context) (struct{}, error) {
			return struct{}{}, task(ctx)
		}
	}
	_, err := All(ctx, wrapped)
	return err
}

func aggregateMessage(failed, total int) string {
	if failed == 1 {
		return fmt.Sprintf("1 of %d operations failed", total)
	}
	return fmt.Sprintf("%d of %d operations failed", failed, total)
}
