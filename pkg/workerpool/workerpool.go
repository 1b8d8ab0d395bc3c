// Package workerpool bounds concurrent work over a list of items. The
// nightly pipeline uses it to run its markets in parallel; the leads
// within one market are processed one after another.
package workerpool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Run executes fn(item) for every item in items, at most concurrency at a
// time, and returns the first error encountered. The remaining in-flight
// items run to completion; queued-but-not-started items are skipped once
// ctx is cancelled (errgroup's derived context is cancelled on first error
// or external ctx cancellation).
func Run[T any](ctx context.Context, concurrency int, items []T, fn func(ctx context.Context, item T) error) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, item := range items {
		item := item
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			return fn(gctx, item)
		})
	}
	return g.Wait()
}

// RunCollect is Run, but collects the per-item result alongside any error
// instead of discarding it, for callers that need a per-item outcome
// (e.g. a followup run summary) rather than a single pass/fail.
func RunCollect[T, R any](ctx context.Context, concurrency int, items []T, fn func(ctx context.Context, item T) (R, error)) ([]R, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	results := make([]R, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			r, err := fn(gctx, item)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
