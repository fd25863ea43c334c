package etl

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ForEach runs fn over items with bounded concurrency. Sources use it for
// the fetch-and-normalize phase only; loads happen after it returns, so the
// loader never sees concurrent writers.
func ForEach[T any](ctx context.Context, limit int, items []T, fn func(ctx context.Context, item T) error) error {
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, item := range items {
		g.Go(func() error {
			return fn(ctx, item)
		})
	}
	return g.Wait()
}
