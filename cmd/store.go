package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/citylens/citysync/internal/etl"
	"github.com/citylens/citysync/internal/store"
)

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	return store.Open(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns)
}

// openSession opens the pool and wires the shared session; the returned
// closer releases the pool.
func openSession(ctx context.Context) (*etl.Session, func(), error) {
	pool, err := openPool(ctx)
	if err != nil {
		return nil, nil, err
	}
	return etl.NewSession(cfg, pool), pool.Close, nil
}
