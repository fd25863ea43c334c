package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique-constraint errors.
const uniqueViolation = "23505"

// CopyFrom bulk-inserts rows into a table using the PostgreSQL COPY protocol.
// A single COPY is atomic, so one call is one transactional unit.
func CopyFrom(ctx context.Context, pool Pool, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	copySource := pgx.CopyFromRows(rows)
	n, err := pool.CopyFrom(ctx, pgx.Identifier{table}, columns, copySource)
	if err != nil {
		if IsIntegrityViolation(err) {
			return 0, eris.Wrapf(err, "db: integrity violation on COPY INTO %s", table)
		}
		return 0, eris.Wrapf(err, "db: COPY INTO %s", table)
	}

	return n, nil
}

// IsIntegrityViolation reports whether err is a unique-constraint violation.
// Under the application-level dedup rules this should never happen; when it
// does it indicates a stale key snapshot or a concurrency bug and must stay
// loud rather than be masked.
func IsIntegrityViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
