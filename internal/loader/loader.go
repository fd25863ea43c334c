// Package loader performs all writes to the store. Entity tables are
// deduplicated by natural key in the application (set difference against a
// fresh snapshot of persisted keys, never per-row upsert SQL); history
// tables are append-only, every row stamped with the scrape id that
// produced it.
package loader

import (
	"context"

	"go.uber.org/zap"

	"github.com/citylens/citysync/internal/db"
	"github.com/citylens/citysync/internal/ledger"
)

// Spec describes how rows of type T map onto a table.
type Spec[T any] struct {
	Table   string
	Columns []string

	// Key returns the natural key used for entity dedup. Unset for
	// history tables.
	Key func(T) string

	// LedgerIndex returns the run-local scrape ledger index a row came
	// from. Unset for entity tables without a scrape column.
	LedgerIndex func(T) int

	// Values renders one row; scrapeID is 0 when LedgerIndex is unset.
	Values func(row T, scrapeID int64) []any
}

// UpsertEntities inserts the candidates whose natural key is neither already
// persisted (existing) nor already seen earlier in the same batch. First
// occurrence wins; an existing row always wins over a candidate, even when
// non-key attributes differ. Ledger indexes are resolved only for rows that
// actually get inserted, so skipped candidates cost no scrape storage.
// Returns the number of inserted rows.
func UpsertEntities[T any](ctx context.Context, pool db.Pool, led *ledger.Ledger, spec Spec[T], candidates []T, existing map[string]struct{}) (int64, error) {
	seen := make(map[string]struct{}, len(candidates))
	kept := make([]T, 0, len(candidates))
	skipped := 0

	for _, c := range candidates {
		key := spec.Key(c)
		if _, ok := existing[key]; ok {
			skipped++
			continue
		}
		if _, ok := seen[key]; ok {
			skipped++
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, c)
	}

	if skipped > 0 {
		zap.L().Debug("loader: skipped duplicate entity candidates",
			zap.String("table", spec.Table),
			zap.Int("skipped", skipped),
		)
	}
	if len(kept) == 0 {
		return 0, nil
	}

	var ids map[int]int64
	if spec.LedgerIndex != nil {
		indexes := make([]int, len(kept))
		for i, c := range kept {
			indexes[i] = spec.LedgerIndex(c)
		}
		var err error
		ids, err = led.ResolveAll(ctx, indexes)
		if err != nil {
			return 0, err
		}
	}

	rows := make([][]any, len(kept))
	for i, c := range kept {
		var scrapeID int64
		if spec.LedgerIndex != nil {
			scrapeID = ids[spec.LedgerIndex(c)]
		}
		rows[i] = spec.Values(c, scrapeID)
	}

	return db.CopyFrom(ctx, pool, spec.Table, spec.Columns, rows)
}

// AppendHistory resolves the ledger index of every row (batched, one insert
// per distinct index), stamps each row with its persisted scrape id and
// inserts all rows unconditionally. History is intentionally multi-valued
// over time; no dedup happens here.
func AppendHistory[T any](ctx context.Context, pool db.Pool, led *ledger.Ledger, spec Spec[T], rows []T) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	indexes := make([]int, len(rows))
	for i, r := range rows {
		indexes[i] = spec.LedgerIndex(r)
	}
	ids, err := led.ResolveAll(ctx, indexes)
	if err != nil {
		return 0, err
	}

	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = spec.Values(r, ids[spec.LedgerIndex(r)])
	}

	return db.CopyFrom(ctx, pool, spec.Table, spec.Columns, values)
}
