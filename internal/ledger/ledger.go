// Package ledger tracks every external fetch made during a run and lazily
// maps each one to a persisted scrape row. Fetches that never reach the
// loader are never persisted.
package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/citylens/citysync/internal/db"
)

type entry struct {
	url string
	at  time.Time

	resolved bool
	id       int64
}

// Ledger is the run-scoped scrape ledger. Record is cheap and in-memory;
// Resolve performs exactly one insert per distinct index, serialized by a
// mutex so idempotence holds under concurrent extraction.
type Ledger struct {
	mu      sync.Mutex
	entries []entry
	pool    db.Pool
	secrets map[string]bool
}

// New creates a ledger writing scrape rows through pool. secretParams lists
// query-parameter names (case-insensitive) whose values are redacted before
// a URL is persisted or logged.
func New(pool db.Pool, secretParams []string) *Ledger {
	return &Ledger{pool: pool, secrets: SecretSet(secretParams)}
}

// Record appends a fetch observation and returns its run-local index.
func (l *Ledger) Record(url string, at time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry{url: url, at: at})
	return len(l.entries) - 1
}

// Resolve returns the persisted scrape id for a ledger index, inserting the
// scrape row on first resolution and caching the id for any later call.
func (l *Ledger) Resolve(ctx context.Context, index int) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resolveLocked(ctx, index)
}

// ResolveAll resolves a set of indexes in one pass, performing one insert
// per distinct unresolved index. The returned map covers every input index.
func (l *Ledger) ResolveAll(ctx context.Context, indexes []int) (map[int]int64, error) {
	distinct := make([]int, 0, len(indexes))
	seen := make(map[int]bool, len(indexes))
	for _, idx := range indexes {
		if !seen[idx] {
			seen[idx] = true
			distinct = append(distinct, idx)
		}
	}
	sort.Ints(distinct)

	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make(map[int]int64, len(distinct))
	for _, idx := range distinct {
		id, err := l.resolveLocked(ctx, idx)
		if err != nil {
			return nil, err
		}
		ids[idx] = id
	}
	return ids, nil
}

func (l *Ledger) resolveLocked(ctx context.Context, index int) (int64, error) {
	if index < 0 || index >= len(l.entries) {
		return 0, eris.Errorf("ledger: index %d out of range (have %d entries)", index, len(l.entries))
	}

	e := &l.entries[index]
	if e.resolved {
		return e.id, nil
	}

	redacted := Redact(e.url, l.secrets)
	var id int64
	err := l.pool.QueryRow(ctx,
		`INSERT INTO scrape (url, "timestamp") VALUES ($1, $2) RETURNING id`,
		redacted, e.at,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "ledger: insert scrape for %s", redacted)
	}

	e.resolved = true
	e.id = id
	return id, nil
}

// Reset clears all index-to-id mappings. Must be called after a destructive
// store reset, which invalidates every previously assigned scrape id. The
// recorded fetches themselves are kept so they can be re-resolved.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		l.entries[i].resolved = false
		l.entries[i].id = 0
	}
}

// Len returns the number of recorded fetches.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
