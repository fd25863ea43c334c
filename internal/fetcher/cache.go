package fetcher

import (
	"context"
	"sync"
	"time"

	"github.com/citylens/citysync/internal/ledger"
)

// FetchFunc performs the actual network call on a cache miss.
type FetchFunc func(ctx context.Context) ([]byte, error)

type cacheEntry struct {
	body  []byte
	index int
}

// Cache memoizes fetched responses by URL for the lifetime of the process.
// Every miss records a ledger entry; a hit returns the stored body and the
// original ledger index without touching the network or the ledger. Caching
// is opt-in and defaults to off, so repeated runs observe fresh data.
type Cache struct {
	mu      sync.Mutex
	enabled bool
	entries map[string]cacheEntry
	ledger  *ledger.Ledger
	now     func() time.Time
}

// NewCache creates a response cache bound to the given ledger.
func NewCache(led *ledger.Ledger, enabled bool) *Cache {
	return &Cache{
		enabled: enabled,
		ledger:  led,
		now:     time.Now,
	}
}

// GetOrFetch returns the cached (body, ledger index) for url, or invokes
// fetch, records the fetch in the ledger, stores the result when caching is
// enabled, and returns it. A missing or unusable cache degrades to plain
// fetching; it never fails the caller.
func (c *Cache) GetOrFetch(ctx context.Context, url string, fetch FetchFunc) ([]byte, int, error) {
	if c.enabled {
		c.mu.Lock()
		if c.entries != nil {
			if e, ok := c.entries[url]; ok {
				c.mu.Unlock()
				return e.body, e.index, nil
			}
		}
		c.mu.Unlock()
	}

	at := c.now()
	body, err := fetch(ctx)
	if err != nil {
		return nil, 0, err
	}

	index := c.ledger.Record(url, at)

	if c.enabled {
		c.mu.Lock()
		if c.entries == nil {
			c.entries = make(map[string]cacheEntry)
		}
		c.entries[url] = cacheEntry{body: body, index: index}
		c.mu.Unlock()
	}

	return body, index, nil
}
