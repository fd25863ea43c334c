// Package etl orchestrates source runs: shared session state, the source
// registry, the run engine and the etl_run log.
package etl

import (
	"sync"
	"time"

	"github.com/citylens/citysync/internal/config"
	"github.com/citylens/citysync/internal/db"
	"github.com/citylens/citysync/internal/fetcher"
	"github.com/citylens/citysync/internal/ledger"
	"github.com/citylens/citysync/internal/schedule"
	"github.com/citylens/citysync/internal/store"
)

// Session bundles the state shared by every source during one process
// lifetime: the connection pool, the scrape ledger, the response cache, the
// HTTP client and the store reads. The scheduler is built lazily; loading the
// timezone polygon index is not free and only the flight source needs it.
type Session struct {
	Cfg    *config.Config
	Pool   db.Pool
	Ledger *ledger.Ledger
	Cache  *fetcher.Cache
	Client *fetcher.Client
	Store  *store.Store

	// Now is swappable for tests; it anchors flight window computation.
	Now func() time.Time

	schedOnce sync.Once
	sched     *schedule.Scheduler
	schedErr  error
}

// NewSession wires a session from config and an open pool.
func NewSession(cfg *config.Config, pool db.Pool) *Session {
	led := ledger.New(pool, cfg.Fetch.SecretParams)
	client := fetcher.NewClient(fetcher.Options{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      cfg.Fetch.Timeout(),
		MaxRetries:   cfg.Fetch.MaxRetries,
		RateLimits:   fetcher.DefaultRateLimits(),
		SecretParams: cfg.Fetch.SecretParams,
	})
	return &Session{
		Cfg:    cfg,
		Pool:   pool,
		Ledger: led,
		Cache:  fetcher.NewCache(led, cfg.Fetch.Cache),
		Client: client,
		Store:  store.New(pool),
		Now:    time.Now,
	}
}

// SetScheduler replaces the lazily built scheduler, bypassing the timezone
// index load. Tests inject a stub resolver this way.
func (s *Session) SetScheduler(sched *schedule.Scheduler) {
	s.schedOnce.Do(func() {})
	s.sched = sched
	s.schedErr = nil
}

// Scheduler returns the flight window scheduler, building the timezone
// resolver on first use.
func (s *Session) Scheduler() (*schedule.Scheduler, error) {
	s.schedOnce.Do(func() {
		resolver, err := schedule.NewTZFResolver()
		if err != nil {
			s.schedErr = err
			return
		}
		s.sched = schedule.New(resolver)
	})
	return s.sched, s.schedErr
}
