// Package store owns the Postgres schema and the read side of it: key
// snapshots for entity dedup, measure lookup, and the destructive reset.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/citylens/citysync/internal/db"
	"github.com/citylens/citysync/internal/model"
)

// Open creates a connection pool and verifies it with a ping.
func Open(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, eris.New("store: no database_url configured (set store.database_url)")
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, eris.Wrap(err, "store: parse connection string")
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "store: create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "store: ping")
	}
	return pool, nil
}

// Store provides reads against the schema. Writes go through the loader.
type Store struct {
	pool db.Pool
}

func New(pool db.Pool) *Store {
	return &Store{pool: pool}
}

// Reset drops every table, children before parents. The scrape ledger must be
// reset afterwards; ids assigned before the drop no longer exist.
func Reset(ctx context.Context, pool db.Pool) error {
	log := zap.L().With(zap.String("component", "store"))
	log.Warn("dropping all tables")

	tables := []string{
		"flight", "city_airport", "airport",
		"weather", "fact", "measure", "city",
		"etl_run", "scrape", "schema_migrations",
	}
	for _, table := range tables {
		if _, err := pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", table)); err != nil {
			return eris.Wrapf(err, "store: drop table %s", table)
		}
	}
	return nil
}

// keySet runs a single-column query and collects the values into a set.
func (s *Store) keySet(ctx context.Context, sql string) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, eris.Wrapf(err, "store: query keys")
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, eris.Wrap(err, "store: scan key")
		}
		keys[k] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: read keys")
	}
	return keys, nil
}

// CityKeys returns the set of persisted city names.
func (s *Store) CityKeys(ctx context.Context) (map[string]struct{}, error) {
	return s.keySet(ctx, "SELECT name FROM city")
}

// AirportKeys returns the set of persisted airport ICAO codes.
func (s *Store) AirportKeys(ctx context.Context) (map[string]struct{}, error) {
	return s.keySet(ctx, "SELECT icao FROM airport")
}

// CityAirportKeys returns the set of persisted (city, icao) association keys,
// encoded the same way the loader encodes candidate keys.
func (s *Store) CityAirportKeys(ctx context.Context) (map[string]struct{}, error) {
	return s.keySet(ctx, "SELECT city::text || '|' || icao FROM city_airport")
}

// Cities returns all persisted cities.
func (s *Store) Cities(ctx context.Context) ([]model.City, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, country, latitude, longitude, base_elevation, peak_elevation
		FROM city ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "store: query cities")
	}
	defer rows.Close()

	var out []model.City
	for rows.Next() {
		var c model.City
		err := rows.Scan(&c.ID, &c.Name, &c.Country, &c.Latitude, &c.Longitude,
			&c.BaseElevation, &c.PeakElevation)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan city")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: read cities")
	}
	return out, nil
}

// Airports returns all persisted airports.
func (s *Store) Airports(ctx context.Context) ([]model.Airport, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT icao, scrape, iata, name, latitude, longitude
		FROM airport ORDER BY icao`)
	if err != nil {
		return nil, eris.Wrap(err, "store: query airports")
	}
	defer rows.Close()

	var out []model.Airport
	for rows.Next() {
		var a model.Airport
		if err := rows.Scan(&a.ICAO, &a.Scrape, &a.IATA, &a.Name, &a.Latitude, &a.Longitude); err != nil {
			return nil, eris.Wrap(err, "store: scan airport")
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: read airports")
	}
	return out, nil
}

// AirportsForCities returns the airports associated with the given city ids,
// keyed by city id.
func (s *Store) AirportsForCities(ctx context.Context, cityIDs []int64) (map[int64][]model.Airport, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ca.city, a.icao, a.scrape, a.iata, a.name, a.latitude, a.longitude
		FROM city_airport ca
		JOIN airport a ON a.icao = ca.icao
		WHERE ca.city = ANY($1)
		ORDER BY ca.city, a.icao`, cityIDs)
	if err != nil {
		return nil, eris.Wrap(err, "store: query city airports")
	}
	defer rows.Close()

	out := make(map[int64][]model.Airport)
	for rows.Next() {
		var city int64
		var a model.Airport
		err := rows.Scan(&city, &a.ICAO, &a.Scrape, &a.IATA, &a.Name, &a.Latitude, &a.Longitude)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan city airport")
		}
		out[city] = append(out[city], a)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: read city airports")
	}
	return out, nil
}

// CityAirports returns all persisted city-airport associations.
func (s *Store) CityAirports(ctx context.Context) ([]model.CityAirport, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT scrape, city, icao, distance_km
		FROM city_airport ORDER BY city, icao`)
	if err != nil {
		return nil, eris.Wrap(err, "store: query city airport associations")
	}
	defer rows.Close()

	var out []model.CityAirport
	for rows.Next() {
		var ca model.CityAirport
		if err := rows.Scan(&ca.Scrape, &ca.City, &ca.ICAO, &ca.DistanceKM); err != nil {
			return nil, eris.Wrap(err, "store: scan city airport association")
		}
		out = append(out, ca)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: read city airport associations")
	}
	return out, nil
}

// Measures returns all persisted measures.
func (s *Store) Measures(ctx context.Context) ([]model.Measure, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, name, type FROM measure ORDER BY id")
	if err != nil {
		return nil, eris.Wrap(err, "store: query measures")
	}
	defer rows.Close()

	var out []model.Measure
	for rows.Next() {
		var m model.Measure
		if err := rows.Scan(&m.ID, &m.Name, &m.Type); err != nil {
			return nil, eris.Wrap(err, "store: scan measure")
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: read measures")
	}
	return out, nil
}

// Scrapes returns the most recent scrape records, newest first.
func (s *Store) Scrapes(ctx context.Context, limit int) ([]model.ScrapeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, url, "timestamp" FROM scrape ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "store: query scrapes")
	}
	defer rows.Close()

	var out []model.ScrapeRecord
	for rows.Next() {
		var r model.ScrapeRecord
		if err := rows.Scan(&r.ID, &r.URL, &r.Timestamp); err != nil {
			return nil, eris.Wrap(err, "store: scan scrape")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: read scrapes")
	}
	return out, nil
}

// GetOrCreateMeasure returns the id of the (name, type) measure, inserting it
// on first use.
func (s *Store) GetOrCreateMeasure(ctx context.Context, name, typ string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		"SELECT id FROM measure WHERE name = $1 AND type = $2", name, typ,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, eris.Wrapf(err, "store: look up measure %s/%s", name, typ)
	}

	err = s.pool.QueryRow(ctx,
		"INSERT INTO measure (name, type) VALUES ($1, $2) RETURNING id", name, typ,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "store: create measure %s/%s", name, typ)
	}
	return id, nil
}
