// Package snapshot reduces append-only history to its current view: for each
// partition, the rows belonging to the most recent k scrapes. Facts and
// weather use k=1; flights use k=2 so both window fetches of a scheduling day
// survive.
package snapshot

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/citylens/citysync/internal/db"
	"github.com/citylens/citysync/internal/model"
)

// Latest keeps the rows whose order value ranks among the k highest distinct
// order values within their partition. All rows sharing one of those order
// values are kept, so a scrape that produced several rows survives whole.
// Input order is preserved.
func Latest[T any, K comparable](rows []T, partitionOf func(T) K, orderOf func(T) int64, k int) []T {
	if k <= 0 || len(rows) == 0 {
		return nil
	}

	distinct := make(map[K][]int64)
	for _, r := range rows {
		p := partitionOf(r)
		v := orderOf(r)
		vals := distinct[p]
		found := false
		for _, existing := range vals {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			distinct[p] = append(vals, v)
		}
	}

	keep := make(map[K]map[int64]bool, len(distinct))
	for p, vals := range distinct {
		sort.Slice(vals, func(i, j int) bool { return vals[i] > vals[j] })
		if len(vals) > k {
			vals = vals[:k]
		}
		set := make(map[int64]bool, len(vals))
		for _, v := range vals {
			set[v] = true
		}
		keep[p] = set
	}

	out := make([]T, 0, len(rows))
	for _, r := range rows {
		if keep[partitionOf(r)][orderOf(r)] {
			out = append(out, r)
		}
	}
	return out
}

// LatestFacts returns, per (city, measure), the fact rows of the most recent
// scrape.
func LatestFacts(ctx context.Context, pool db.Pool) ([]model.Fact, error) {
	rows, err := pool.Query(ctx, `
		SELECT f.scrape, f.city, f.measure, f.value, f.meta
		FROM fact f
		WHERE NOT EXISTS (
			SELECT 1 FROM fact newer
			WHERE newer.city = f.city
			  AND newer.measure = f.measure
			  AND newer.scrape > f.scrape
		)
		ORDER BY f.city, f.measure`)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: query latest facts")
	}
	defer rows.Close()

	var out []model.Fact
	for rows.Next() {
		var f model.Fact
		if err := rows.Scan(&f.Scrape, &f.City, &f.Measure, &f.Value, &f.Meta); err != nil {
			return nil, eris.Wrap(err, "snapshot: scan fact row")
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "snapshot: read latest facts")
	}
	return out, nil
}

// LatestWeather returns, per (city, dt), the weather reading of the most
// recent scrape.
func LatestWeather(ctx context.Context, pool db.Pool) ([]model.WeatherReading, error) {
	rows, err := pool.Query(ctx, `
		SELECT w.scrape, w.city, w.dt,
		       w.t_celsius, w.t_feelslike_celsius,
		       w.wind_speed_mps, w.wind_gust_mps,
		       w.rain_3h_mm, w.snow_3h_mm
		FROM weather w
		WHERE NOT EXISTS (
			SELECT 1 FROM weather newer
			WHERE newer.city = w.city
			  AND newer.dt = w.dt
			  AND newer.scrape > w.scrape
		)
		ORDER BY w.city, w.dt`)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: query latest weather")
	}
	defer rows.Close()

	var out []model.WeatherReading
	for rows.Next() {
		var w model.WeatherReading
		err := rows.Scan(&w.Scrape, &w.City, &w.DT,
			&w.TempC, &w.FeelsLikeC,
			&w.WindSpeedMPS, &w.WindGustMPS,
			&w.Rain3hMM, &w.Snow3hMM)
		if err != nil {
			return nil, eris.Wrap(err, "snapshot: scan weather row")
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "snapshot: read latest weather")
	}
	return out, nil
}

// LatestFlights returns, per origin airport, the flight rows of the two most
// recent scrapes. A scheduling day is fetched as two 12h windows, one scrape
// each, so the current day needs both.
func LatestFlights(ctx context.Context, pool db.Pool) ([]model.Flight, error) {
	rows, err := pool.Query(ctx, `
		WITH ranked AS (
			SELECT origin_icao, scrape,
			       ROW_NUMBER() OVER (PARTITION BY origin_icao ORDER BY scrape DESC) AS rnk
			FROM (SELECT DISTINCT origin_icao, scrape FROM flight) s
		)
		SELECT fl.scrape, fl.origin_icao, fl.scheduled_time,
		       fl.destination_icao, fl.destination_name, fl.number, fl.type
		FROM flight fl
		JOIN ranked r ON r.origin_icao = fl.origin_icao AND r.scrape = fl.scrape
		WHERE r.rnk <= 2
		ORDER BY fl.origin_icao, fl.scheduled_time`)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: query latest flights")
	}
	defer rows.Close()

	var out []model.Flight
	for rows.Next() {
		var f model.Flight
		var direction string
		err := rows.Scan(&f.Scrape, &f.OriginICAO, &f.ScheduledTime,
			&f.DestinationICAO, &f.DestinationName, &f.Number, &direction)
		if err != nil {
			return nil, eris.Wrap(err, "snapshot: scan flight row")
		}
		f.Direction = model.Direction(direction)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "snapshot: read latest flights")
	}
	return out, nil
}
