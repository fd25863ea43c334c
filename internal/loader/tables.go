package loader

import (
	"fmt"

	"github.com/citylens/citysync/internal/model"
	"github.com/citylens/citysync/internal/normalize"
)

// Cities maps city entity rows; natural key is the canonicalized name.
func Cities() Spec[model.City] {
	return Spec[model.City]{
		Table:   "city",
		Columns: []string{"name", "country", "latitude", "longitude", "base_elevation", "peak_elevation"},
		Key:     func(c model.City) string { return normalize.Name(c.Name) },
		Values: func(c model.City, _ int64) []any {
			return []any{c.Name, c.Country, c.Latitude, c.Longitude, c.BaseElevation, c.PeakElevation}
		},
	}
}

// Airports maps airport entity rows; natural key is the ICAO code. The
// scrape column records the fetch of first sighting.
func Airports() Spec[model.AirportCandidate] {
	return Spec[model.AirportCandidate]{
		Table:       "airport",
		Columns:     []string{"icao", "scrape", "iata", "name", "latitude", "longitude"},
		Key:         func(a model.AirportCandidate) string { return a.ICAO },
		LedgerIndex: func(a model.AirportCandidate) int { return a.LedgerIndex },
		Values: func(a model.AirportCandidate, scrapeID int64) []any {
			return []any{a.ICAO, scrapeID, a.IATA, a.Name, a.Latitude, a.Longitude}
		},
	}
}

// CityAirports maps city-airport association rows; natural key is the
// (city, icao) pair.
func CityAirports() Spec[model.CityAirportCandidate] {
	return Spec[model.CityAirportCandidate]{
		Table:       "city_airport",
		Columns:     []string{"scrape", "city", "icao", "distance_km"},
		Key:         func(ca model.CityAirportCandidate) string { return fmt.Sprintf("%d|%s", ca.City, ca.ICAO) },
		LedgerIndex: func(ca model.CityAirportCandidate) int { return ca.LedgerIndex },
		Values: func(ca model.CityAirportCandidate, scrapeID int64) []any {
			return []any{scrapeID, ca.City, ca.ICAO, ca.DistanceKM}
		},
	}
}

// Facts maps fact history rows.
func Facts() Spec[model.FactCandidate] {
	return Spec[model.FactCandidate]{
		Table:       "fact",
		Columns:     []string{"scrape", "city", "measure", "value", "meta"},
		LedgerIndex: func(f model.FactCandidate) int { return f.LedgerIndex },
		Values: func(f model.FactCandidate, scrapeID int64) []any {
			var meta any
			if f.Meta != nil {
				meta = f.Meta
			}
			return []any{scrapeID, f.City, f.Measure, f.Value, meta}
		},
	}
}

// Weather maps weather-reading history rows.
func Weather() Spec[model.WeatherCandidate] {
	return Spec[model.WeatherCandidate]{
		Table: "weather",
		Columns: []string{
			"scrape", "city", "dt",
			"t_celsius", "t_feelslike_celsius",
			"wind_speed_mps", "wind_gust_mps",
			"rain_3h_mm", "snow_3h_mm",
		},
		LedgerIndex: func(w model.WeatherCandidate) int { return w.LedgerIndex },
		Values: func(w model.WeatherCandidate, scrapeID int64) []any {
			return []any{
				scrapeID, w.City, w.DT,
				w.TempC, w.FeelsLikeC,
				w.WindSpeedMPS, w.WindGustMPS,
				w.Rain3hMM, w.Snow3hMM,
			}
		},
	}
}

// Flights maps flight history rows.
func Flights() Spec[model.FlightCandidate] {
	return Spec[model.FlightCandidate]{
		Table: "flight",
		Columns: []string{
			"scrape", "origin_icao", "scheduled_time",
			"destination_icao", "destination_name", "number", "type",
		},
		LedgerIndex: func(f model.FlightCandidate) int { return f.LedgerIndex },
		Values: func(f model.FlightCandidate, scrapeID int64) []any {
			return []any{
				scrapeID, f.OriginICAO, f.ScheduledTime,
				f.DestinationICAO, f.DestinationName, f.Number, string(f.Direction),
			}
		},
	}
}
