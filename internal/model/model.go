// Package model defines one typed record per persisted row. Entity rows
// (City, Measure, Airport, CityAirport) are deduplicated by natural key at
// load time; history rows (Fact, WeatherReading, Flight) are append-only and
// carry the scrape id that produced them.
package model

import "time"

// ScrapeRecord is one persisted external fetch: the redacted source URL and
// when it happened. Exactly one row exists per resolved ledger entry.
type ScrapeRecord struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
}

// City is an entity row; natural key is the NFC-normalized name.
type City struct {
	ID            int64    `json:"id"`
	Name          string   `json:"name"`
	Country       *string  `json:"country,omitempty"`
	Latitude      *float64 `json:"latitude,omitempty"`
	Longitude     *float64 `json:"longitude,omitempty"`
	BaseElevation *string  `json:"base_elevation,omitempty"`
	PeakElevation *string  `json:"peak_elevation,omitempty"`
}

// Measure is an entity row; natural key is (name, type). The type tag
// annotates how to interpret the stringified fact value.
type Measure struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Fact is a history row: one observed value of a measure for a city.
type Fact struct {
	Scrape  int64  `json:"scrape"`
	City    int64  `json:"city"`
	Measure int64  `json:"measure"`
	Value   string `json:"value"`
	Meta    []byte `json:"meta,omitempty"` // JSON, nullable
}

// FactCandidate is a Fact awaiting its scrape id; LedgerIndex refers to the
// run-local scrape ledger.
type FactCandidate struct {
	LedgerIndex int
	City        int64
	Measure     int64
	Value       string
	Meta        []byte
}

// WeatherReading is a history row: one forecast data point for a city.
type WeatherReading struct {
	Scrape        int64     `json:"scrape"`
	City          int64     `json:"city"`
	DT            time.Time `json:"dt"`
	TempC         float64   `json:"t_celsius"`
	FeelsLikeC    float64   `json:"t_feelslike_celsius"`
	WindSpeedMPS  float64   `json:"wind_speed_mps"`
	WindGustMPS   float64   `json:"wind_gust_mps"`
	Rain3hMM      float64   `json:"rain_3h_mm"`
	Snow3hMM      float64   `json:"snow_3h_mm"`
}

// WeatherCandidate is a WeatherReading awaiting its scrape id.
type WeatherCandidate struct {
	LedgerIndex  int
	City         int64
	DT           time.Time
	TempC        float64
	FeelsLikeC   float64
	WindSpeedMPS float64
	WindGustMPS  float64
	Rain3hMM     float64
	Snow3hMM     float64
}

// Airport is an entity row; natural key is the ICAO code. The scrape column
// records the fetch of first sighting.
type Airport struct {
	ICAO      string  `json:"icao"`
	Scrape    int64   `json:"scrape"`
	IATA      string  `json:"iata"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// AirportCandidate is an Airport awaiting its first-sighting scrape id.
type AirportCandidate struct {
	LedgerIndex int
	ICAO        string
	IATA        string
	Name        string
	Latitude    float64
	Longitude   float64
}

// CityAirport is an entity row associating a city with a nearby airport;
// natural key is (city, icao).
type CityAirport struct {
	Scrape     int64   `json:"scrape"`
	City       int64   `json:"city"`
	ICAO       string  `json:"icao"`
	DistanceKM float64 `json:"distance_km"`
}

// CityAirportCandidate is a CityAirport awaiting its scrape id.
type CityAirportCandidate struct {
	LedgerIndex int
	City        int64
	ICAO        string
	DistanceKM  float64
}

// Direction tells whether a flight row describes a departure from or an
// arrival at its origin airport.
type Direction string

const (
	Departure Direction = "departure"
	Arrival   Direction = "arrival"
)

// Flight is a history row: one scheduled movement at an origin airport.
type Flight struct {
	Scrape          int64     `json:"scrape"`
	OriginICAO      string    `json:"origin_icao"`
	ScheduledTime   time.Time `json:"scheduled_time"`
	DestinationICAO *string   `json:"destination_icao,omitempty"`
	DestinationName string    `json:"destination_name"`
	Number          string    `json:"number"`
	Direction       Direction `json:"type"`
}

// FlightCandidate is a Flight awaiting its scrape id.
type FlightCandidate struct {
	LedgerIndex     int
	OriginICAO      string
	ScheduledTime   time.Time
	DestinationICAO *string
	DestinationName string
	Number          string
	Direction       Direction
}
