package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/citylens/citysync/internal/config"
	"github.com/citylens/citysync/internal/etl"
	"github.com/citylens/citysync/internal/loader"
	"github.com/citylens/citysync/internal/model"
	"github.com/citylens/citysync/internal/normalize"
	"github.com/citylens/citysync/internal/schedule"
)

func rapidAPIHeaders(cfg config.AeroDataBoxConfig) map[string]string {
	return map[string]string{
		"X-RapidAPI-Key":  cfg.Key,
		"X-RapidAPI-Host": cfg.Host,
	}
}

// airportSearchPayload is the search-by-location response.
type airportSearchPayload struct {
	Items []struct {
		ICAO     string `json:"icao"`
		IATA     string `json:"iata"`
		Name     string `json:"name"`
		Location struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
		} `json:"location"`
	} `json:"items"`
}

// Airports discovers airports near every persisted city and records the
// city-airport association with the geodesic distance. The same airport found
// near two cities inserts once but associates twice.
type Airports struct{}

func (s *Airports) Name() string { return "airports" }

func (s *Airports) Run(ctx context.Context, session *etl.Session) (*etl.Result, error) {
	log := zap.L().With(zap.String("component", "source.airports"))
	result := &etl.Result{}

	cities, err := session.Store.Cities(ctx)
	if err != nil {
		return result, err
	}

	var located []model.City
	for _, c := range cities {
		if c.Latitude == nil || c.Longitude == nil {
			result.Gaps++
			continue
		}
		located = append(located, c)
	}

	var mu sync.Mutex
	var airports []model.AirportCandidate
	var associations []model.CityAirportCandidate

	fanErr := etl.ForEach(ctx, session.Cfg.Fetch.Concurrency, located, func(ctx context.Context, city model.City) error {
		found, idx, err := s.search(ctx, session, city)
		if err != nil {
			log.Warn("airport search failed", zap.String("city", city.Name), zap.Error(err))
			mu.Lock()
			result.Transient++
			mu.Unlock()
			return nil
		}

		mu.Lock()
		defer mu.Unlock()
		result.Fetched++
		for _, a := range found {
			airports = append(airports, a)
			associations = append(associations, model.CityAirportCandidate{
				LedgerIndex: idx,
				City:        city.ID,
				ICAO:        a.ICAO,
				DistanceKM:  normalize.HaversineKM(*city.Latitude, *city.Longitude, a.Latitude, a.Longitude),
			})
		}
		return nil
	})
	if fanErr != nil {
		return result, fanErr
	}

	sort.Slice(airports, func(i, j int) bool { return airports[i].ICAO < airports[j].ICAO })
	sort.Slice(associations, func(i, j int) bool {
		if associations[i].City != associations[j].City {
			return associations[i].City < associations[j].City
		}
		return associations[i].ICAO < associations[j].ICAO
	})

	existingAirports, err := session.Store.AirportKeys(ctx)
	if err != nil {
		return result, err
	}
	inserted, err := loader.UpsertEntities(ctx, session.Pool, session.Ledger, loader.Airports(), airports, existingAirports)
	if err != nil {
		return result, err
	}
	result.Loaded += inserted

	existingAssociations, err := session.Store.CityAirportKeys(ctx)
	if err != nil {
		return result, err
	}
	inserted, err = loader.UpsertEntities(ctx, session.Pool, session.Ledger, loader.CityAirports(), associations, existingAssociations)
	if err != nil {
		return result, err
	}
	result.Loaded += inserted

	return result, nil
}

func (s *Airports) search(ctx context.Context, session *etl.Session, city model.City) ([]model.AirportCandidate, int, error) {
	cfg := session.Cfg.AeroDataBox

	query := url.Values{}
	query.Set("lat", fmt.Sprintf("%g", *city.Latitude))
	query.Set("lon", fmt.Sprintf("%g", *city.Longitude))
	query.Set("radiusKm", fmt.Sprintf("%g", cfg.RadiusKM))
	query.Set("limit", fmt.Sprintf("%d", cfg.Limit))
	query.Set("withFlightInfoOnly", "true")
	fetchURL := fmt.Sprintf("%s/airports/search/location?%s", cfg.BaseURL, query.Encode())

	body, idx, err := session.Cache.GetOrFetch(ctx, fetchURL, func(ctx context.Context) ([]byte, error) {
		return session.Client.GetJSON(ctx, fetchURL, rapidAPIHeaders(cfg))
	})
	if err != nil {
		return nil, 0, err
	}

	var payload airportSearchPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, 0, eris.Wrapf(err, "source: decode airport search for %s", city.Name)
	}

	out := make([]model.AirportCandidate, 0, len(payload.Items))
	for _, item := range payload.Items {
		if item.ICAO == "" {
			continue
		}
		out = append(out, model.AirportCandidate{
			LedgerIndex: idx,
			ICAO:        item.ICAO,
			IATA:        item.IATA,
			Name:        item.Name,
			Latitude:    item.Location.Lat,
			Longitude:   item.Location.Lon,
		})
	}
	return out, idx, nil
}

// schedulePayload is the flight-schedule response for one window.
type schedulePayload struct {
	Departures []flightItem `json:"departures"`
	Arrivals   []flightItem `json:"arrivals"`
}

type flightItem struct {
	Number    string      `json:"number"`
	Departure flightPoint `json:"departure"`
	Arrival   flightPoint `json:"arrival"`
}

type flightPoint struct {
	ScheduledTime struct {
		UTC string `json:"utc"`
	} `json:"scheduledTime"`
	Airport struct {
		ICAO string `json:"icao"`
		Name string `json:"name"`
	} `json:"airport"`
}

// parseScheduleTime accepts the API's "2026-03-02 05:35Z" form as well as
// full RFC 3339.
func parseScheduleTime(s string) (time.Time, error) {
	s = strings.Replace(s, " ", "T", 1)
	for _, layout := range []string{"2006-01-02T15:04Z07:00", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("source: unparseable schedule time %q", s)
}

// Flights fetches tomorrow's schedule for every persisted airport, two
// half-day windows per airport in the airport's local wall clock. A failed
// window is a transient loss; the other window still loads.
type Flights struct{}

func (s *Flights) Name() string { return "flights" }

func (s *Flights) Run(ctx context.Context, session *etl.Session) (*etl.Result, error) {
	log := zap.L().With(zap.String("component", "source.flights"))
	result := &etl.Result{}

	airports, err := session.Store.Airports(ctx)
	if err != nil {
		return result, err
	}
	scheduler, err := session.Scheduler()
	if err != nil {
		return result, err
	}

	now := session.Now()

	var mu sync.Mutex
	var candidates []model.FlightCandidate

	fanErr := etl.ForEach(ctx, session.Cfg.Fetch.Concurrency, airports, func(ctx context.Context, airport model.Airport) error {
		windows, err := scheduler.Windows(now, airport.Latitude, airport.Longitude)
		if err != nil {
			log.Warn("window computation failed", zap.String("icao", airport.ICAO), zap.Error(err))
			mu.Lock()
			result.Gaps++
			mu.Unlock()
			return nil
		}

		for _, window := range windows {
			rows, gaps, err := s.fetchWindow(ctx, session, airport, window)
			if err != nil {
				log.Warn("flight window fetch failed",
					zap.String("icao", airport.ICAO),
					zap.String("from", window.From.Format(schedule.Layout)),
					zap.Error(err),
				)
				mu.Lock()
				result.Transient++
				mu.Unlock()
				continue
			}
			mu.Lock()
			result.Fetched++
			result.Gaps += gaps
			candidates = append(candidates, rows...)
			mu.Unlock()
		}
		return nil
	})
	if fanErr != nil {
		return result, fanErr
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].OriginICAO != candidates[j].OriginICAO {
			return candidates[i].OriginICAO < candidates[j].OriginICAO
		}
		return candidates[i].ScheduledTime.Before(candidates[j].ScheduledTime)
	})

	inserted, err := loader.AppendHistory(ctx, session.Pool, session.Ledger, loader.Flights(), candidates)
	if err != nil {
		return result, err
	}
	result.Loaded = inserted
	return result, nil
}

func (s *Flights) fetchWindow(ctx context.Context, session *etl.Session, airport model.Airport, window schedule.Window) ([]model.FlightCandidate, int, error) {
	cfg := session.Cfg.AeroDataBox

	query := url.Values{}
	query.Set("withLeg", "true")
	query.Set("withCancelled", "false")
	query.Set("withCodeshared", "true")
	query.Set("withCargo", "false")
	query.Set("withPrivate", "false")
	query.Set("withLocation", "false")
	fetchURL := fmt.Sprintf("%s/flights/airports/icao/%s/%s/%s?%s",
		cfg.BaseURL, airport.ICAO,
		window.From.Format(schedule.Layout), window.To.Format(schedule.Layout),
		query.Encode())

	body, idx, err := session.Cache.GetOrFetch(ctx, fetchURL, func(ctx context.Context) ([]byte, error) {
		return session.Client.GetJSON(ctx, fetchURL, rapidAPIHeaders(cfg))
	})
	if err != nil {
		return nil, 0, err
	}
	// 204 No Content: no movements in this window.
	if body == nil {
		return nil, 0, nil
	}

	var payload schedulePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, 0, eris.Wrapf(err, "source: decode schedule for %s", airport.ICAO)
	}

	var rows []model.FlightCandidate
	gaps := 0
	collect := func(items []flightItem, direction model.Direction) {
		for _, item := range items {
			this, other := item.Departure, item.Arrival
			if direction == model.Arrival {
				this, other = item.Arrival, item.Departure
			}

			scheduled, err := parseScheduleTime(this.ScheduledTime.UTC)
			if err != nil || other.Airport.Name == "" {
				gaps++
				continue
			}

			var destICAO *string
			if other.Airport.ICAO != "" {
				icao := other.Airport.ICAO
				destICAO = &icao
			}

			rows = append(rows, model.FlightCandidate{
				LedgerIndex:     idx,
				OriginICAO:      airport.ICAO,
				ScheduledTime:   scheduled,
				DestinationICAO: destICAO,
				DestinationName: other.Airport.Name,
				Number:          item.Number,
				Direction:       direction,
			})
		}
	}
	collect(payload.Departures, model.Departure)
	collect(payload.Arrivals, model.Arrival)

	return rows, gaps, nil
}
