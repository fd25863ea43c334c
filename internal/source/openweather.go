package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/citylens/citysync/internal/etl"
	"github.com/citylens/citysync/internal/loader"
	"github.com/citylens/citysync/internal/model"
)

// forecastPayload is the 5-day/3-hour forecast response.
type forecastPayload struct {
	List []forecastEntry `json:"list"`
}

type forecastEntry struct {
	DT   int64 `json:"dt"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
		Gust  float64 `json:"gust"`
	} `json:"wind"`
	// Rain and snow blocks are absent in dry forecasts; absent means 0 mm.
	Rain *precipitation `json:"rain"`
	Snow *precipitation `json:"snow"`
}

type precipitation struct {
	ThreeH float64 `json:"3h"`
}

func (p *precipitation) mm() float64 {
	if p == nil {
		return 0
	}
	return p.ThreeH
}

// Weather ingests the forecast time series for every persisted city with
// coordinates. All readings are history rows; nothing is deduplicated.
type Weather struct{}

func (s *Weather) Name() string { return "weather" }

func (s *Weather) Run(ctx context.Context, session *etl.Session) (*etl.Result, error) {
	log := zap.L().With(zap.String("component", "source.weather"))
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
	var candidates []model.WeatherCandidate

	fanErr := etl.ForEach(ctx, session.Cfg.Fetch.Concurrency, located, func(ctx context.Context, city model.City) error {
		rows, err := s.fetchForecast(ctx, session, city)
		if err != nil {
			log.Warn("forecast fetch failed", zap.String("city", city.Name), zap.Error(err))
			mu.Lock()
			result.Transient++
			mu.Unlock()
			return nil
		}
		mu.Lock()
		result.Fetched++
		candidates = append(candidates, rows...)
		mu.Unlock()
		return nil
	})
	if fanErr != nil {
		return result, fanErr
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].City != candidates[j].City {
			return candidates[i].City < candidates[j].City
		}
		return candidates[i].DT.Before(candidates[j].DT)
	})

	inserted, err := loader.AppendHistory(ctx, session.Pool, session.Ledger, loader.Weather(), candidates)
	if err != nil {
		return result, err
	}
	result.Loaded = inserted
	return result, nil
}

func (s *Weather) fetchForecast(ctx context.Context, session *etl.Session, city model.City) ([]model.WeatherCandidate, error) {
	cfg := session.Cfg.OpenWeather

	query := url.Values{}
	query.Set("lat", fmt.Sprintf("%g", *city.Latitude))
	query.Set("lon", fmt.Sprintf("%g", *city.Longitude))
	query.Set("appid", cfg.Key)
	query.Set("units", "metric")
	fetchURL := fmt.Sprintf("%s/forecast?%s", cfg.BaseURL, query.Encode())

	body, idx, err := session.Cache.GetOrFetch(ctx, fetchURL, func(ctx context.Context) ([]byte, error) {
		return session.Client.GetJSON(ctx, fetchURL, nil)
	})
	if err != nil {
		return nil, err
	}

	var payload forecastPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, eris.Wrapf(err, "source: decode forecast for %s", city.Name)
	}

	rows := make([]model.WeatherCandidate, 0, len(payload.List))
	for _, entry := range payload.List {
		rows = append(rows, model.WeatherCandidate{
			LedgerIndex:  idx,
			City:         city.ID,
			DT:           time.Unix(entry.DT, 0).UTC(),
			TempC:        entry.Main.Temp,
			FeelsLikeC:   entry.Main.FeelsLike,
			WindSpeedMPS: entry.Wind.Speed,
			WindGustMPS:  entry.Wind.Gust,
			Rain3hMM:     entry.Rain.mm(),
			Snow3hMM:     entry.Snow.mm(),
		})
	}
	return rows, nil
}
