// Package source holds one adapter per upstream. Each adapter fetches and
// normalizes concurrently, then hands all loads to the loader sequentially.
// Per-item fetch failures and missing fields are absorbed into the result
// counters; only store trouble escapes a Run.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/citylens/citysync/internal/etl"
	"github.com/citylens/citysync/internal/loader"
	"github.com/citylens/citysync/internal/model"
	"github.com/citylens/citysync/internal/normalize"
)

// DefaultRegistry returns all sources in dependency order: cities first,
// everything else reads coordinates the city load produced.
func DefaultRegistry() *etl.Registry {
	r := etl.NewRegistry()
	r.Register(&Cities{})
	r.Register(&Weather{})
	r.Register(&Airports{})
	r.Register(&Flights{})
	return r
}

// pageSummary is the REST summary payload for one encyclopedia page.
type pageSummary struct {
	Title        string `json:"title"`
	WikibaseItem string `json:"wikibase_item"`
	Coordinates  *struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"coordinates"`
}

// Cities ingests the configured city list: page summary for coordinates,
// linked-data record for country, elevations and population. Cities load as
// entities; population loads as fact history with the count date as metadata.
type Cities struct{}

func (s *Cities) Name() string { return "cities" }

type cityFetch struct {
	order  int
	city   model.City
	pop    *int64
	date   *string
	ledger int
	gaps   int
}

func (s *Cities) Run(ctx context.Context, session *etl.Session) (*etl.Result, error) {
	log := zap.L().With(zap.String("component", "source.cities"))
	cfg := session.Cfg
	result := &etl.Result{}

	var mu sync.Mutex
	var collected []cityFetch

	fanErr := etl.ForEach(ctx, cfg.Fetch.Concurrency, indexed(cfg.Cities), func(ctx context.Context, item indexedItem[string]) error {
		data, err := s.fetchCity(ctx, session, item.value)
		if err != nil {
			log.Warn("city fetch failed", zap.String("city", item.value), zap.Error(err))
			mu.Lock()
			result.Transient++
			mu.Unlock()
			return nil
		}
		data.order = item.index
		mu.Lock()
		result.Fetched++
		result.Gaps += data.gaps
		collected = append(collected, *data)
		mu.Unlock()
		return nil
	})
	if fanErr != nil {
		return result, fanErr
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].order < collected[j].order })

	existing, err := session.Store.CityKeys(ctx)
	if err != nil {
		return result, err
	}

	candidates := make([]model.City, len(collected))
	for i, c := range collected {
		candidates[i] = c.city
	}
	inserted, err := loader.UpsertEntities(ctx, session.Pool, session.Ledger, loader.Cities(), candidates, existing)
	if err != nil {
		return result, err
	}
	result.Loaded += inserted

	facts, err := s.buildFacts(ctx, session, collected)
	if err != nil {
		return result, err
	}
	if len(facts) > 0 {
		inserted, err = loader.AppendHistory(ctx, session.Pool, session.Ledger, loader.Facts(), facts)
		if err != nil {
			return result, err
		}
		result.Loaded += inserted
	}

	return result, nil
}

func (s *Cities) fetchCity(ctx context.Context, session *etl.Session, name string) (*cityFetch, error) {
	cfg := session.Cfg

	sumURL := fmt.Sprintf("%s/page/summary/%s", cfg.Wikipedia.BaseURL, url.PathEscape(name))
	body, _, err := session.Cache.GetOrFetch(ctx, sumURL, func(ctx context.Context) ([]byte, error) {
		return session.Client.GetJSON(ctx, sumURL, nil)
	})
	if err != nil {
		return nil, err
	}

	var summary pageSummary
	if err := json.Unmarshal(body, &summary); err != nil {
		return nil, eris.Wrapf(err, "source: decode page summary for %s", name)
	}

	data := &cityFetch{city: model.City{Name: name}}
	if summary.Coordinates != nil {
		lat, lon := summary.Coordinates.Lat, summary.Coordinates.Lon
		data.city.Latitude = &lat
		data.city.Longitude = &lon
	} else if lat, lon, err := s.fetchDMSCoordinates(ctx, session, name); err == nil {
		data.city.Latitude = &lat
		data.city.Longitude = &lon
	} else {
		zap.L().Warn("no coordinates found", zap.String("city", name), zap.Error(err))
		data.gaps++
	}

	if summary.WikibaseItem == "" {
		data.gaps++
		return data, nil
	}

	entityURL := fmt.Sprintf("%s/%s.json", cfg.Wikidata.BaseURL, url.PathEscape(summary.WikibaseItem))
	entityBody, entityIdx, err := session.Cache.GetOrFetch(ctx, entityURL, func(ctx context.Context) ([]byte, error) {
		return session.Client.GetJSON(ctx, entityURL, nil)
	})
	if err != nil {
		return nil, err
	}
	data.ledger = entityIdx

	claims, err := parseCityClaims(entityBody, summary.WikibaseItem)
	if err != nil {
		return nil, err
	}

	data.city.BaseElevation = claims.BaseElevation
	data.city.PeakElevation = claims.PeakElevation
	if claims.Population != nil {
		data.pop = claims.Population
		data.date = claims.PopulationDate
	} else {
		data.gaps++
	}

	if claims.CountryEntity != "" {
		label, err := entityLabel(ctx, session, claims.CountryEntity)
		if err != nil {
			// A missing country is a gap on this city, not a failure.
			zap.L().Warn("country label lookup failed",
				zap.String("city", name),
				zap.String("entity", claims.CountryEntity),
				zap.Error(err),
			)
			data.gaps++
		} else {
			data.city.Country = &label
		}
	}

	return data, nil
}

var (
	latSpanPattern = regexp.MustCompile(`class="latitude"[^>]*>([^<]+)<`)
	lonSpanPattern = regexp.MustCompile(`class="longitude"[^>]*>([^<]+)<`)
)

// fetchDMSCoordinates falls back to the rendered page when the summary has no
// coordinate block: the coordinate spans in the page markup carry the values
// in degree/minute/second form.
func (s *Cities) fetchDMSCoordinates(ctx context.Context, session *etl.Session, name string) (float64, float64, error) {
	htmlURL := fmt.Sprintf("%s/page/html/%s", session.Cfg.Wikipedia.BaseURL, url.PathEscape(name))
	body, _, err := session.Cache.GetOrFetch(ctx, htmlURL, func(ctx context.Context) ([]byte, error) {
		return session.Client.GetJSON(ctx, htmlURL, nil)
	})
	if err != nil {
		return 0, 0, err
	}

	latM := latSpanPattern.FindSubmatch(body)
	lonM := lonSpanPattern.FindSubmatch(body)
	if latM == nil || lonM == nil {
		return 0, 0, eris.Errorf("source: no coordinate markup for %s", name)
	}

	lat, err := normalize.ParseCoordinate(string(latM[1]))
	if err != nil {
		return 0, 0, err
	}
	lon, err := normalize.ParseCoordinate(string(lonM[1]))
	if err != nil {
		return 0, 0, err
	}
	return lat, lon, nil
}

// buildFacts turns collected population values into fact history rows, keyed
// to the now-persisted city ids.
func (s *Cities) buildFacts(ctx context.Context, session *etl.Session, collected []cityFetch) ([]model.FactCandidate, error) {
	withPop := 0
	for _, c := range collected {
		if c.pop != nil {
			withPop++
		}
	}
	if withPop == 0 {
		return nil, nil
	}

	measureID, err := session.Store.GetOrCreateMeasure(ctx, "population", "int64")
	if err != nil {
		return nil, err
	}

	cities, err := session.Store.Cities(ctx)
	if err != nil {
		return nil, err
	}
	idByName := make(map[string]int64, len(cities))
	for _, c := range cities {
		idByName[normalize.Name(c.Name)] = c.ID
	}

	facts := make([]model.FactCandidate, 0, withPop)
	for _, c := range collected {
		if c.pop == nil {
			continue
		}
		cityID, ok := idByName[normalize.Name(c.city.Name)]
		if !ok {
			continue
		}
		meta, err := json.Marshal(map[string]*string{"date": c.date})
		if err != nil {
			return nil, eris.Wrapf(err, "source: marshal fact meta for %s", c.city.Name)
		}
		facts = append(facts, model.FactCandidate{
			LedgerIndex: c.ledger,
			City:        cityID,
			Measure:     measureID,
			Value:       fmt.Sprintf("%d", *c.pop),
			Meta:        meta,
		})
	}
	return facts, nil
}

// indexedItem tags a slice element with its position so fan-out results can
// be re-ordered deterministically.
type indexedItem[T any] struct {
	index int
	value T
}

func indexed[T any](items []T) []indexedItem[T] {
	out := make([]indexedItem[T], len(items))
	for i, v := range items {
		out[i] = indexedItem[T]{index: i, value: v}
	}
	return out
}
