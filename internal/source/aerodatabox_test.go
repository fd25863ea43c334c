package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citylens/citysync/internal/etl"
	"github.com/citylens/citysync/internal/loader"
	"github.com/citylens/citysync/internal/schedule"
)

const airportSearchJSON = `{
	"items": [
		{"icao": "EDDB", "iata": "BER", "name": "Berlin Brandenburg", "location": {"lat": 52.3514, "lon": 13.4939}},
		{"icao": "EDDT", "iata": "TXL", "name": "Berlin Tegel", "location": {"lat": 52.5597, "lon": 13.2877}}
	]
}`

const flightScheduleJSON = `{
	"departures": [
		{
			"number": "LH 187",
			"departure": {"scheduledTime": {"utc": "2026-03-02 08:30Z"}, "airport": {"icao": "EDDB", "name": "Berlin Brandenburg"}},
			"arrival": {"scheduledTime": {"utc": "2026-03-02 09:45Z"}, "airport": {"icao": "EDDF", "name": "Frankfurt Airport"}}
		}
	],
	"arrivals": [
		{
			"number": "BA 991",
			"departure": {"scheduledTime": {"utc": "2026-03-02 06:10Z"}, "airport": {"name": "London Heathrow"}},
			"arrival": {"scheduledTime": {"utc": "2026-03-02 08:55Z"}, "airport": {"icao": "EDDB", "name": "Berlin Brandenburg"}}
		}
	]
}`

type utcZone struct{}

func (utcZone) TimezoneAt(lat, lon float64) (string, error) { return "UTC", nil }

func TestAirportsRun(t *testing.T) {
	var gotHeaders http.Header
	mux := http.NewServeMux()
	mux.HandleFunc("/airports/search/location", func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header
		w.Write([]byte(airportSearchJSON))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mock, session := newTestSession(t, srv.URL)

	mock.ExpectQuery("FROM city ORDER BY id").WillReturnRows(
		pgxmock.NewRows([]string{"id", "name", "country", "latitude", "longitude", "base_elevation", "peak_elevation"}).
			AddRow(int64(1), "Berlin", nil, f64(52.52), f64(13.405), nil, nil))

	mock.ExpectQuery("SELECT icao FROM airport").
		WillReturnRows(pgxmock.NewRows([]string{"icao"}))
	mock.ExpectQuery("INSERT INTO scrape").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectCopyFrom(pgx.Identifier{"airport"}, loader.Airports().Columns).WillReturnResult(2)

	// Association load reuses the already resolved scrape id.
	mock.ExpectQuery("FROM city_airport").
		WillReturnRows(pgxmock.NewRows([]string{"key"}))
	mock.ExpectCopyFrom(pgx.Identifier{"city_airport"}, loader.CityAirports().Columns).WillReturnResult(2)

	result, err := (&Airports{}).Run(context.Background(), session)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Fetched)
	assert.Equal(t, int64(4), result.Loaded, "two airports plus two associations")
	assert.Equal(t, "test-key", gotHeaders.Get("X-RapidAPI-Key"))
	assert.Equal(t, "test-host", gotHeaders.Get("X-RapidAPI-Host"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAirportsRun_KnownAirportStillAssociates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/airports/search/location", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(airportSearchJSON))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mock, session := newTestSession(t, srv.URL)

	mock.ExpectQuery("FROM city ORDER BY id").WillReturnRows(
		pgxmock.NewRows([]string{"id", "name", "country", "latitude", "longitude", "base_elevation", "peak_elevation"}).
			AddRow(int64(1), "Berlin", nil, f64(52.52), f64(13.405), nil, nil))

	// Both airports already persisted: no airport COPY at all.
	mock.ExpectQuery("SELECT icao FROM airport").
		WillReturnRows(pgxmock.NewRows([]string{"icao"}).AddRow("EDDB").AddRow("EDDT"))

	// The associations are new and still need a scrape id.
	mock.ExpectQuery("FROM city_airport").
		WillReturnRows(pgxmock.NewRows([]string{"key"}))
	mock.ExpectQuery("INSERT INTO scrape").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(9)))
	mock.ExpectCopyFrom(pgx.Identifier{"city_airport"}, loader.CityAirports().Columns).WillReturnResult(2)

	result, err := (&Airports{}).Run(context.Background(), session)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Loaded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func flightsSession(t *testing.T, baseURL string) (pgxmock.PgxPoolIface, *etl.Session) {
	mock, session := newTestSession(t, baseURL)
	session.SetScheduler(schedule.New(utcZone{}))
	session.Now = func() time.Time {
		return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	}
	return mock, session
}

func expectAirportRead(mock pgxmock.PgxPoolIface) {
	mock.ExpectQuery("FROM airport ORDER BY icao").WillReturnRows(
		pgxmock.NewRows([]string{"icao", "scrape", "iata", "name", "latitude", "longitude"}).
			AddRow("EDDB", int64(1), "BER", "Berlin Brandenburg", 52.3514, 13.4939))
}

func TestFlightsRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/EDDB/2026-03-02T00:00/"):
			w.Write([]byte(flightScheduleJSON))
		case strings.Contains(r.URL.Path, "/EDDB/2026-03-02T12:00/"):
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	mock, session := flightsSession(t, srv.URL)

	expectAirportRead(mock)
	mock.ExpectQuery("INSERT INTO scrape").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(4)))
	mock.ExpectCopyFrom(pgx.Identifier{"flight"}, loader.Flights().Columns).WillReturnResult(2)

	result, err := (&Flights{}).Run(context.Background(), session)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Fetched, "both windows fetched, one empty")
	assert.Equal(t, int64(2), result.Loaded, "one departure, one arrival")
	assert.Equal(t, 0, result.Transient)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFlightsRun_OneWindowFailureKeepsOther(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/2026-03-02T12:00/") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(flightScheduleJSON))
	}))
	defer srv.Close()

	mock, session := flightsSession(t, srv.URL)

	expectAirportRead(mock)
	mock.ExpectQuery("INSERT INTO scrape").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(4)))
	mock.ExpectCopyFrom(pgx.Identifier{"flight"}, loader.Flights().Columns).WillReturnResult(2)

	result, err := (&Flights{}).Run(context.Background(), session)
	require.NoError(t, err, "a failed window is transient, not fatal")

	assert.Equal(t, 1, result.Fetched)
	assert.Equal(t, 1, result.Transient)
	assert.Equal(t, int64(2), result.Loaded, "the successful window still loads")
	assert.NoError(t, mock.ExpectationsWereMet())
}
