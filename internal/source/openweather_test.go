package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citylens/citysync/internal/loader"
)

const forecastJSON = `{
	"list": [
		{
			"dt": 1772452800,
			"main": {"temp": 4.2, "feels_like": 1.8},
			"wind": {"speed": 3.1, "gust": 6.0},
			"rain": {"3h": 0.4}
		},
		{
			"dt": 1772463600,
			"main": {"temp": 5.0, "feels_like": 2.9},
			"wind": {"speed": 2.4, "gust": 4.4}
		}
	]
}`

func TestWeatherRun(t *testing.T) {
	var gotQuery map[string][]string
	mux := http.NewServeMux()
	mux.HandleFunc("/forecast", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(forecastJSON))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mock, session := newTestSession(t, srv.URL)

	mock.ExpectQuery("FROM city ORDER BY id").WillReturnRows(
		pgxmock.NewRows([]string{"id", "name", "country", "latitude", "longitude", "base_elevation", "peak_elevation"}).
			AddRow(int64(1), "Berlin", nil, f64(52.52), f64(13.405), nil, nil))
	mock.ExpectQuery("INSERT INTO scrape").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectCopyFrom(pgx.Identifier{"weather"}, loader.Weather().Columns).WillReturnResult(2)

	result, err := (&Weather{}).Run(context.Background(), session)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Fetched)
	assert.Equal(t, int64(2), result.Loaded)
	assert.Equal(t, []string{"metric"}, gotQuery["units"])
	assert.Equal(t, []string{"test-key"}, gotQuery["appid"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWeatherRun_CityWithoutCoordinatesIsGap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no fetch expected for a city without coordinates")
	}))
	defer srv.Close()

	mock, session := newTestSession(t, srv.URL)

	mock.ExpectQuery("FROM city ORDER BY id").WillReturnRows(
		pgxmock.NewRows([]string{"id", "name", "country", "latitude", "longitude", "base_elevation", "peak_elevation"}).
			AddRow(int64(1), "Nowhere", nil, nil, nil, nil, nil))

	result, err := (&Weather{}).Run(context.Background(), session)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Fetched)
	assert.Equal(t, 1, result.Gaps)
	assert.Equal(t, int64(0), result.Loaded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPrecipitation_AbsentMeansZero(t *testing.T) {
	var p *precipitation
	assert.Equal(t, 0.0, p.mm())
	assert.Equal(t, 0.4, (&precipitation{ThreeH: 0.4}).mm())
}
