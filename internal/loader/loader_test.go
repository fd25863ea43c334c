package loader

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citylens/citysync/internal/ledger"
	"github.com/citylens/citysync/internal/model"
)

func newMockLoader(t *testing.T) (pgxmock.PgxPoolIface, *ledger.Ledger) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return mock, ledger.New(mock, nil)
}

func cityNamed(name string) model.City {
	return model.City{Name: name}
}

func TestUpsertEntities_InsertsAllIntoEmptyTable(t *testing.T) {
	mock, led := newMockLoader(t)

	mock.ExpectCopyFrom(pgx.Identifier{"city"}, Cities().Columns).WillReturnResult(2)

	n, err := UpsertEntities(context.Background(), mock, led, Cities(),
		[]model.City{cityNamed("Berlin"), cityNamed("Hamburg")},
		map[string]struct{}{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertEntities_SkipsPersistedKeys(t *testing.T) {
	mock, led := newMockLoader(t)

	existing := map[string]struct{}{
		"Berlin":  {},
		"Hamburg": {},
	}

	mock.ExpectCopyFrom(pgx.Identifier{"city"}, Cities().Columns).WillReturnResult(1)

	n, err := UpsertEntities(context.Background(), mock, led, Cities(),
		[]model.City{cityNamed("Berlin"), cityNamed("Munich")},
		existing)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "only Munich is new")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertEntities_InBatchDedupFirstWins(t *testing.T) {
	mock, led := newMockLoader(t)

	at := time.Now()
	idx := led.Record("https://aerodatabox.p.rapidapi.com/airports", at)

	// One scrape resolution, one COPY with a single row.
	mock.ExpectQuery("INSERT INTO scrape").
		WithArgs("https://aerodatabox.p.rapidapi.com/airports", at).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectCopyFrom(pgx.Identifier{"airport"}, Airports().Columns).WillReturnResult(1)

	candidates := []model.AirportCandidate{
		{LedgerIndex: idx, ICAO: "EDDB", IATA: "BER", Name: "Berlin Brandenburg", Latitude: 52.35, Longitude: 13.5},
		{LedgerIndex: idx, ICAO: "EDDB", IATA: "BER", Name: "Berlin Brandenburg Airport", Latitude: 52.36, Longitude: 13.5},
	}

	n, err := UpsertEntities(context.Background(), mock, led, Airports(), candidates, map[string]struct{}{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertEntities_NothingNewCostsNoStorage(t *testing.T) {
	mock, led := newMockLoader(t)

	idx := led.Record("https://aerodatabox.p.rapidapi.com/airports", time.Now())

	// Candidate already persisted: no scrape insert, no COPY at all.
	n, err := UpsertEntities(context.Background(), mock, led, Airports(),
		[]model.AirportCandidate{{LedgerIndex: idx, ICAO: "EDDB"}},
		map[string]struct{}{"EDDB": {}})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendHistory_ResolvesOncePerDistinctIndex(t *testing.T) {
	mock, led := newMockLoader(t)

	at := time.Now()
	idx := led.Record("https://api.openweathermap.org/forecast", at)

	mock.ExpectQuery("INSERT INTO scrape").
		WithArgs("https://api.openweathermap.org/forecast", at).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(9)))
	mock.ExpectCopyFrom(pgx.Identifier{"weather"}, Weather().Columns).WillReturnResult(3)

	dt := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	rows := []model.WeatherCandidate{
		{LedgerIndex: idx, City: 1, DT: dt, TempC: 4.2},
		{LedgerIndex: idx, City: 1, DT: dt.Add(3 * time.Hour), TempC: 5.0},
		{LedgerIndex: idx, City: 1, DT: dt.Add(6 * time.Hour), TempC: 5.4},
	}

	n, err := AppendHistory(context.Background(), mock, led, Weather(), rows)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendHistory_EmptyRowsNoop(t *testing.T) {
	mock, led := newMockLoader(t)

	n, err := AppendHistory(context.Background(), mock, led, Flights(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCityAirports_KeyCombinesCityAndICAO(t *testing.T) {
	spec := CityAirports()
	a := model.CityAirportCandidate{City: 5, ICAO: "EDDB"}
	b := model.CityAirportCandidate{City: 6, ICAO: "EDDB"}
	assert.NotEqual(t, spec.Key(a), spec.Key(b), "same airport near two cities is two associations")
}
