package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citylens/citysync/internal/model"
)

type obs struct {
	city   int64
	scrape int64
	value  string
}

func obsPartition(o obs) int64 { return o.city }
func obsOrder(o obs) int64     { return o.scrape }

func TestLatest_KeepsNewestScrapePerPartition(t *testing.T) {
	rows := []obs{
		{city: 1, scrape: 10, value: "old"},
		{city: 1, scrape: 20, value: "new"},
		{city: 2, scrape: 10, value: "only"},
	}

	got := Latest(rows, obsPartition, obsOrder, 1)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].value)
	assert.Equal(t, "only", got[1].value)
}

func TestLatest_KeepsWholeScrapeNotSingleRow(t *testing.T) {
	// One scrape can carry many rows for a partition; all of them stay.
	rows := []obs{
		{city: 1, scrape: 20, value: "a"},
		{city: 1, scrape: 20, value: "b"},
		{city: 1, scrape: 10, value: "stale"},
	}

	got := Latest(rows, obsPartition, obsOrder, 1)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].value)
	assert.Equal(t, "b", got[1].value)
}

func TestLatest_TopTwoDistinctScrapes(t *testing.T) {
	rows := []obs{
		{city: 1, scrape: 10, value: "oldest"},
		{city: 1, scrape: 20, value: "second"},
		{city: 1, scrape: 30, value: "newest"},
		{city: 1, scrape: 30, value: "newest-2"},
	}

	got := Latest(rows, obsPartition, obsOrder, 2)
	require.Len(t, got, 3)
	for _, o := range got {
		assert.NotEqual(t, "oldest", o.value)
	}
}

func TestLatest_PartitionWithFewerThanK(t *testing.T) {
	rows := []obs{{city: 1, scrape: 10, value: "only"}}
	got := Latest(rows, obsPartition, obsOrder, 2)
	assert.Equal(t, rows, got)
}

func TestLatest_EmptyAndZeroK(t *testing.T) {
	assert.Nil(t, Latest(nil, obsPartition, obsOrder, 1))
	assert.Nil(t, Latest([]obs{{city: 1, scrape: 1}}, obsPartition, obsOrder, 0))
}

func TestLatestWeather_QueriesNewestPerCityAndDT(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	dt := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("NOT EXISTS").WillReturnRows(
		pgxmock.NewRows([]string{
			"scrape", "city", "dt",
			"t_celsius", "t_feelslike_celsius",
			"wind_speed_mps", "wind_gust_mps",
			"rain_3h_mm", "snow_3h_mm",
		}).AddRow(int64(7), int64(1), dt, 4.2, 1.8, 3.1, 6.0, 0.0, 0.0))

	got, err := LatestWeather(context.Background(), mock)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(7), got[0].Scrape)
	assert.Equal(t, 4.2, got[0].TempC)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestFlights_ScansDirection(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sched := time.Date(2026, 3, 3, 8, 30, 0, 0, time.UTC)
	dest := "EDDF"
	mock.ExpectQuery("ROW_NUMBER").WillReturnRows(
		pgxmock.NewRows([]string{
			"scrape", "origin_icao", "scheduled_time",
			"destination_icao", "destination_name", "number", "type",
		}).AddRow(int64(9), "EDDB", sched, &dest, "Frankfurt", "LH 187", "departure"))

	got, err := LatestFlights(context.Background(), mock)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.Departure, got[0].Direction)
	require.NotNil(t, got[0].DestinationICAO)
	assert.Equal(t, "EDDF", *got[0].DestinationICAO)
	assert.NoError(t, mock.ExpectationsWereMet())
}
