package fetcher

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citylens/citysync/internal/ledger"
)

func newTestLedger(t *testing.T) *ledger.Ledger {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return ledger.New(mock, nil)
}

func TestCache_MissFetchesAndRecordsLedgerEntry(t *testing.T) {
	led := newTestLedger(t)
	c := NewCache(led, true)

	calls := 0
	body, idx, err := c.GetOrFetch(context.Background(), "https://x.example.com", func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte(`{"ok":true}`), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, idx)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, 1, led.Len())
}

func TestCache_HitSkipsFetcherAndLedger(t *testing.T) {
	led := newTestLedger(t)
	c := NewCache(led, true)

	calls := 0
	fetch := func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte(`{}`), nil
	}

	_, first, err := c.GetOrFetch(context.Background(), "https://x.example.com", fetch)
	require.NoError(t, err)
	_, second, err := c.GetOrFetch(context.Background(), "https://x.example.com", fetch)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, led.Len(), "cache hit must not add a ledger entry")
}

func TestCache_DisabledAlwaysFetches(t *testing.T) {
	led := newTestLedger(t)
	c := NewCache(led, false)

	calls := 0
	fetch := func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte(`{}`), nil
	}

	_, a, err := c.GetOrFetch(context.Background(), "https://x.example.com", fetch)
	require.NoError(t, err)
	_, b, err := c.GetOrFetch(context.Background(), "https://x.example.com", fetch)
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
	assert.NotEqual(t, a, b, "each fetch gets its own ledger entry")
	assert.Equal(t, 2, led.Len())
}

func TestCache_FetchErrorNotCachedNotRecorded(t *testing.T) {
	led := newTestLedger(t)
	c := NewCache(led, true)

	calls := 0
	_, _, err := c.GetOrFetch(context.Background(), "https://x.example.com", func(ctx context.Context) ([]byte, error) {
		calls++
		return nil, eris.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 0, led.Len())

	// A later attempt retries the fetch instead of serving the failure.
	_, _, err = c.GetOrFetch(context.Background(), "https://x.example.com", func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte(`{}`), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
