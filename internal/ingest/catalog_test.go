package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polysentinel/engine/internal/store"
)

func gammaHandler(t *testing.T, markets []map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets", r.URL.Path)
		assert.Equal(t, "false", r.URL.Query().Get("closed"))
		assert.Equal(t, "volume24hr", r.URL.Query().Get("order"))
		require.NoError(t, json.NewEncoder(w).Encode(markets))
	}
}

func TestLoadCatalogRanksAndMaps(t *testing.T) {
	markets := []map[string]any{
		{
			"id": "m1", "question": "Will it rain?", "slug": "rain",
			"conditionId": "0xc1", "endDate": "2026-12-31T00:00:00Z",
			"volume24hr": 5000.0, "clobTokenIds": `["yes-1","no-1"]`,
			"outcomes": `["Yes","No"]`,
		},
		{
			"id": "m2", "question": "NBA finals winner?", "slug": "nba",
			"conditionId": "0xc2", "endDate": "2026-06-30T00:00:00Z",
			"volume24hr": 90000.0, "clobTokenIds": `["yes-2","no-2"]`,
			"outcomes": `["Yes","No"]`,
		},
	}

	srv := httptest.NewServer(gammaHandler(t, markets))
	defer srv.Close()

	catalog, err := LoadCatalog(context.Background(), srv.URL, 10, []string{"NBA"})
	require.NoError(t, err)

	// Volume ranking puts m2's tokens first.
	ids := catalog.AssetIDs()
	require.Len(t, ids, 4)
	assert.Equal(t, []string{"yes-2", "no-2", "yes-1", "no-1"}, ids)

	meta, ok := catalog.Lookup("yes-1")
	require.True(t, ok)
	assert.Equal(t, "Will it rain?", meta.Title)
	assert.Equal(t, store.OutcomeYes, meta.Outcome)
	assert.False(t, meta.Excluded)
	assert.Equal(t, 2026, meta.EndTime.Year())

	no1, ok := catalog.Lookup("no-1")
	require.True(t, ok)
	assert.Equal(t, store.OutcomeNo, no1.Outcome)

	// The NBA market is catalogued but flagged excluded.
	nba, ok := catalog.Lookup("yes-2")
	require.True(t, ok)
	assert.True(t, nba.Excluded)

	_, ok = catalog.Lookup("unknown")
	assert.False(t, ok)
}

func TestLoadCatalogTruncatesToLimit(t *testing.T) {
	markets := []map[string]any{
		{"id": "m1", "question": "A", "volume24hr": 3.0, "clobTokenIds": `["a1","a2"]`},
		{"id": "m2", "question": "B", "volume24hr": 2.0, "clobTokenIds": `["b1","b2"]`},
		{"id": "m3", "question": "C", "volume24hr": 1.0, "clobTokenIds": `["c1","c2"]`},
	}

	srv := httptest.NewServer(gammaHandler(t, markets))
	defer srv.Close()

	catalog, err := LoadCatalog(context.Background(), srv.URL, 2, nil)
	require.NoError(t, err)
	assert.Len(t, catalog.AssetIDs(), 4, "limit applies to markets, two tokens each")
}

func TestLoadCatalogFatalAfterRetries(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := LoadCatalog(context.Background(), srv.URL, 10, nil)
	require.Error(t, err)
	assert.Equal(t, catalogRetries, calls)
	assert.Contains(t, err.Error(), "catalog unavailable")
}
