package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStats() *MarketStats {
	return NewMarketStats(MarketMeta{Title: "Election", Outcome: OutcomeYes})
}

func TestRecentTradeWindowBounded(t *testing.T) {
	m := newStats()

	for i := 0; i < RecentTradeWindow*3; i++ {
		m.AppendSample(fmt.Sprintf("t%d", i), float64(i))
		assert.LessOrEqual(t, m.SampleCount(), RecentTradeWindow)
	}

	require.Equal(t, RecentTradeWindow, m.SampleCount())

	// The window holds the newest samples: 200..299, mean 249.5.
	assert.InDelta(t, 249.5, m.SampleMean(), 1e-9)
}

func TestRemoveSampleRollsBackMean(t *testing.T) {
	m := newStats()
	m.AppendSample("a", 1000)
	m.AppendSample("b", 3000)

	require.True(t, m.RemoveSample("a"))
	assert.Equal(t, 1, m.SampleCount())
	assert.InDelta(t, 3000, m.SampleMean(), 1e-9)

	assert.False(t, m.RemoveSample("a"), "second removal should find nothing")
}

func TestBuyerWindowPrunedOnAccess(t *testing.T) {
	m := newStats()
	base := int64(1_000_000)

	m.RecordBuyer("0xa", OutcomeYes, base)
	m.RecordBuyer("0xb", OutcomeYes, base+30_000)
	m.RecordBuyer("0xc", OutcomeYes, base+59_000)

	// A cutoff just past the first entry drops it and keeps the rest.
	m.PruneBuyers(base + 1)
	assert.Equal(t, 2, m.BuyerCount())
	assert.Len(t, m.DistinctBuyers(OutcomeYes), 2)
}

func TestDistinctBuyersByOutcome(t *testing.T) {
	m := newStats()

	m.RecordBuyer("0xa", OutcomeYes, 1)
	m.RecordBuyer("0xa", OutcomeYes, 2) // same wallet counts once
	m.RecordBuyer("0xb", OutcomeYes, 3)
	m.RecordBuyer("0xc", OutcomeNo, 4)

	assert.Len(t, m.DistinctBuyers(OutcomeYes), 2)
	assert.Len(t, m.DistinctBuyers(OutcomeNo), 1)
}

func TestRemoveBuyer(t *testing.T) {
	m := newStats()

	m.RecordBuyer("0xa", OutcomeYes, 1000)
	m.RecordBuyer("0xb", OutcomeYes, 2000)

	require.True(t, m.RemoveBuyer("0xa", 1000))
	assert.Equal(t, 1, m.BuyerCount())
	assert.False(t, m.RemoveBuyer("0xa", 1000))
}

func TestLastPriceAndConsensus(t *testing.T) {
	m := newStats()

	_, ok := m.LastPrice()
	assert.False(t, ok, "last price undefined before any surviving trade")

	m.SetLastPrice(0.4)
	p, ok := m.LastPrice()
	require.True(t, ok)
	assert.Equal(t, 0.4, p)

	_, ok = m.ConsensusYes()
	assert.False(t, ok)
	m.SetConsensusYes(0.82)
	c, ok := m.ConsensusYes()
	require.True(t, ok)
	assert.Equal(t, 0.82, c)
}

func TestWalletCacheTTL(t *testing.T) {
	c := NewWalletCache(time.Hour)
	now := time.Now()

	_, ok := c.Lookup("0xa", now)
	assert.False(t, ok)

	c.Store("0xa", 7, now)
	txs, ok := c.Lookup("0xa", now.Add(30*time.Minute))
	require.True(t, ok)
	assert.Equal(t, 7, txs)

	// Past the TTL the entry needs a refresh.
	_, ok = c.Lookup("0xa", now.Add(2*time.Hour))
	assert.False(t, ok)
}

func TestRegistryUnknownAsset(t *testing.T) {
	r := NewRegistry(map[string]MarketMeta{
		"asset-1": {Title: "Election", Outcome: OutcomeYes},
	})

	require.NotNil(t, r.Get("asset-1"))
	assert.Nil(t, r.Get("asset-2"))
	assert.Equal(t, 1, r.Len())
}
