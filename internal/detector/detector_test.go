package detector

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polysentinel/engine/internal/config"
	"github.com/polysentinel/engine/internal/metrics"
	"github.com/polysentinel/engine/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		MinUSDSize:                   2000,
		WhaleThresholdUSD:            10000,
		WhaleMultiplier:              5.0,
		FreshWalletMaxTxs:            10,
		ClusterWindowSeconds:         60,
		ClusterMinWallets:            3,
		TimingHoursThreshold:         24,
		OddsMovementThreshold:        0.05,
		ContrarianConsensusThreshold: 0.70,
		ContrarianMinSizeUSD:         5000,
	}
}

func newDetector(wallets *store.WalletCache) *Detector {
	if wallets == nil {
		wallets = store.NewWalletCache(time.Hour)
	}
	return New(testConfig(), wallets, nil, metrics.New())
}

func electionStats() *store.MarketStats {
	return store.NewMarketStats(store.MarketMeta{Title: "Election"})
}

func buy(wallet string, usd, price float64, ts int64) store.Trade {
	return store.Trade{
		TradeID:   fmt.Sprintf("%s-%d", wallet, ts),
		AssetID:   "asset-1",
		Wallet:    wallet,
		Side:      store.SideBuy,
		Outcome:   store.OutcomeYes,
		Price:     price,
		Size:      usd / price,
		USDValue:  usd,
		Timestamp: ts,
	}
}

func kinds(signals []store.Signal) []store.SignalKind {
	out := make([]store.SignalKind, 0, len(signals))
	for _, s := range signals {
		out = append(out, s.Kind)
	}
	return out
}

// Scenario: one $12k trade on a cold market fires WHALE alone at MEDIUM.
func TestWhaleAbsolute(t *testing.T) {
	d := newDetector(nil)
	stats := electionStats()

	signals := d.Analyze(buy("0xa", 12000, 0.60, 1_000_000), stats)

	require.Equal(t, []store.SignalKind{store.SignalWhale}, kinds(signals))
	assert.Equal(t, store.ConfidenceMedium, Confidence(signals, 12000))
}

// Scenario: a pre-seeded window plus a stale price fires WHALE and ODDS_MOVE
// together at HIGH.
func TestWhaleRelativePlusOddsMove(t *testing.T) {
	d := newDetector(nil)
	stats := electionStats()
	for i := 0; i < 25; i++ {
		stats.AppendSample(fmt.Sprintf("seed-%d", i), 2500)
	}
	stats.SetLastPrice(0.40)

	signals := d.Analyze(buy("0xa", 13000, 0.55, 1_000_000), stats)

	require.ElementsMatch(t,
		[]store.SignalKind{store.SignalWhale, store.SignalOddsMove},
		kinds(signals))
	assert.Equal(t, store.ConfidenceHigh, Confidence(signals, 13000))
}

// WHALE must not fire relative on a cold market: 20-sample floor.
func TestWhaleRelativeNeedsSampleFloor(t *testing.T) {
	d := newDetector(nil)
	stats := electionStats()
	for i := 0; i < 10; i++ {
		stats.AppendSample(fmt.Sprintf("seed-%d", i), 100)
	}

	// 30x the mean (past the 5x multiplier), but only 10 samples and below the
	// absolute threshold.
	signals := d.Analyze(buy("0xa", 3000, 0.50, 1_000_000), stats)
	assert.NotContains(t, kinds(signals), store.SignalWhale)
}

// WHALE evaluates against the pre-update window: a trade cannot dilute the
// mean it is judged against.
func TestWhaleUsesPreUpdateWindow(t *testing.T) {
	d := newDetector(nil)
	stats := electionStats()
	for i := 0; i < 20; i++ {
		stats.AppendSample(fmt.Sprintf("seed-%d", i), 500)
	}

	signals := d.Analyze(buy("0xa", 2500, 0.50, 1_000_000), stats)
	assert.Contains(t, kinds(signals), store.SignalWhale, "2500 >= 5 * 500")

	// The trade joined the window afterwards.
	assert.InDelta(t, (20*500.0+2500)/21, stats.SampleMean(), 1e-9)
}

func TestFreshWalletFromCache(t *testing.T) {
	wallets := store.NewWalletCache(time.Hour)
	wallets.Store("0xfresh", 3, time.Now())
	wallets.Store("0xveteran", 500, time.Now())
	d := newDetector(wallets)

	signals := d.Analyze(buy("0xfresh", 3000, 0.5, 1_000_000), electionStats())
	assert.Contains(t, kinds(signals), store.SignalFreshWallet)

	signals = d.Analyze(buy("0xveteran", 3000, 0.5, 1_000_000), electionStats())
	assert.NotContains(t, kinds(signals), store.SignalFreshWallet)
}

// A cache miss never fires the signal: lookup failures cannot produce false
// positives.
func TestFreshWalletCacheMissStaysQuiet(t *testing.T) {
	d := newDetector(nil)

	signals := d.Analyze(buy("0xunknown", 3000, 0.5, 1_000_000), electionStats())
	assert.NotContains(t, kinds(signals), store.SignalFreshWallet)
}

// Scenario: three distinct wallets buying the same outcome inside the window;
// the third trade fires CLUSTER.
func TestClusterThirdTradeFires(t *testing.T) {
	d := newDetector(nil)
	stats := electionStats()
	base := int64(1_000_000)

	first := d.Analyze(buy("0xa", 3000, 0.5, base), stats)
	assert.NotContains(t, kinds(first), store.SignalCluster)

	second := d.Analyze(buy("0xb", 3000, 0.5, base+10_000), stats)
	assert.NotContains(t, kinds(second), store.SignalCluster)

	third := d.Analyze(buy("0xc", 3000, 0.5, base+20_000), stats)
	require.Contains(t, kinds(third), store.SignalCluster)

	for _, s := range third {
		if s.Kind == store.SignalCluster {
			assert.Len(t, s.Evidence["wallets"], 3)
		}
	}
}

func TestClusterExpiredWindowDoesNotFire(t *testing.T) {
	d := newDetector(nil)
	stats := electionStats()
	base := int64(1_000_000)

	d.Analyze(buy("0xa", 3000, 0.5, base), stats)
	d.Analyze(buy("0xb", 3000, 0.5, base+10_000), stats)

	// The third buyer arrives after the first left the window.
	signals := d.Analyze(buy("0xc", 3000, 0.5, base+70_000), stats)
	assert.NotContains(t, kinds(signals), store.SignalCluster)
}

func TestClusterCountsOnlyBuys(t *testing.T) {
	d := newDetector(nil)
	stats := electionStats()
	base := int64(1_000_000)

	d.Analyze(buy("0xa", 3000, 0.5, base), stats)
	d.Analyze(buy("0xb", 3000, 0.5, base+5_000), stats)

	sell := buy("0xc", 3000, 0.5, base+10_000)
	sell.Side = store.SideSell
	signals := d.Analyze(sell, stats)
	assert.NotContains(t, kinds(signals), store.SignalCluster)
}

func TestTimingNearClose(t *testing.T) {
	d := newDetector(nil)
	tradeTime := time.UnixMilli(1_700_000_000_000)

	near := store.NewMarketStats(store.MarketMeta{
		Title:   "Election",
		EndTime: tradeTime.Add(6 * time.Hour),
	})
	signals := d.Analyze(buy("0xa", 3000, 0.5, tradeTime.UnixMilli()), near)
	assert.Contains(t, kinds(signals), store.SignalTiming)

	far := store.NewMarketStats(store.MarketMeta{
		Title:   "Election",
		EndTime: tradeTime.Add(48 * time.Hour),
	})
	signals = d.Analyze(buy("0xb", 3000, 0.5, tradeTime.UnixMilli()), far)
	assert.NotContains(t, kinds(signals), store.SignalTiming)

	closed := store.NewMarketStats(store.MarketMeta{
		Title:   "Election",
		EndTime: tradeTime.Add(-1 * time.Hour),
	})
	signals = d.Analyze(buy("0xc", 3000, 0.5, tradeTime.UnixMilli()), closed)
	assert.NotContains(t, kinds(signals), store.SignalTiming, "end_time must be in the future")
}

// ODDS_MOVE never fires on a market's first surviving trade.
func TestOddsMoveFirstTradeQuiet(t *testing.T) {
	d := newDetector(nil)
	stats := electionStats()

	signals := d.Analyze(buy("0xa", 3000, 0.90, 1_000_000), stats)
	assert.NotContains(t, kinds(signals), store.SignalOddsMove)

	// The second trade sees the first one's price.
	signals = d.Analyze(buy("0xb", 3000, 0.80, 1_010_000), stats)
	assert.Contains(t, kinds(signals), store.SignalOddsMove)
}

func TestOddsMoveBelowThresholdQuiet(t *testing.T) {
	d := newDetector(nil)
	stats := electionStats()
	stats.SetLastPrice(0.50)

	signals := d.Analyze(buy("0xa", 3000, 0.54, 1_000_000), stats)
	assert.NotContains(t, kinds(signals), store.SignalOddsMove)
}

// Scenario: consensus YES at 0.82, a $6k BUY of NO is contrarian.
func TestContrarianAgainstYesConsensus(t *testing.T) {
	d := newDetector(nil)
	stats := electionStats()
	stats.SetConsensusYes(0.82)

	tr := buy("0xe", 6000, 0.18, 1_000_000)
	tr.Outcome = store.OutcomeNo
	signals := d.Analyze(tr, stats)
	assert.Contains(t, kinds(signals), store.SignalContrarian)
}

func TestContrarianSellAgainstYesConsensus(t *testing.T) {
	d := newDetector(nil)
	stats := electionStats()
	stats.SetConsensusYes(0.82)

	tr := buy("0xe", 6000, 0.82, 1_000_000)
	tr.Side = store.SideSell
	signals := d.Analyze(tr, stats)
	assert.Contains(t, kinds(signals), store.SignalContrarian)
}

func TestContrarianRequiresConsensusAndSize(t *testing.T) {
	d := newDetector(nil)

	// No consensus established.
	tr := buy("0xe", 6000, 0.18, 1_000_000)
	tr.Outcome = store.OutcomeNo
	signals := d.Analyze(tr, electionStats())
	assert.NotContains(t, kinds(signals), store.SignalContrarian)

	// Consensus too weak.
	weak := electionStats()
	weak.SetConsensusYes(0.60)
	signals = d.Analyze(tr, weak)
	assert.NotContains(t, kinds(signals), store.SignalContrarian)

	// Too small.
	strong := electionStats()
	strong.SetConsensusYes(0.82)
	small := buy("0xe", 4000, 0.18, 1_000_000)
	small.Outcome = store.OutcomeNo
	signals = d.Analyze(small, strong)
	assert.NotContains(t, kinds(signals), store.SignalContrarian)

	// Buying with the consensus is not contrarian.
	with := buy("0xe", 6000, 0.82, 1_000_000)
	signals = d.Analyze(with, strong)
	assert.NotContains(t, kinds(signals), store.SignalContrarian)
}

func TestContrarianAgainstNoConsensus(t *testing.T) {
	d := newDetector(nil)
	stats := electionStats()
	stats.SetConsensusYes(0.20) // consensus NO

	signals := d.Analyze(buy("0xe", 6000, 0.20, 1_000_000), stats)
	assert.Contains(t, kinds(signals), store.SignalContrarian)
}

func TestCommitUpdatesConsensusFromNoTrades(t *testing.T) {
	d := newDetector(nil)
	stats := electionStats()

	tr := buy("0xa", 3000, 0.30, 1_000_000)
	tr.Outcome = store.OutcomeNo
	d.Analyze(tr, stats)

	pYes, ok := stats.ConsensusYes()
	require.True(t, ok)
	assert.InDelta(t, 0.70, pYes, 1e-9, "a NO price implies 1-p for YES")
}

func TestConfidenceLevels(t *testing.T) {
	one := []store.Signal{{Kind: store.SignalWhale}}
	two := []store.Signal{{Kind: store.SignalWhale}, {Kind: store.SignalTiming}}

	assert.Equal(t, store.ConfidenceMedium, Confidence(one, 12000))
	assert.Equal(t, store.ConfidenceHigh, Confidence(two, 3000))
	assert.Equal(t, store.ConfidenceHigh, Confidence(one, 25000))
}

func TestWalletResultLifecycle(t *testing.T) {
	wallets := store.NewWalletCache(time.Hour)
	lookups := make(chan string, 4)
	d := New(testConfig(), wallets, lookups, metrics.New())

	// Miss schedules exactly one lookup per wallet.
	d.Analyze(buy("0xnew", 3000, 0.5, 1_000_000), electionStats())
	d.Analyze(buy("0xnew", 3000, 0.5, 1_005_000), electionStats())
	require.Len(t, lookups, 1)
	assert.Equal(t, "0xnew", <-lookups)

	// Applying the result makes the next trade fire.
	d.ApplyWalletResult("0xnew", 2)
	signals := d.Analyze(buy("0xnew", 3000, 0.5, 1_010_000), electionStats())
	assert.Contains(t, kinds(signals), store.SignalFreshWallet)
}
