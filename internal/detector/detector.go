// Package detector evaluates the six insider signals over per-market
// statistics. It is the single writer of MarketStats and the wallet cache and
// performs no I/O of its own.
package detector

import (
	"math"
	"time"

	"github.com/polysentinel/engine/internal/config"
	"github.com/polysentinel/engine/internal/metrics"
	"github.com/polysentinel/engine/internal/store"
)

// highConfidenceUSD promotes any alert at or above this notional to HIGH.
const highConfidenceUSD = 25000

// whaleSampleFloor is the minimum window size before the relative whale
// predicate may fire; it prevents spurious firings on cold markets.
const whaleSampleFloor = 20

// Detector applies the signal predicates to filter-surviving trades.
type Detector struct {
	cfg     *config.Config
	wallets *store.WalletCache
	m       *metrics.Metrics

	// lookups carries wallet addresses to the async fetcher; nil disables
	// fetching, so fresh-wallet detection only sees wallets already in the
	// cache. requested tracks in-flight fetches so a bursty wallet does not
	// queue duplicates.
	lookups   chan<- string
	requested map[string]time.Time
}

// New creates a detector. lookups may be nil when no RPC endpoint is available.
func New(cfg *config.Config, wallets *store.WalletCache, lookups chan<- string, m *metrics.Metrics) *Detector {
	return &Detector{
		cfg:       cfg,
		wallets:   wallets,
		m:         m,
		lookups:   lookups,
		requested: make(map[string]time.Time),
	}
}

// Analyze evaluates all signal predicates against the pre-update statistics,
// then commits the trade to the market aggregates. The recent-buyer window is
// the one exception: the current trade joins it before cluster evaluation so
// that it counts toward its own cluster.
func (d *Detector) Analyze(t store.Trade, stats *store.MarketStats) []store.Signal {
	cutoff := t.Timestamp - int64(d.cfg.ClusterWindowSeconds)*1000
	stats.PruneBuyers(cutoff)
	if t.Side == store.SideBuy && t.Wallet != "" {
		stats.RecordBuyer(t.Wallet, t.Outcome, t.Timestamp)
	}

	var signals []store.Signal
	add := func(kind store.SignalKind, evidence map[string]any) {
		signals = append(signals, store.Signal{Kind: kind, Evidence: evidence})
		d.m.SignalsDetected.WithLabelValues(string(kind)).Inc()
	}

	// A. WHALE: absolutely large, or large relative to the window mean.
	if t.USDValue >= d.cfg.WhaleThresholdUSD {
		add(store.SignalWhale, map[string]any{"threshold_usd": d.cfg.WhaleThresholdUSD})
	} else if stats.SampleCount() >= whaleSampleFloor {
		if mean := stats.SampleMean(); mean > 0 && t.USDValue >= d.cfg.WhaleMultiplier*mean {
			add(store.SignalWhale, map[string]any{
				"window_mean": mean,
				"multiplier":  t.USDValue / mean,
			})
		}
	}

	// B. FRESH_WALLET: cache only; a miss schedules an async fetch and the
	// signal stays quiet. Lookup failure can never produce a false positive.
	if t.Wallet != "" {
		if txs, ok := d.wallets.Lookup(t.Wallet, time.Now()); ok {
			if txs < d.cfg.FreshWalletMaxTxs {
				add(store.SignalFreshWallet, map[string]any{"tx_count": txs})
			}
		} else {
			d.requestLookup(t.Wallet)
		}
	}

	// C. CLUSTER: distinct wallets buying the same outcome inside the window.
	// Only BUYs join a cluster.
	if t.Side == store.SideBuy && t.Wallet != "" {
		wallets := stats.DistinctBuyers(t.Outcome)
		if len(wallets) >= d.cfg.ClusterMinWallets {
			add(store.SignalCluster, map[string]any{
				"wallets":        wallets,
				"window_seconds": d.cfg.ClusterWindowSeconds,
			})
		}
	}

	// D. TIMING: trade close to a future market close.
	if end := stats.Meta.EndTime; !end.IsZero() {
		remaining := end.Sub(t.Time())
		if remaining > 0 && remaining.Hours() <= d.cfg.TimingHoursThreshold {
			add(store.SignalTiming, map[string]any{"hours_to_close": remaining.Hours()})
		}
	}

	// E. ODDS_MOVE: a jump against the previous surviving price. Never fires
	// on a market's first surviving trade.
	if last, ok := stats.LastPrice(); ok {
		if math.Abs(t.Price-last) >= d.cfg.OddsMovementThreshold {
			add(store.SignalOddsMove, map[string]any{
				"prev_price": last,
				"new_price":  t.Price,
			})
		}
	}

	// F. CONTRARIAN: size against an established consensus.
	if t.USDValue >= d.cfg.ContrarianMinSizeUSD {
		if pYes, ok := stats.ConsensusYes(); ok && d.isContrarian(t, pYes) {
			add(store.SignalContrarian, map[string]any{"consensus_yes": pYes})
		}
	}

	// Commit after evaluation so a trade never fires against its own
	// contribution to the aggregates.
	stats.AppendSample(t.TradeID, t.USDValue)
	stats.SetLastPrice(t.Price)
	if t.Outcome == store.OutcomeYes {
		stats.SetConsensusYes(t.Price)
	} else {
		stats.SetConsensusYes(1 - t.Price)
	}

	return signals
}

// isContrarian reports whether the trade increases exposure to the minority
// side of an established consensus.
func (d *Detector) isContrarian(t store.Trade, pYes float64) bool {
	threshold := d.cfg.ContrarianConsensusThreshold
	if math.Max(pYes, 1-pYes) < threshold {
		return false
	}
	if pYes >= threshold {
		// Consensus YES: betting on NO is contrarian.
		return (t.Side == store.SideBuy && t.Outcome == store.OutcomeNo) ||
			(t.Side == store.SideSell && t.Outcome == store.OutcomeYes)
	}
	// Consensus NO: betting on YES is contrarian.
	return (t.Side == store.SideBuy && t.Outcome == store.OutcomeYes) ||
		(t.Side == store.SideSell && t.Outcome == store.OutcomeNo)
}

// Confidence derives the two-level confidence from the firing set.
func Confidence(signals []store.Signal, usdValue float64) store.Confidence {
	if len(signals) >= 2 || usdValue >= highConfidenceUSD {
		return store.ConfidenceHigh
	}
	return store.ConfidenceMedium
}

// ApplyWalletResult stores an async lookup result. It runs on the detection
// goroutine so the cache keeps a single writer.
func (d *Detector) ApplyWalletResult(wallet string, txCount int) {
	d.wallets.Store(wallet, txCount, time.Now())
	delete(d.requested, wallet)
}

// ClearWalletRequest forgets a failed in-flight lookup so the wallet's next
// trade retries it.
func (d *Detector) ClearWalletRequest(wallet string) {
	delete(d.requested, wallet)
}

// requestLookup schedules an async wallet fetch, deduplicating in-flight
// requests. The send never blocks; a full fetcher queue just means the wallet
// is retried on its next trade.
func (d *Detector) requestLookup(wallet string) {
	if d.lookups == nil {
		return
	}
	if _, inflight := d.requested[wallet]; inflight {
		return
	}
	select {
	case d.lookups <- wallet:
		d.requested[wallet] = time.Now()
	default:
	}
}
