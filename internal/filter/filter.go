// Package filter implements the deterministic reject chain that drops noise
// before signal detection: market keywords, minimum size, LP/arb pairing.
package filter

import (
	"log/slog"

	"github.com/polysentinel/engine/internal/config"
	"github.com/polysentinel/engine/internal/metrics"
	"github.com/polysentinel/engine/internal/store"
)

// Verdict is the outcome of running a trade through the pipeline.
type Verdict int

const (
	Pass Verdict = iota
	RejectUnknownMarket
	RejectExcludedMarket
	RejectMinSize
	RejectLPPair
)

// Stage returns the metrics stage label for a rejection.
func (v Verdict) Stage() string {
	switch v {
	case RejectUnknownMarket, RejectExcludedMarket:
		return metrics.StageMarket
	case RejectMinSize:
		return metrics.StageSize
	case RejectLPPair:
		return metrics.StageLP
	default:
		return ""
	}
}

// Pipeline applies the three-stage reject chain. It runs on the detection
// goroutine and mutates MarketStats under the single-writer rule.
type Pipeline struct {
	cfg *config.Config
	reg *store.Registry
	m   *metrics.Metrics

	// pending tracks each wallet's last surviving trade per market for LP
	// pairing. Keyed by condition ID because a balanced pair arrives on the
	// market's two outcome tokens. Stale entries are pruned lazily on access.
	pending map[string]map[string]store.Trade
}

// New creates a filter pipeline over the market registry.
func New(cfg *config.Config, reg *store.Registry, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		reg:     reg,
		m:       m,
		pending: make(map[string]map[string]store.Trade),
	}
}

// Check runs the chain; the first rejection stops it. stats may be nil for
// markets outside the catalog, which is itself a rejection.
//
// Stage 3 pairs balanced opposite-outcome trades from one wallet inside the LP
// window. On a match both legs are rejected: the incoming trade is discarded
// and the paired leg's contribution is rolled back out of its aggregates (the
// paired leg itself already flowed downstream as a candidate).
func (p *Pipeline) Check(t store.Trade, stats *store.MarketStats) Verdict {
	verdict := p.check(t, stats)
	if verdict != Pass {
		p.m.FilterRejections.WithLabelValues(verdict.Stage()).Inc()
	}
	return verdict
}

func (p *Pipeline) check(t store.Trade, stats *store.MarketStats) Verdict {
	// Stage 1: market keyword filter.
	if stats == nil {
		return RejectUnknownMarket
	}
	if stats.Meta.Excluded {
		return RejectExcludedMarket
	}

	// Stage 2: minimum size.
	if t.USDValue < p.cfg.MinUSDSize {
		return RejectMinSize
	}

	// Stage 3: LP/arbitrage pairing.
	if t.Wallet != "" {
		if paired, ok := p.pairOpposite(t); ok {
			if prev := p.reg.Get(paired.AssetID); prev != nil {
				prev.RemoveSample(paired.TradeID)
				prev.RemoveBuyer(paired.Wallet, paired.Timestamp)
			}
			slog.Debug("lp_pair_rejected",
				"wallet", t.Wallet,
				"market", marketKey(t),
				"delta_ms", t.Timestamp-paired.Timestamp,
			)
			return RejectLPPair
		}
		p.recordPending(t)
	}

	return Pass
}

// pairOpposite finds and consumes the wallet's pending opposite-outcome trade
// on the same market inside the LP window.
func (p *Pipeline) pairOpposite(t store.Trade) (store.Trade, bool) {
	wallets := p.pending[marketKey(t)]
	if wallets == nil {
		return store.Trade{}, false
	}
	prev, ok := wallets[t.Wallet]
	if !ok {
		return store.Trade{}, false
	}

	delta := t.Timestamp - prev.Timestamp
	if delta < 0 {
		delta = -delta
	}
	if delta > p.cfg.LPDetectionWindowMS {
		delete(wallets, t.Wallet)
		return store.Trade{}, false
	}
	if prev.Outcome == t.Outcome {
		return store.Trade{}, false
	}

	delete(wallets, t.Wallet)
	if len(wallets) == 0 {
		delete(p.pending, marketKey(t))
	}
	return prev, true
}

// recordPending stores t as the wallet's latest pairing candidate,
// overwriting any stale entry.
func (p *Pipeline) recordPending(t store.Trade) {
	key := marketKey(t)
	wallets := p.pending[key]
	if wallets == nil {
		wallets = make(map[string]store.Trade)
		p.pending[key] = wallets
	}
	wallets[t.Wallet] = t
}

// marketKey scopes LP pairing to the market, falling back to the token for
// feeds that omit the condition ID.
func marketKey(t store.Trade) string {
	if t.Market != "" {
		return t.Market
	}
	return t.AssetID
}
