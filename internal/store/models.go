// Package store provides the data model and in-memory state shared by the
// pipeline stages: trades, per-market statistics, wallet cache, and alerts.
package store

import "time"

// Side is the taker side of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Outcome is the binary side of a prediction market.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// Trade represents a single trade event received from the CLOB stream.
// Trades are immutable once constructed.
type Trade struct {
	// AssetID is the outcome token ID the trade executed on
	AssetID string

	// Market is the condition ID (market identifier)
	Market string

	// Side is BUY or SELL
	Side Side

	// Outcome is YES or NO
	Outcome Outcome

	// Price is the execution price in the [0, 1] probability range
	Price float64

	// Size is the number of shares traded
	Size float64

	// USDValue is Price * Size
	USDValue float64

	// Wallet is the lowercase taker address (may be empty)
	Wallet string

	// Timestamp is the trade time as millisecond epoch
	Timestamp int64

	// TradeID is the upstream trade identifier
	TradeID string
}

// Time converts the millisecond timestamp to a time.Time.
func (t Trade) Time() time.Time {
	return time.UnixMilli(t.Timestamp)
}

// SignalKind classifies a detection signal.
type SignalKind string

const (
	SignalWhale       SignalKind = "WHALE"
	SignalFreshWallet SignalKind = "FRESH_WALLET"
	SignalCluster     SignalKind = "CLUSTER"
	SignalTiming      SignalKind = "TIMING"
	SignalOddsMove    SignalKind = "ODDS_MOVE"
	SignalContrarian  SignalKind = "CONTRARIAN"
)

// Signal is a single firing detection predicate with kind-specific evidence
// (whale multiplier, cluster wallets, hours to close, ...).
type Signal struct {
	Kind     SignalKind
	Evidence map[string]any
}

// Confidence is the two-level alert confidence derived from the signal set.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
)

// Alert bundles a trade, its firing signals, and enrichment for dispatch.
// The dispatcher owns an Alert from enqueue to final send or drop.
type Alert struct {
	ID         string
	Trade      Trade
	Signals    []Signal
	Confidence Confidence

	// Enrichment, best effort. Zero values mean unknown.
	MarketTitle  string
	MarketSlug   string
	EndTime      time.Time
	YesPrice     float64
	NoPrice      float64
	HasOdds      bool
	WalletTxs    int
	HasWalletTxs bool

	QueuedAt time.Time
}

// Kinds returns the signal kinds carried by the alert.
func (a *Alert) Kinds() []SignalKind {
	kinds := make([]SignalKind, 0, len(a.Signals))
	for _, s := range a.Signals {
		kinds = append(kinds, s.Kind)
	}
	return kinds
}

// HoursToClose returns the hours remaining until market close relative to the
// trade time, or 0 if the close time is unknown or already passed.
func (a *Alert) HoursToClose() float64 {
	if a.EndTime.IsZero() {
		return 0
	}
	remaining := a.EndTime.Sub(a.Trade.Time())
	if remaining <= 0 {
		return 0
	}
	return remaining.Hours()
}
