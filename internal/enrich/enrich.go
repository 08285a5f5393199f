// Package enrich resolves market and wallet context for alert candidates.
// Everything here is best effort: a failed lookup degrades the alert, never
// blocks or drops it.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polysentinel/engine/internal/ingest"
	"github.com/polysentinel/engine/internal/store"
)

const oddsTimeout = 2 * time.Second

// Enricher fills alert context from the catalog cache, the order book, and
// the wallet cache. Catalog and wallet reads never touch the network.
type Enricher struct {
	catalog *ingest.Catalog
	wallets *store.WalletCache
	clobURL string
	client  *http.Client
}

// New creates an enricher against the CLOB REST endpoint.
func New(catalog *ingest.Catalog, wallets *store.WalletCache, clobURL string) *Enricher {
	return &Enricher{
		catalog: catalog,
		wallets: wallets,
		clobURL: clobURL,
		client:  &http.Client{Timeout: oddsTimeout},
	}
}

// Enrich resolves market title, close time, current odds, and wallet summary.
// Fields that cannot be resolved are left at their zero values.
func (e *Enricher) Enrich(ctx context.Context, a *store.Alert) {
	if meta, ok := e.catalog.Lookup(a.Trade.AssetID); ok {
		a.MarketTitle = meta.Title
		a.MarketSlug = meta.Slug
		a.EndTime = meta.EndTime

		if yes, err := e.fetchMidpoint(ctx, a.Trade.AssetID, meta.Outcome); err == nil {
			a.YesPrice = yes
			a.NoPrice = 1 - yes
			a.HasOdds = true
		} else {
			slog.Debug("odds_fetch_failed", "asset", a.Trade.AssetID, "error", err)
		}
	}

	if a.Trade.Wallet != "" {
		if txs, ok := e.wallets.Lookup(a.Trade.Wallet, time.Now()); ok {
			a.WalletTxs = txs
			a.HasWalletTxs = true
		}
	}
}

// bookResponse is the order-book snapshot returned by the CLOB.
type bookResponse struct {
	Bids []bookLevel `json:"bids"`
	Asks []bookLevel `json:"asks"`
}

type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// fetchMidpoint returns the current implied YES price from the book midpoint
// of the traded token.
func (e *Enricher) fetchMidpoint(ctx context.Context, assetID string, outcome store.Outcome) (float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, oddsTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("token_id", assetID)
	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, e.clobURL+"/book?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("book status %d", resp.StatusCode)
	}

	var book bookResponse
	if err := json.NewDecoder(resp.Body).Decode(&book); err != nil {
		return 0, err
	}

	bestBid, okBid := bestPrice(book.Bids, true)
	bestAsk, okAsk := bestPrice(book.Asks, false)
	if !okBid || !okAsk {
		return 0, fmt.Errorf("book has no two-sided quote")
	}

	mid := (bestBid + bestAsk) / 2
	if outcome == store.OutcomeNo {
		mid = 1 - mid
	}
	return mid, nil
}

// bestPrice returns the highest bid or lowest ask from a book side.
func bestPrice(levels []bookLevel, highest bool) (float64, bool) {
	best := 0.0
	found := false
	for _, lvl := range levels {
		d, err := decimal.NewFromString(lvl.Price)
		if err != nil {
			continue
		}
		p := d.InexactFloat64()
		if !found || (highest && p > best) || (!highest && p < best) {
			best = p
			found = true
		}
	}
	return best, found
}
