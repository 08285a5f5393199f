// Package ingest handles market discovery and the streaming connection to the
// CLOB, emitting normalized trades for the pipeline.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/polysentinel/engine/internal/store"
)

const (
	catalogTimeout    = 10 * time.Second
	catalogRetries    = 3
	catalogRetryPause = 2 * time.Second
)

// gammaMarket is one market as returned by the gamma API.
type gammaMarket struct {
	ID           string  `json:"id"`
	Question     string  `json:"question"`
	Slug         string  `json:"slug"`
	EndDate      string  `json:"endDate"`
	Volume24hr   float64 `json:"volume24hr"`
	ClobTokenIDs string  `json:"clobTokenIds"` // JSON array as string
	Outcomes     string  `json:"outcomes"`     // JSON array as string
	ConditionID  string  `json:"conditionId"`
}

// Catalog is the startup snapshot of subscribed markets. It is immutable after
// load; every stage reads it freely.
type Catalog struct {
	meta  map[string]store.MarketMeta
	order []string // asset IDs, volume-ranked
}

// LoadCatalog fetches the top markets by 24h volume and builds the
// subscription set. It retries a bounded number of times and fails hard after
// that: the engine does not run blind.
func LoadCatalog(ctx context.Context, baseURL string, limit int, excludeKeywords []string) (*Catalog, error) {
	client := &http.Client{Timeout: catalogTimeout}

	var lastErr error
	for attempt := 1; attempt <= catalogRetries; attempt++ {
		markets, err := fetchMarkets(ctx, client, baseURL, limit)
		if err == nil {
			return buildCatalog(markets, limit, excludeKeywords), nil
		}
		lastErr = err
		slog.Warn("catalog_fetch_failed", "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(catalogRetryPause):
		}
	}
	return nil, fmt.Errorf("catalog unavailable after %d attempts: %w", catalogRetries, lastErr)
}

func fetchMarkets(ctx context.Context, client *http.Client, baseURL string, limit int) ([]gammaMarket, error) {
	q := url.Values{}
	q.Set("closed", "false")
	q.Set("order", "volume24hr")
	q.Set("ascending", "false")
	q.Set("limit", fmt.Sprintf("%d", limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/markets?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch markets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var markets []gammaMarket
	if err := json.NewDecoder(resp.Body).Decode(&markets); err != nil {
		return nil, fmt.Errorf("decode markets: %w", err)
	}
	return markets, nil
}

// buildCatalog ranks, truncates, and expands markets into per-token metadata.
// The first token of a market maps to YES, the second to NO.
func buildCatalog(markets []gammaMarket, limit int, excludeKeywords []string) *Catalog {
	sort.SliceStable(markets, func(i, j int) bool {
		return markets[i].Volume24hr > markets[j].Volume24hr
	})
	if len(markets) > limit {
		markets = markets[:limit]
	}

	c := &Catalog{meta: make(map[string]store.MarketMeta)}
	for _, m := range markets {
		var tokenIDs []string
		if err := json.Unmarshal([]byte(m.ClobTokenIDs), &tokenIDs); err != nil || len(tokenIDs) == 0 {
			slog.Debug("catalog_skip_market", "market", m.Slug, "reason", "no token ids")
			continue
		}

		endTime := parseEndDate(m.EndDate)
		excluded := titleExcluded(m.Question, excludeKeywords)

		for i, tokenID := range tokenIDs {
			if tokenID == "" {
				continue
			}
			outcome := store.OutcomeYes
			if i > 0 {
				outcome = store.OutcomeNo
			}
			if _, dup := c.meta[tokenID]; dup {
				continue
			}
			c.meta[tokenID] = store.MarketMeta{
				Title:       m.Question,
				Slug:        m.Slug,
				ConditionID: m.ConditionID,
				Outcome:     outcome,
				EndTime:     endTime,
				Excluded:    excluded,
			}
			c.order = append(c.order, tokenID)
		}
	}

	slog.Info("catalog_loaded", "markets", len(markets), "tokens", len(c.order))
	return c
}

// NewCatalog builds a catalog from prepared metadata, bypassing the fetch.
// No volume ranking is applied: AssetIDs follows the map's iteration order.
func NewCatalog(meta map[string]store.MarketMeta) *Catalog {
	c := &Catalog{meta: make(map[string]store.MarketMeta, len(meta))}
	for assetID, m := range meta {
		c.meta[assetID] = m
		c.order = append(c.order, assetID)
	}
	return c
}

// AssetIDs returns the subscription set, volume-ranked for a loaded catalog.
func (c *Catalog) AssetIDs() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Meta returns the metadata map keyed by asset ID, for seeding the registry.
func (c *Catalog) Meta() map[string]store.MarketMeta {
	return c.meta
}

// Lookup returns the metadata for assetID.
func (c *Catalog) Lookup(assetID string) (store.MarketMeta, bool) {
	m, ok := c.meta[assetID]
	return m, ok
}

func titleExcluded(title string, keywords []string) bool {
	lower := strings.ToLower(title)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func parseEndDate(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, format := range []string{time.RFC3339, "2006-01-02T15:04:05Z", "2006-01-02"} {
		if t, err := time.Parse(format, value); err == nil {
			return t
		}
	}
	return time.Time{}
}
