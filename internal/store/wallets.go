package store

import (
	"sync"
	"time"
)

// WalletInfo is a cached chain lookup for one wallet.
type WalletInfo struct {
	TxCount   int
	FetchedAt time.Time
}

// WalletCache caches wallet transaction counts with TTL eviction. The
// detection stage is the only writer; the enricher reads concurrently.
type WalletCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]WalletInfo
}

// NewWalletCache creates a cache whose entries expire after ttl.
func NewWalletCache(ttl time.Duration) *WalletCache {
	return &WalletCache{
		ttl:     ttl,
		entries: make(map[string]WalletInfo),
	}
}

// Lookup returns the cached transaction count for wallet. ok is false when the
// wallet is unknown or the entry has expired; expired entries are left in
// place for the writer to refresh.
func (c *WalletCache) Lookup(wallet string, now time.Time) (txCount int, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info, found := c.entries[wallet]
	if !found || now.Sub(info.FetchedAt) > c.ttl {
		return 0, false
	}
	return info.TxCount, true
}

// Store records a fresh lookup result for wallet.
func (c *WalletCache) Store(wallet string, txCount int, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[wallet] = WalletInfo{TxCount: txCount, FetchedAt: now}
}

// Len returns the number of cached wallets, expired entries included.
func (c *WalletCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
