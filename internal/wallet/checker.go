// Package wallet resolves wallet transaction counts over Polygon JSON-RPC.
package wallet

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/polysentinel/engine/internal/metrics"
)

const lookupTimeout = 5 * time.Second

// Result is one completed lookup. Err is set on RPC failure; the detection
// stage then treats the wallet as not-fresh and retries later.
type Result struct {
	Wallet  string
	TxCount int
	Err     error
}

// Checker serves wallet lookup requests from the detection stage. It owns the
// RPC client and runs on its own goroutine so detection never blocks on the
// network.
type Checker struct {
	client   *ethclient.Client
	requests chan string
	results  chan Result
	m        *metrics.Metrics
}

// New dials the RPC endpoint. Dialing an HTTP URL performs no network I/O, so
// a bad endpoint only surfaces per lookup.
func New(rpcURL string, m *metrics.Metrics) (*Checker, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, err
	}
	return &Checker{
		client:   client,
		requests: make(chan string, 64),
		results:  make(chan Result, 64),
		m:        m,
	}, nil
}

// Requests is the channel the detection stage sends wallet addresses on.
func (c *Checker) Requests() chan<- string {
	return c.requests
}

// Results carries completed lookups back to the detection stage.
func (c *Checker) Results() <-chan Result {
	return c.results
}

// Run serves lookups until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	defer c.client.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case wallet := <-c.requests:
			res := c.lookup(ctx, wallet)
			select {
			case c.results <- res:
			case <-ctx.Done():
				return
			}
		}
	}
}

// lookup resolves eth_getTransactionCount(wallet, "latest").
func (c *Checker) lookup(ctx context.Context, wallet string) Result {
	callCtx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	nonce, err := c.client.NonceAt(callCtx, common.HexToAddress(wallet), nil)
	if err != nil {
		c.m.WalletLookups.WithLabelValues("error").Inc()
		slog.Warn("wallet_lookup_failed", "wallet", truncate(wallet, 10), "error", err)
		return Result{Wallet: wallet, Err: err}
	}

	c.m.WalletLookups.WithLabelValues("ok").Inc()
	return Result{Wallet: wallet, TxCount: int(nonce)}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
