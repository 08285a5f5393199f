package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polysentinel/engine/internal/store"
)

func formattedAlert() *store.Alert {
	return &store.Alert{
		ID: "alert-1",
		Trade: store.Trade{
			AssetID:   "asset-1",
			Side:      store.SideBuy,
			Outcome:   store.OutcomeNo,
			Price:     0.18,
			Size:      33333,
			USDValue:  6000,
			Wallet:    "0xabcdef0123456789",
			Timestamp: time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC).UnixMilli(),
		},
		Signals: []store.Signal{
			{Kind: store.SignalContrarian, Evidence: map[string]any{"consensus_yes": 0.82}},
			{Kind: store.SignalFreshWallet, Evidence: map[string]any{"tx_count": 4}},
		},
		Confidence:   store.ConfidenceHigh,
		MarketTitle:  "Will it rain?",
		MarketSlug:   "rain",
		YesPrice:     0.81,
		NoPrice:      0.19,
		HasOdds:      true,
		WalletTxs:    4,
		HasWalletTxs: true,
	}
}

func TestBuildEmbed(t *testing.T) {
	embed := buildEmbed(formattedAlert())

	assert.Equal(t, colorHigh, embed["color"])
	assert.Contains(t, embed["title"], "Will it rain?")
	assert.Equal(t, "https://polymarket.com/event/rain", embed["url"])

	fields, ok := embed["fields"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, fields, 4) // Trade, Signals, Wallet, Current Odds

	assert.Contains(t, fields[0]["value"], "BUY NO")
	assert.Contains(t, fields[0]["value"], "$6,000")
	assert.Contains(t, fields[1]["value"], "Contrarian")
	assert.Contains(t, fields[1]["value"], "Fresh Wallet")
	assert.Contains(t, fields[2]["value"], "0xabcdef01")
	assert.Contains(t, fields[2]["value"], "4 transactions")
	assert.Contains(t, fields[3]["value"], "YES: 81%")

	footer, ok := embed["footer"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, footer["text"], "HIGH")
}

func TestBuildEmbedMediumColor(t *testing.T) {
	a := formattedAlert()
	a.Confidence = store.ConfidenceMedium
	embed := buildEmbed(a)
	assert.Equal(t, colorMedium, embed["color"])
}

func TestBuildTelegramMessage(t *testing.T) {
	msg := buildTelegramMessage(formattedAlert())

	assert.Contains(t, msg, "<b>")
	assert.Contains(t, msg, "Will it rain?")
	assert.Contains(t, msg, "BUY NO")
	assert.Contains(t, msg, "$6,000")
	assert.Contains(t, msg, "Fresh Wallet (4 txs)")
	assert.Contains(t, msg, `<a href="https://polymarket.com/event/rain">view market</a>`)
	assert.Contains(t, msg, `<a href="https://polygonscan.com/address/0xabcdef0123456789">check wallet</a>`)
}

func TestBuildTelegramMessageEscapesTitle(t *testing.T) {
	a := formattedAlert()
	a.MarketTitle = "Will <X> & Y happen?"
	msg := buildTelegramMessage(a)
	assert.Contains(t, msg, "Will &lt;X&gt; &amp; Y happen?")
}

func TestUSDFormatting(t *testing.T) {
	assert.Equal(t, "0", usd(0))
	assert.Equal(t, "950", usd(950))
	assert.Equal(t, "6,000", usd(6000))
	assert.Equal(t, "1,234,567", usd(1234567))
}

func TestSendErrorClassification(t *testing.T) {
	assert.True(t, (&SendError{Status: 400}).Permanent())
	assert.True(t, (&SendError{Status: 404}).Permanent())
	assert.False(t, (&SendError{Status: 429}).Permanent())
	assert.False(t, (&SendError{Status: 500}).Permanent())
	assert.False(t, (&SendError{Status: 503}).Permanent())
}
