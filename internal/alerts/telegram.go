package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"

	"github.com/polysentinel/engine/internal/store"
)

// DefaultTelegramAPIBase is the production Bot API endpoint.
const DefaultTelegramAPIBase = "https://api.telegram.org"

// TelegramSink sends HTML-formatted messages through the Bot API.
type TelegramSink struct {
	apiBase string
	token   string
	chatID  string
	client  *http.Client
}

// NewTelegramSink creates the Telegram sink. apiBase is overridable for tests;
// pass DefaultTelegramAPIBase in production.
func NewTelegramSink(apiBase, token, chatID string) *TelegramSink {
	return &TelegramSink{
		apiBase: apiBase,
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: sinkTimeout},
	}
}

// Name implements Sink.
func (s *TelegramSink) Name() string { return "telegram" }

// Send implements Sink.
func (s *TelegramSink) Send(ctx context.Context, a *store.Alert) error {
	payload, err := json.Marshal(map[string]any{
		"chat_id":                  s.chatID,
		"text":                     buildTelegramMessage(a),
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.apiBase, s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return classifyResponse(resp, string(body))
	}
	return nil
}

// buildTelegramMessage renders the alert as Bot API HTML.
func buildTelegramMessage(a *store.Alert) string {
	trade := a.Trade

	header := "⚠️"
	if a.Confidence == store.ConfidenceHigh {
		header = "\U0001f6a8"
	}
	title := a.MarketTitle
	if title == "" {
		title = "Market " + truncateID(trade.AssetID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s ALERT: %s</b>\n\n", header, html.EscapeString(title))
	fmt.Fprintf(&b, "<b>Side:</b> %s %s\n", trade.Side, trade.Outcome)
	fmt.Fprintf(&b, "<b>Price:</b> %.2f\n", trade.Price)
	fmt.Fprintf(&b, "<b>Amount:</b> $%s\n", usd(trade.USDValue))
	fmt.Fprintf(&b, "<b>Signals:</b> %s\n", telegramSignalText(a))

	if a.HasWalletTxs {
		fmt.Fprintf(&b, "<b>Wallet:</b> %d txs\n", a.WalletTxs)
	}
	if a.HasOdds {
		fmt.Fprintf(&b, "<b>Odds:</b> YES %.0f%% | NO %.0f%%\n", a.YesPrice*100, a.NoPrice*100)
	}
	if hours := a.HoursToClose(); hours > 0 {
		fmt.Fprintf(&b, "<b>Closes in:</b> %.1fh\n", hours)
	}

	b.WriteString("\n")
	if a.MarketSlug != "" {
		fmt.Fprintf(&b, `<a href="%s">view market</a>`, marketURL(a.MarketSlug))
	}
	if trade.Wallet != "" {
		if a.MarketSlug != "" {
			b.WriteString(" | ")
		}
		fmt.Fprintf(&b, `<a href="%s">check wallet</a>`, walletURL(trade.Wallet))
	}

	return b.String()
}

func telegramSignalText(a *store.Alert) string {
	parts := make([]string, 0, len(a.Signals))
	for _, s := range a.Signals {
		switch s.Kind {
		case store.SignalWhale:
			parts = append(parts, "Whale")
		case store.SignalFreshWallet:
			if txs, ok := s.Evidence["tx_count"].(int); ok {
				parts = append(parts, fmt.Sprintf("Fresh Wallet (%d txs)", txs))
			} else {
				parts = append(parts, "Fresh Wallet")
			}
		case store.SignalCluster:
			parts = append(parts, "Cluster")
		case store.SignalTiming:
			parts = append(parts, "Timing")
		case store.SignalOddsMove:
			parts = append(parts, "Odds Move")
		case store.SignalContrarian:
			parts = append(parts, "Contrarian")
		}
	}
	if len(parts) == 0 {
		return "Unknown"
	}
	return strings.Join(parts, " + ")
}
