package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/polysentinel/engine/internal/store"
)

// Embed colors per confidence level.
const (
	colorHigh   = 15158332 // red
	colorMedium = 15105570 // orange
)

// DiscordSink posts rich embeds to a Discord webhook.
type DiscordSink struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSink creates the Discord webhook sink.
func NewDiscordSink(webhookURL string) *DiscordSink {
	return &DiscordSink{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: sinkTimeout},
	}
}

// Name implements Sink.
func (s *DiscordSink) Name() string { return "discord" }

// Send implements Sink.
func (s *DiscordSink) Send(ctx context.Context, a *store.Alert) error {
	payload, err := json.Marshal(map[string]any{
		"embeds": []map[string]any{buildEmbed(a)},
	})
	if err != nil {
		return fmt.Errorf("marshal embed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return classifyResponse(resp, string(body))
	}
	return nil
}

// buildEmbed renders the alert as a Discord embed object.
func buildEmbed(a *store.Alert) map[string]any {
	trade := a.Trade

	color := colorMedium
	header := "⚠️"
	if a.Confidence == store.ConfidenceHigh {
		color = colorHigh
		header = "\U0001f6a8"
	}

	title := a.MarketTitle
	if title == "" {
		title = "Market " + truncateID(trade.AssetID)
	}

	fields := []map[string]any{
		{
			"name": "Trade",
			"value": fmt.Sprintf("**%s %s** @ %.2f\n**$%s** (%s shares)",
				trade.Side, trade.Outcome, trade.Price, usd(trade.USDValue), shares(trade.Size)),
			"inline": true,
		},
		{
			"name":   "Signals",
			"value":  strings.Join(signalLines(a), "\n"),
			"inline": true,
		},
	}

	if a.HasWalletTxs {
		fields = append(fields, map[string]any{
			"name":   "Wallet",
			"value":  fmt.Sprintf("`%s`\n%d transactions", shortWallet(trade.Wallet), a.WalletTxs),
			"inline": true,
		})
	}

	if clusterSize := clusterWalletCount(a); clusterSize > 0 {
		fields = append(fields, map[string]any{
			"name":   "Cluster",
			"value":  fmt.Sprintf("%d wallets buying %s", clusterSize, trade.Outcome),
			"inline": true,
		})
	}

	if a.HasOdds {
		fields = append(fields, map[string]any{
			"name":   "Current Odds",
			"value":  fmt.Sprintf("YES: %.0f%% | NO: %.0f%%", a.YesPrice*100, a.NoPrice*100),
			"inline": false,
		})
	}

	embed := map[string]any{
		"title":  fmt.Sprintf("%s %s", header, title),
		"color":  color,
		"fields": fields,
		"footer": map[string]any{
			"text": fmt.Sprintf("Confidence: %s | %s", a.Confidence,
				trade.Time().UTC().Format("15:04:05 UTC")),
		},
	}
	if a.MarketSlug != "" {
		embed["url"] = marketURL(a.MarketSlug)
	}
	return embed
}

// signalLines renders one display line per firing signal.
func signalLines(a *store.Alert) []string {
	lines := make([]string, 0, len(a.Signals))
	for _, s := range a.Signals {
		switch s.Kind {
		case store.SignalWhale:
			lines = append(lines, "\U0001f40b Whale Trade")
		case store.SignalFreshWallet:
			lines = append(lines, "✨ Fresh Wallet")
		case store.SignalCluster:
			lines = append(lines, "\U0001f465 Cluster Activity")
		case store.SignalTiming:
			lines = append(lines, "⏰ Close to Resolution")
		case store.SignalOddsMove:
			lines = append(lines, "\U0001f4ca Odds Move")
		case store.SignalContrarian:
			lines = append(lines, "\U0001f500 Contrarian")
		}
	}
	if len(lines) == 0 {
		lines = append(lines, "Unknown")
	}
	return lines
}

func clusterWalletCount(a *store.Alert) int {
	for _, s := range a.Signals {
		if s.Kind != store.SignalCluster {
			continue
		}
		if wallets, ok := s.Evidence["wallets"].([]string); ok {
			return len(wallets)
		}
	}
	return 0
}

func marketURL(slug string) string {
	return "https://polymarket.com/event/" + slug
}

func walletURL(wallet string) string {
	return "https://polygonscan.com/address/" + wallet
}

func shortWallet(wallet string) string {
	if len(wallet) <= 10 {
		if wallet == "" {
			return "unknown"
		}
		return wallet
	}
	return wallet[:10] + "..."
}

func truncateID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:6] + "..." + id[len(id)-4:]
}

// usd formats a dollar amount with thousands separators.
func usd(v float64) string {
	s := fmt.Sprintf("%.0f", v)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 && r != '-' {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func shares(v float64) string {
	return usd(v)
}
