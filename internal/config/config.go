// Package config handles loading and validating configuration from
// environment variables, with fallback to a local .env file.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all configuration values for the surveillance engine.
type Config struct {
	// Upstream endpoints
	PolyWSURL   string `env:"POLY_WS_URL" envDefault:"wss://ws-subscriptions-clob.polymarket.com/ws/market"`
	GammaAPIURL string `env:"GAMMA_API_URL" envDefault:"https://gamma-api.polymarket.com"`
	CLOBAPIURL  string `env:"CLOB_API_URL" envDefault:"https://clob.polymarket.com"`
	RPCURL      string `env:"RPC_URL" envDefault:"https://polygon-rpc.com"`

	// Sinks
	DiscordWebhookURL string `env:"DISCORD_WEBHOOK_URL"`
	TelegramBotToken  string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID    string `env:"TELEGRAM_CHAT_ID"`

	// Filter and signal thresholds
	MinUSDSize                   float64 `env:"MIN_USD_SIZE" envDefault:"2000"`
	WhaleThresholdUSD            float64 `env:"WHALE_THRESHOLD_USD" envDefault:"10000"`
	WhaleMultiplier              float64 `env:"WHALE_MULTIPLIER" envDefault:"5.0"`
	FreshWalletMaxTxs            int     `env:"FRESH_WALLET_MAX_TXS" envDefault:"10"`
	ClusterWindowSeconds         int     `env:"CLUSTER_WINDOW_SECONDS" envDefault:"60"`
	ClusterMinWallets            int     `env:"CLUSTER_MIN_WALLETS" envDefault:"3"`
	LPDetectionWindowMS          int64   `env:"LP_DETECTION_WINDOW_MS" envDefault:"200"`
	TimingHoursThreshold         float64 `env:"TIMING_HOURS_THRESHOLD" envDefault:"24"`
	OddsMovementThreshold        float64 `env:"ODDS_MOVEMENT_THRESHOLD" envDefault:"0.05"`
	ContrarianConsensusThreshold float64 `env:"CONTRARIAN_CONSENSUS_THRESHOLD" envDefault:"0.70"`
	ContrarianMinSizeUSD         float64 `env:"CONTRARIAN_MIN_SIZE_USD" envDefault:"5000"`

	// ExcludedKeywordsRaw accepts a JSON array of substrings or a CSV list.
	ExcludedKeywordsRaw string `env:"EXCLUDE_MARKET_KEYWORDS" envDefault:"[\"Sports\", \"Football\", \"NBA\", \"NFL\"]"`

	// Subscription
	MarketLimit int `env:"MARKET_LIMIT" envDefault:"100"`

	// Dispatch
	AlertRatePerSecond float64 `env:"ALERT_RATE_PER_SECOND" envDefault:"1.0"`

	// Caching
	WalletCacheTTLSeconds int `env:"WALLET_CACHE_TTL_SECONDS" envDefault:"3600"`

	// MaxReconnectAttempts bounds consecutive failed reconnects; 0 = unlimited.
	MaxReconnectAttempts int `env:"MAX_RECONNECT_ATTEMPTS" envDefault:"0"`

	// Observability
	PrometheusPort int    `env:"PROMETHEUS_PORT" envDefault:"0"`
	EnableTUI      bool   `env:"ENABLE_TUI" envDefault:"false"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"INFO"`

	// Derived, not read from the environment.
	ExcludedKeywords []string      `env:"-"`
	ClusterWindow    time.Duration `env:"-"`
	LPWindow         time.Duration `env:"-"`
	WalletCacheTTL   time.Duration `env:"-"`
}

// Load reads configuration from environment variables with fallback to a .env
// file. Real environment variables win over .env entries.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.ExcludedKeywords = parseKeywordList(cfg.ExcludedKeywordsRaw)
	cfg.ClusterWindow = time.Duration(cfg.ClusterWindowSeconds) * time.Second
	cfg.LPWindow = time.Duration(cfg.LPDetectionWindowMS) * time.Millisecond
	cfg.WalletCacheTTL = time.Duration(cfg.WalletCacheTTLSeconds) * time.Second

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks that required configuration values are set and valid.
func (c *Config) Validate() error {
	if c.PolyWSURL == "" {
		return fmt.Errorf("POLY_WS_URL is required")
	}
	if c.MinUSDSize <= 0 {
		return fmt.Errorf("MIN_USD_SIZE must be positive")
	}
	if c.WhaleThresholdUSD <= 0 {
		return fmt.Errorf("WHALE_THRESHOLD_USD must be positive")
	}
	if c.WhaleMultiplier <= 1 {
		return fmt.Errorf("WHALE_MULTIPLIER must be greater than 1")
	}
	if c.ClusterMinWallets < 2 {
		return fmt.Errorf("CLUSTER_MIN_WALLETS must be at least 2")
	}
	if c.MarketLimit < 1 {
		return fmt.Errorf("MARKET_LIMIT must be at least 1")
	}
	if c.AlertRatePerSecond <= 0 {
		return fmt.Errorf("ALERT_RATE_PER_SECOND must be positive")
	}
	if c.TelegramBotToken != "" && c.TelegramChatID == "" {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	if !c.DiscordEnabled() && !c.TelegramEnabled() {
		return fmt.Errorf("at least one sink must be configured (DISCORD_WEBHOOK_URL or TELEGRAM_BOT_TOKEN + TELEGRAM_CHAT_ID)")
	}
	return nil
}

// DiscordEnabled reports whether the Discord webhook sink is configured.
func (c *Config) DiscordEnabled() bool {
	return c.DiscordWebhookURL != ""
}

// TelegramEnabled reports whether the Telegram sink is configured.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}

// MaskedDiscordWebhook returns the webhook URL with most characters hidden.
func (c *Config) MaskedDiscordWebhook() string {
	return maskSecret(c.DiscordWebhookURL)
}

// MaskedTelegramToken returns the bot token with most characters hidden.
func (c *Config) MaskedTelegramToken() string {
	return maskSecret(c.TelegramBotToken)
}

// maskSecret hides all but the first and last 4 characters of a secret.
func maskSecret(s string) string {
	if len(s) <= 8 {
		if len(s) == 0 {
			return "(not set)"
		}
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

var quotedItem = regexp.MustCompile(`"([^"]*)"`)

// parseKeywordList parses a JSON-style list ("[\"Sports\", \"NBA\"]") or a
// comma-separated list. An empty value means no exclusions.
func parseKeywordList(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if strings.HasPrefix(value, "[") {
		if items := quotedItem.FindAllStringSubmatch(value, -1); items != nil {
			out := make([]string, 0, len(items))
			for _, m := range items {
				if m[1] != "" {
					out = append(out, m[1])
				}
			}
			return out
		}
		value = strings.Trim(value, "[]")
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		item = strings.Trim(strings.TrimSpace(item), `"'`)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
