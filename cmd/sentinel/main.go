// Package main is the entry point for the PolySentinel surveillance engine.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/polysentinel/engine/internal/alerts"
	"github.com/polysentinel/engine/internal/config"
	"github.com/polysentinel/engine/internal/detector"
	"github.com/polysentinel/engine/internal/enrich"
	"github.com/polysentinel/engine/internal/filter"
	"github.com/polysentinel/engine/internal/ingest"
	"github.com/polysentinel/engine/internal/metrics"
	"github.com/polysentinel/engine/internal/store"
	"github.com/polysentinel/engine/internal/ui"
	"github.com/polysentinel/engine/internal/wallet"
)

// Exit codes: 0 clean shutdown, 1 fatal startup error, 2 unrecoverable runtime.
const (
	exitOK      = 0
	exitStartup = 1
	exitRuntime = 2
)

const (
	// TradeChannelBuffer is the depth of the stream → detection channel.
	TradeChannelBuffer = 1000
	// uiFeedBuffer bounds the TUI tap channels.
	uiFeedBuffer = 256
	// statsLogInterval is the cadence of the periodic statistics log line.
	statsLogInterval = 5 * time.Minute
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return exitStartup
	}

	logger := setupLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("polysentinel starting", "version", "1.0.0")
	slog.Info("config_loaded",
		"ws_url", cfg.PolyWSURL,
		"gamma_url", cfg.GammaAPIURL,
		"rpc_url", cfg.RPCURL,
		"discord_webhook", cfg.MaskedDiscordWebhook(),
		"telegram_token", cfg.MaskedTelegramToken(),
		"min_usd_size", cfg.MinUSDSize,
		"whale_threshold_usd", cfg.WhaleThresholdUSD,
		"whale_multiplier", cfg.WhaleMultiplier,
		"fresh_wallet_max_txs", cfg.FreshWalletMaxTxs,
		"cluster_window", cfg.ClusterWindow,
		"cluster_min_wallets", cfg.ClusterMinWallets,
		"lp_window", cfg.LPWindow,
		"timing_hours", cfg.TimingHoursThreshold,
		"odds_threshold", cfg.OddsMovementThreshold,
		"excluded_keywords", cfg.ExcludedKeywords,
		"market_limit", cfg.MarketLimit,
		"alert_rate", cfg.AlertRatePerSecond,
		"tui", cfg.EnableTUI,
	)

	m := metrics.New()
	tracker := metrics.NewTracker()

	if cfg.PrometheusPort > 0 {
		go func() {
			slog.Info("metrics_listening", "port", cfg.PrometheusPort)
			if err := m.Serve(cfg.PrometheusPort); err != nil {
				slog.Warn("metrics_server_stopped", "error", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Market catalog: the engine does not run blind.
	slog.Info("fetching_market_catalog", "limit", cfg.MarketLimit)
	catalog, err := ingest.LoadCatalog(ctx, cfg.GammaAPIURL, cfg.MarketLimit, cfg.ExcludedKeywords)
	if err != nil {
		slog.Error("catalog load failed", "error", err)
		return exitStartup
	}
	registry := store.NewRegistry(catalog.Meta())

	// Wallet checker: losing the RPC endpoint only disables FRESH_WALLET.
	wallets := store.NewWalletCache(cfg.WalletCacheTTL)
	var checker *wallet.Checker
	var lookupReq chan<- string
	var lookupRes <-chan wallet.Result
	if c, err := wallet.New(cfg.RPCURL, m); err != nil {
		slog.Warn("wallet_checker_disabled", "error", err)
	} else {
		checker = c
		lookupReq = c.Requests()
		lookupRes = c.Results()
		go checker.Run(ctx)
	}

	// Streaming client.
	client, err := ingest.NewClient(cfg.PolyWSURL, catalog.AssetIDs(), TradeChannelBuffer, m, tracker, cfg.MaxReconnectAttempts)
	if err != nil {
		slog.Error("streaming client setup failed", "error", err)
		return exitStartup
	}

	// Sinks, enricher, dispatcher.
	var sinks []alerts.Sink
	if cfg.DiscordEnabled() {
		sinks = append(sinks, alerts.NewDiscordSink(cfg.DiscordWebhookURL))
		slog.Info("sink_enabled", "sink", "discord")
	}
	if cfg.TelegramEnabled() {
		sinks = append(sinks, alerts.NewTelegramSink(alerts.DefaultTelegramAPIBase, cfg.TelegramBotToken, cfg.TelegramChatID))
		slog.Info("sink_enabled", "sink", "telegram")
	}

	enricher := enrich.New(catalog, wallets, cfg.CLOBAPIURL)
	dispatcher := alerts.New(cfg.AlertRatePerSecond, sinks, enricher, m, tracker)

	dispDone := make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(dispDone)
	}()

	// Optional TUI taps.
	var uiTrades chan store.Trade
	var uiAlerts chan *store.Alert
	var app *ui.App
	if cfg.EnableTUI {
		uiTrades = make(chan store.Trade, uiFeedBuffer)
		uiAlerts = make(chan *store.Alert, uiFeedBuffer)
		app = ui.NewApp(uiTrades, uiAlerts, tracker)
		go func() {
			if err := app.Run(); err != nil {
				slog.Error("tui_error", "error", err)
				cancel()
			}
		}()
	}

	// Detection stage: single goroutine, single writer, no I/O.
	det := detector.New(cfg, wallets, lookupReq, m)
	filt := filter.New(cfg, registry, m)
	pipeDone := make(chan struct{})
	go func() {
		runPipeline(ctx, client.Trades(), lookupRes, filt, det, registry, dispatcher, tracker, uiTrades, uiAlerts)
		close(pipeDone)
	}()

	go logStatsPeriodically(ctx, tracker)

	streamErr := make(chan error, 1)
	go func() {
		streamErr <- client.Run(ctx)
	}()

	slog.Info("engine_started",
		"subscribed_tokens", registry.Len(),
		"sinks", len(sinks),
	)

	exitCode := exitOK
	select {
	case sig := <-sigChan:
		slog.Info("shutdown_signal_received", "signal", sig.String())
	case err := <-streamErr:
		if errors.Is(err, ingest.ErrReconnectBudget) {
			slog.Error("reconnect budget exhausted")
			exitCode = exitRuntime
		} else if err != nil {
			slog.Error("stream terminated", "error", err)
			exitCode = exitRuntime
		}
	case <-ctx.Done():
	}

	// Shutdown: cancel propagates through the stages; the dispatcher drains
	// its queue up to its deadline before aborting.
	cancel()
	if app != nil {
		app.Stop()
	}
	<-pipeDone
	<-dispDone

	slog.Info("shutdown_complete")
	return exitCode
}

// runPipeline consumes the trade stream, applies the filter chain and signal
// engine, and enqueues alert candidates. Wallet lookup results funnel through
// here so the cache keeps a single writer.
func runPipeline(
	ctx context.Context,
	trades <-chan store.Trade,
	walletResults <-chan wallet.Result,
	filt *filter.Pipeline,
	det *detector.Detector,
	registry *store.Registry,
	dispatcher *alerts.Dispatcher,
	tracker *metrics.Tracker,
	uiTrades chan<- store.Trade,
	uiAlerts chan<- *store.Alert,
) {
	for {
		select {
		case <-ctx.Done():
			return

		case res, ok := <-walletResults:
			if !ok {
				walletResults = nil
				continue
			}
			if res.Err != nil {
				det.ClearWalletRequest(res.Wallet)
				continue
			}
			det.ApplyWalletResult(res.Wallet, res.TxCount)

		case t, ok := <-trades:
			if !ok {
				return
			}
			tracker.RecordTrade()
			feed(uiTrades, t)

			stats := registry.Get(t.AssetID)
			if verdict := filt.Check(t, stats); verdict != filter.Pass {
				continue
			}

			signals := det.Analyze(t, stats)
			if len(signals) == 0 {
				continue
			}
			for _, s := range signals {
				tracker.RecordSignal(string(s.Kind))
			}

			alert := &store.Alert{
				Trade:      t,
				Signals:    signals,
				Confidence: detector.Confidence(signals, t.USDValue),
			}
			slog.Info("signal_detected",
				"asset", t.AssetID,
				"kinds", alert.Kinds(),
				"value_usd", t.USDValue,
				"confidence", alert.Confidence,
			)

			dispatcher.Enqueue(alert)
			feedAlert(uiAlerts, alert)
		}
	}
}

// feed delivers to a TUI tap without ever blocking the pipeline.
func feed(ch chan<- store.Trade, t store.Trade) {
	if ch == nil {
		return
	}
	select {
	case ch <- t:
	default:
	}
}

func feedAlert(ch chan<- *store.Alert, a *store.Alert) {
	if ch == nil {
		return
	}
	select {
	case ch <- a:
	default:
	}
}

// logStatsPeriodically emits a summary line every few minutes.
func logStatsPeriodically(ctx context.Context, tracker *metrics.Tracker) {
	ticker := time.NewTicker(statsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := tracker.Snapshot()
			slog.Info("stats",
				"trades", s.TradesTotal,
				"rate", s.TradeRate,
				"alerts_sent", s.AlertsSent,
				"queue", s.QueueDepth,
				"ws", s.WSStatus,
				"uptime", s.Uptime.Truncate(time.Second),
			)
		}
	}
}

// setupLogger creates a structured logger with the specified level.
// Format: 2025-01-04 14:32:01 [INFO] message key=value
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO":
		level = slog.LevelInfo
	case "WARN", "WARNING":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format("2006-01-02 15:04:05"))
				}
			}
			return a
		},
	}

	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
