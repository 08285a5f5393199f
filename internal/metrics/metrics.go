// Package metrics provides Prometheus instrumentation and the snapshot
// tracker backing the optional TUI.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Filter rejection stage labels.
const (
	StageMarket = "market"
	StageSize   = "size"
	StageLP     = "lp"
)

// Metrics holds all Prometheus metrics for the engine. Each instance owns its
// own registry so tests can construct them freely.
type Metrics struct {
	registry *prometheus.Registry

	// Ingestion
	TradesReceived  prometheus.Counter
	TradesDropped   prometheus.Counter
	FramesMalformed prometheus.Counter
	Reconnects      prometheus.Counter
	ConnState       prometheus.Gauge

	// Pipeline
	FilterRejections *prometheus.CounterVec
	SignalsDetected  *prometheus.CounterVec

	// Dispatch
	AlertsQueued   prometheus.Counter
	AlertsDeduped  prometheus.Counter
	AlertsOverflow prometheus.Counter
	AlertsSent     *prometheus.CounterVec
	AlertsFailed   *prometheus.CounterVec
	QueueDepth     prometheus.Gauge

	// Enrichment
	WalletLookups *prometheus.CounterVec
}

// New creates and registers all metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		TradesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_trades_received_total",
			Help: "Trade frames parsed from the upstream stream",
		}),
		TradesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_trades_dropped_total",
			Help: "Trades dropped because the pipeline channel was saturated",
		}),
		FramesMalformed: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_frames_malformed_total",
			Help: "Upstream frames skipped because they could not be parsed",
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_ws_reconnects_total",
			Help: "Websocket reconnect attempts",
		}),
		ConnState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_ws_state",
			Help: "Connection state (0 disconnected, 1 connecting, 2 subscribing, 3 streaming, 4 backoff)",
		}),

		FilterRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_filter_rejections_total",
			Help: "Trades rejected by the filter pipeline, by stage",
		}, []string{"stage"}),
		SignalsDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_signals_detected_total",
			Help: "Signals fired, by kind",
		}, []string{"kind"}),

		AlertsQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_alerts_queued_total",
			Help: "Alerts accepted into the dispatcher queue",
		}),
		AlertsDeduped: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_alerts_deduped_total",
			Help: "Alerts suppressed by per-market dedup",
		}),
		AlertsOverflow: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_alerts_overflow_total",
			Help: "Alerts dropped because the dispatcher queue overflowed",
		}),
		AlertsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_alerts_sent_total",
			Help: "Alerts delivered, by sink",
		}, []string{"sink"}),
		AlertsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_alerts_failed_total",
			Help: "Alerts dropped after delivery failure, by sink",
		}, []string{"sink"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_alert_queue_depth",
			Help: "Current dispatcher queue depth",
		}),

		WalletLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_wallet_lookups_total",
			Help: "Wallet transaction-count lookups, by result",
		}, []string{"result"}),
	}
}

// Handler returns the /metrics handler for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on the given port until the server fails.
func (m *Metrics) Serve(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}
