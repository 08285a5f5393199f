package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/polysentinel/engine/internal/metrics"
	"github.com/polysentinel/engine/internal/store"
)

// Connection lifecycle constants.
const (
	InitialBackoff   = 1 * time.Second
	MaxBackoff       = 60 * time.Second
	BackoffResetWin  = 60 * time.Second
	IdleTimeout      = 30 * time.Second
	AckGrace         = 5 * time.Second
	PingInterval     = 10 * time.Second
	HandshakeTimeout = 10 * time.Second
	WriteTimeout     = 10 * time.Second
)

// State is the connection state of the streaming client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribing
	StateStreaming
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateBackoff:
		return "backoff"
	default:
		return "disconnected"
	}
}

// ErrReconnectBudget is returned by Run when the configured number of
// consecutive reconnect attempts is exhausted.
var ErrReconnectBudget = errors.New("reconnect budget exhausted")

// subscribeFrame is the single subscription message sent after connect.
type subscribeFrame struct {
	Type      string   `json:"type"`
	AssetsIDs []string `json:"assets_ids"`
}

// Client maintains the streaming connection to the CLOB and emits normalized
// trades on its output channel. The subscription frame is marshalled once so
// every reconnect resubscribes byte-for-byte identically.
type Client struct {
	url         string
	subFrame    []byte
	out         chan store.Trade
	m           *metrics.Metrics
	tracker     *metrics.Tracker
	maxAttempts int
	state       State
}

// NewClient creates a streaming client subscribed to assetIDs, emitting into a
// bounded channel of the given depth. maxAttempts bounds consecutive failed
// reconnects; 0 means unlimited.
func NewClient(wsURL string, assetIDs []string, buffer int, m *metrics.Metrics, tracker *metrics.Tracker, maxAttempts int) (*Client, error) {
	frame, err := json.Marshal(subscribeFrame{Type: "subscribe", AssetsIDs: assetIDs})
	if err != nil {
		return nil, fmt.Errorf("marshal subscription: %w", err)
	}
	return &Client{
		url:         wsURL,
		subFrame:    frame,
		out:         make(chan store.Trade, buffer),
		m:           m,
		tracker:     tracker,
		maxAttempts: maxAttempts,
	}, nil
}

// Trades returns the output channel. It is closed when Run returns.
func (c *Client) Trades() <-chan store.Trade {
	return c.out
}

// SubscriptionFrame returns the exact bytes sent on every (re)subscription.
func (c *Client) SubscriptionFrame() []byte {
	out := make([]byte, len(c.subFrame))
	copy(out, c.subFrame)
	return out
}

// Run drives the connection state machine until ctx is cancelled or the
// reconnect budget is exhausted.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.out)
	defer c.setState(StateDisconnected)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		c.setState(StateConnecting)
		conn, err := c.dial(ctx)
		if err != nil {
			slog.Error("ws_connect_failed", "error", err, "attempt", attempt)
		} else {
			sustained := c.session(ctx, conn)
			conn.Close()
			if ctx.Err() != nil {
				return nil
			}
			if sustained {
				attempt = 0
			}
		}

		c.m.Reconnects.Inc()
		if c.maxAttempts > 0 && attempt+1 >= c.maxAttempts {
			return ErrReconnectBudget
		}

		c.setState(StateBackoff)
		if !c.sleepBackoff(ctx, attempt) {
			return nil
		}
		attempt++
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: HandshakeTimeout}
	headers := http.Header{}
	headers.Set("Origin", "https://polymarket.com")

	conn, resp, err := dialer.DialContext(ctx, c.url, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	slog.Info("ws_connected", "endpoint", c.url)
	return conn, nil
}

// session subscribes and reads frames until the connection fails. It reports
// whether the STREAMING state was sustained long enough to reset the backoff.
func (c *Client) session(ctx context.Context, conn *websocket.Conn) bool {
	c.setState(StateSubscribing)

	conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, c.subFrame); err != nil {
		slog.Warn("ws_subscribe_failed", "error", err)
		return false
	}
	slog.Info("ws_subscribed", "frame_bytes", len(c.subFrame))

	done := make(chan struct{})
	defer close(done)
	go c.pingLoop(conn, done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	subscribedAt := time.Now()
	var streamedAt time.Time

	for {
		if c.state == StateSubscribing && time.Since(subscribedAt) >= AckGrace {
			c.setState(StateStreaming)
			streamedAt = time.Now()
		}

		conn.SetReadDeadline(time.Now().Add(IdleTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("ws_read_error", "error", err)
			}
			return !streamedAt.IsZero() && time.Since(streamedAt) >= BackoffResetWin
		}

		// Any non-empty frame counts as a heartbeat; the read deadline above
		// already advanced. The first frame completes the subscription.
		if c.state != StateStreaming {
			c.setState(StateStreaming)
			streamedAt = time.Now()
		}

		trade, kind, perr := ParseFrame(msg)
		switch kind {
		case FrameTrade:
			c.m.TradesReceived.Inc()
			c.emit(trade)
		case FrameMalformed:
			c.m.FramesMalformed.Inc()
			slog.Debug("ws_frame_malformed", "error", perr)
		}
	}
}

// pingLoop sends text keepalives until the session ends.
func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte("PING")); err != nil {
				return
			}
		}
	}
}

// emit delivers a trade without ever blocking the socket read loop. When the
// channel is saturated the oldest pending trade is dropped and counted: the
// upstream feed cannot be paused, so old data yields to new.
func (c *Client) emit(t store.Trade) {
	select {
	case c.out <- t:
		return
	default:
	}

	select {
	case dropped := <-c.out:
		c.m.TradesDropped.Inc()
		slog.Warn("trade_channel_full", "dropped_trade", dropped.TradeID)
	default:
	}

	select {
	case c.out <- t:
	default:
		c.m.TradesDropped.Inc()
	}
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) bool {
	backoff := InitialBackoff << uint(min(attempt, 10))
	if backoff > MaxBackoff {
		backoff = MaxBackoff
	}
	slog.Info("ws_backoff", "duration", backoff, "attempt", attempt)

	select {
	case <-ctx.Done():
		return false
	case <-time.After(backoff):
		return true
	}
}

func (c *Client) setState(s State) {
	c.state = s
	c.m.ConnState.Set(float64(s))
	if c.tracker != nil {
		c.tracker.SetWSStatus(s.String())
	}
}
