package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/polysentinel/engine/internal/store"
)

// FrameKind classifies an inbound frame.
type FrameKind int

const (
	// FrameTrade carries a trade event.
	FrameTrade FrameKind = iota
	// FrameIgnored is a well-formed non-trade frame (book, heartbeat, ack, ...).
	FrameIgnored
	// FrameMalformed could not be parsed. Malformed frames are counted and
	// skipped; they never tear down the connection.
	FrameMalformed
)

// tradeFrame mirrors the wire shape of a trade event. Decimal fields arrive as
// strings; timestamps arrive as either strings or numbers.
type tradeFrame struct {
	EventType    string          `json:"event_type"`
	AssetID      string          `json:"asset_id"`
	Market       string          `json:"market"`
	Side         string          `json:"side"`
	Outcome      string          `json:"outcome"`
	Price        string          `json:"price"`
	Size         string          `json:"size"`
	TakerAddress string          `json:"taker_address"`
	Timestamp    json.RawMessage `json:"timestamp"`
	ID           string          `json:"id"`
}

// ParseFrame parses one inbound frame. Only trade frames produce a Trade;
// every other well-formed frame is consumed silently.
func ParseFrame(data []byte) (store.Trade, FrameKind, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return store.Trade{}, FrameIgnored, nil
	}

	// PONG and other plain-text keepalives count as heartbeats only.
	if trimmed[0] != '{' {
		if trimmed[0] == '[' {
			// Event batches (book snapshots) carry no trade fills.
			return store.Trade{}, FrameIgnored, nil
		}
		if isKeepalive(trimmed) {
			return store.Trade{}, FrameIgnored, nil
		}
		return store.Trade{}, FrameMalformed, fmt.Errorf("unrecognized frame %q", truncateBytes(trimmed, 40))
	}

	var frame tradeFrame
	if err := json.Unmarshal(trimmed, &frame); err != nil {
		return store.Trade{}, FrameMalformed, fmt.Errorf("unmarshal frame: %w", err)
	}

	if frame.EventType != "trade" {
		return store.Trade{}, FrameIgnored, nil
	}

	trade, err := frame.toTrade()
	if err != nil {
		return store.Trade{}, FrameMalformed, err
	}
	return trade, FrameTrade, nil
}

func (f *tradeFrame) toTrade() (store.Trade, error) {
	if f.AssetID == "" {
		return store.Trade{}, fmt.Errorf("trade frame missing asset_id")
	}

	price, err := parseDecimal(f.Price)
	if err != nil {
		return store.Trade{}, fmt.Errorf("trade price: %w", err)
	}
	size, err := parseDecimal(f.Size)
	if err != nil {
		return store.Trade{}, fmt.Errorf("trade size: %w", err)
	}
	if price < 0 || price > 1 {
		return store.Trade{}, fmt.Errorf("trade price %v out of range", price)
	}
	if size < 0 {
		return store.Trade{}, fmt.Errorf("trade size %v negative", size)
	}

	side := store.Side(strings.ToUpper(f.Side))
	if side != store.SideBuy && side != store.SideSell {
		return store.Trade{}, fmt.Errorf("trade side %q", f.Side)
	}
	outcome := store.Outcome(strings.ToUpper(f.Outcome))
	if outcome != store.OutcomeYes && outcome != store.OutcomeNo {
		return store.Trade{}, fmt.Errorf("trade outcome %q", f.Outcome)
	}

	ts, err := parseTimestampMS(f.Timestamp)
	if err != nil {
		return store.Trade{}, fmt.Errorf("trade timestamp: %w", err)
	}

	return store.Trade{
		AssetID:   f.AssetID,
		Market:    f.Market,
		Side:      side,
		Outcome:   outcome,
		Price:     price,
		Size:      size,
		USDValue:  price * size,
		Wallet:    strings.ToLower(f.TakerAddress),
		Timestamp: ts,
		TradeID:   f.ID,
	}, nil
}

// parseDecimal parses a wire decimal string exactly before converting to
// float64 for arithmetic.
func parseDecimal(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty decimal")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}

// parseTimestampMS accepts a millisecond epoch encoded as a JSON number or a
// string. Second-precision values are promoted to milliseconds.
func parseTimestampMS(raw json.RawMessage) (int64, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0, fmt.Errorf("missing timestamp")
	}
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if ts < 1e12 {
		ts *= 1000
	}
	return ts, nil
}

func isKeepalive(data []byte) bool {
	s := strings.ToUpper(strings.TrimSpace(string(data)))
	return s == "PONG" || s == "PING"
}

func truncateBytes(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
