package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rivo/tview"

	"github.com/polysentinel/engine/internal/metrics"
)

// StatsPaneView displays aggregate counters and connection state.
type StatsPaneView struct {
	text *tview.TextView
}

// NewStatsPaneView creates the stats pane.
func NewStatsPaneView() *StatsPaneView {
	text := tview.NewTextView().SetDynamicColors(true)
	text.SetTitle(" Stats ").SetBorder(true)
	return &StatsPaneView{text: text}
}

// Widget returns the underlying primitive.
func (v *StatsPaneView) Widget() tview.Primitive {
	return v.text
}

// Update re-renders the pane from a metrics snapshot.
func (v *StatsPaneView) Update(s metrics.Snapshot) {
	kinds := make([]string, 0, len(s.SignalsByKind))
	for kind := range s.SignalsByKind {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	parts := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", kind, s.SignalsByKind[kind]))
	}

	v.text.SetText(fmt.Sprintf(
		"Trades: %d (%.1f/s)   Alerts sent: %d   Queue: %d\nWS: %s   Uptime: %s\nSignals: %s",
		s.TradesTotal, s.TradeRate, s.AlertsSent, s.QueueDepth,
		s.WSStatus, s.Uptime.Truncate(time.Second).String(),
		strings.Join(parts, "  "),
	))
}
