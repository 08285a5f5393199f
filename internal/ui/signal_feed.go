package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"

	"github.com/polysentinel/engine/internal/store"
)

const maxSignalRows = 50

// SignalFeedView displays the most recent alerts with their signal kinds.
type SignalFeedView struct {
	text  *tview.TextView
	lines []string
}

// NewSignalFeedView creates the signal feed view.
func NewSignalFeedView() *SignalFeedView {
	text := tview.NewTextView().SetDynamicColors(true)
	text.SetTitle(" Signals ").SetBorder(true)
	return &SignalFeedView{text: text}
}

// Widget returns the underlying primitive.
func (v *SignalFeedView) Widget() tview.Primitive {
	return v.text
}

// AddAlert prepends an alert to the feed.
func (v *SignalFeedView) AddAlert(a *store.Alert) {
	kinds := make([]string, 0, len(a.Signals))
	for _, s := range a.Signals {
		kinds = append(kinds, string(s.Kind))
	}

	color := "orange"
	if a.Confidence == store.ConfidenceHigh {
		color = "red"
	}

	title := a.MarketTitle
	if title == "" {
		title = shorten(a.Trade.AssetID, 20)
	}

	line := fmt.Sprintf("[%s]%s [%s][white] $%.0f %s %s — %s",
		color, a.Trade.Time().Format("15:04:05"), a.Confidence,
		a.Trade.USDValue, a.Trade.Side, a.Trade.Outcome,
		strings.Join(kinds, "+")+" "+shorten(title, 40),
	)

	v.lines = append([]string{line}, v.lines...)
	if len(v.lines) > maxSignalRows {
		v.lines = v.lines[:maxSignalRows]
	}
	v.text.SetText(strings.Join(v.lines, "\n"))
}
