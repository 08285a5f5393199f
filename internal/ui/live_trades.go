package ui

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/polysentinel/engine/internal/store"
)

const maxTradeRows = 100

// LiveTradesView displays a scrolling feed of incoming trades.
type LiveTradesView struct {
	table  *tview.Table
	trades []store.Trade
}

// NewLiveTradesView creates the live trades view.
func NewLiveTradesView() *LiveTradesView {
	table := tview.NewTable().
		SetBorders(false).
		SetFixed(1, 0)
	table.SetTitle(" Live Trades ").SetBorder(true)

	headers := []string{"Time", "Market", "Side", "Outcome", "Price", "Value", "Wallet"}
	for col, header := range headers {
		cell := tview.NewTableCell(header).
			SetTextColor(tview.Styles.SecondaryTextColor).
			SetAlign(tview.AlignLeft).
			SetSelectable(false)
		table.SetCell(0, col, cell)
	}

	return &LiveTradesView{
		table:  table,
		trades: make([]store.Trade, 0, maxTradeRows),
	}
}

// Widget returns the underlying primitive.
func (v *LiveTradesView) Widget() tview.Primitive {
	return v.table
}

// AddTrade prepends a trade to the feed, trimming to the display window.
func (v *LiveTradesView) AddTrade(t store.Trade) {
	v.trades = append([]store.Trade{t}, v.trades...)
	if len(v.trades) > maxTradeRows {
		v.trades = v.trades[:maxTradeRows]
	}
	v.render()
}

func (v *LiveTradesView) render() {
	for row, t := range v.trades {
		cells := []string{
			t.Time().Format("15:04:05"),
			shorten(t.AssetID, 14),
			string(t.Side),
			string(t.Outcome),
			fmt.Sprintf("%.2f", t.Price),
			fmt.Sprintf("$%.0f", t.USDValue),
			shorten(t.Wallet, 10),
		}
		for col, text := range cells {
			v.table.SetCell(row+1, col, tview.NewTableCell(text).SetAlign(tview.AlignLeft))
		}
	}
}

func shorten(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
