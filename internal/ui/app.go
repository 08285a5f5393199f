// Package ui provides the optional terminal dashboard.
package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/polysentinel/engine/internal/metrics"
	"github.com/polysentinel/engine/internal/store"
)

const refreshInterval = 500 * time.Millisecond

// App is the TUI application: live trades on top, signal feed in the middle,
// stats at the bottom. It consumes its own tap channels so the pipeline never
// blocks on rendering.
type App struct {
	app    *tview.Application
	layout *tview.Flex

	liveTrades *LiveTradesView
	signalFeed *SignalFeedView
	statsPane  *StatsPaneView

	tradeFeed <-chan store.Trade
	alertFeed <-chan *store.Alert
	tracker   *metrics.Tracker

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI wired to the pipeline tap channels.
func NewApp(tradeFeed <-chan store.Trade, alertFeed <-chan *store.Alert, tracker *metrics.Tracker) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:        tview.NewApplication(),
		liveTrades: NewLiveTradesView(),
		signalFeed: NewSignalFeedView(),
		statsPane:  NewStatsPaneView(),
		tradeFeed:  tradeFeed,
		alertFeed:  alertFeed,
		tracker:    tracker,
		ctx:        ctx,
		cancel:     cancel,
	}

	a.layout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.liveTrades.Widget(), 0, 3, false).
		AddItem(a.signalFeed.Widget(), 0, 2, false).
		AddItem(a.statsPane.Widget(), 5, 0, false)

	a.app.SetRoot(a.layout, true)
	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch {
		case event.Key() == tcell.KeyCtrlC,
			event.Key() == tcell.KeyRune && (event.Rune() == 'q' || event.Rune() == 'Q'):
			a.Stop()
			return nil
		}
		return event
	})

	return a
}

// Run starts the TUI (blocking).
func (a *App) Run() error {
	go a.consumeTrades()
	go a.consumeAlerts()
	go a.updateLoop()

	if err := a.app.Run(); err != nil {
		return fmt.Errorf("app run failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the application.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

func (a *App) consumeTrades() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case trade, ok := <-a.tradeFeed:
			if !ok {
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.liveTrades.AddTrade(trade)
			})
		}
	}
}

func (a *App) consumeAlerts() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case alert, ok := <-a.alertFeed:
			if !ok {
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.signalFeed.AddAlert(alert)
			})
		}
	}
}

func (a *App) updateLoop() {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			snapshot := a.tracker.Snapshot()
			a.app.QueueUpdateDraw(func() {
				a.statsPane.Update(snapshot)
			})
		}
	}
}
