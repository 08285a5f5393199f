package metrics

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time view of engine activity for the TUI.
type Snapshot struct {
	TradesTotal   int64
	SignalsByKind map[string]int64
	AlertsSent    int64
	TradeRate     float64 // trades per second over the last minute
	QueueDepth    int
	WSStatus      string
	Uptime        time.Duration
}

// Tracker provides thread-safe counters behind the TUI snapshot.
type Tracker struct {
	mu            sync.RWMutex
	tradesTotal   int64
	signalsByKind map[string]int64
	alertsSent    int64
	timestamps    []time.Time
	queueDepth    int
	wsStatus      string
	startTime     time.Time
}

// NewTracker creates a Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		signalsByKind: make(map[string]int64),
		timestamps:    make([]time.Time, 0, 1024),
		wsStatus:      "disconnected",
		startTime:     time.Now(),
	}
}

// RecordTrade counts one received trade.
func (t *Tracker) RecordTrade() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tradesTotal++
	now := time.Now()
	t.timestamps = append(t.timestamps, now)

	// Keep only the last 60 seconds for the rate calculation.
	cutoff := now.Add(-60 * time.Second)
	i := 0
	for i < len(t.timestamps) && t.timestamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		t.timestamps = t.timestamps[i:]
	}
}

// RecordSignal counts one fired signal of the given kind.
func (t *Tracker) RecordSignal(kind string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.signalsByKind[kind]++
}

// RecordAlertSent counts one delivered alert.
func (t *Tracker) RecordAlertSent() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.alertsSent++
}

// SetQueueDepth records the dispatcher queue depth.
func (t *Tracker) SetQueueDepth(depth int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queueDepth = depth
}

// SetWSStatus records the websocket connection status string.
func (t *Tracker) SetWSStatus(status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.wsStatus = status
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	byKind := make(map[string]int64, len(t.signalsByKind))
	for k, v := range t.signalsByKind {
		byKind[k] = v
	}

	rate := 0.0
	if len(t.timestamps) > 1 {
		span := t.timestamps[len(t.timestamps)-1].Sub(t.timestamps[0]).Seconds()
		if span > 0 {
			rate = float64(len(t.timestamps)) / span
		}
	}

	return Snapshot{
		TradesTotal:   t.tradesTotal,
		SignalsByKind: byKind,
		AlertsSent:    t.alertsSent,
		TradeRate:     rate,
		QueueDepth:    t.queueDepth,
		WSStatus:      t.wsStatus,
		Uptime:        time.Since(t.startTime),
	}
}
