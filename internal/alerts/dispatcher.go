package alerts

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/polysentinel/engine/internal/enrich"
	"github.com/polysentinel/engine/internal/metrics"
	"github.com/polysentinel/engine/internal/store"
)

const (
	// QueueDepthLimit bounds the dispatcher FIFO.
	QueueDepthLimit = 256

	// DedupWindow suppresses repeat alerts for the same market and kind set.
	DedupWindow = 30 * time.Second

	// DrainDeadline bounds queue draining on shutdown.
	DrainDeadline = 10 * time.Second

	sinkBuffer = 16
)

var retryBackoffs = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// Dispatcher owns alerts from enqueue to final send or drop: bounded FIFO,
// leaky-bucket pacing, per-market dedup, and per-sink retried delivery.
type Dispatcher struct {
	rate     float64
	sinks    []Sink
	enricher *enrich.Enricher
	m        *metrics.Metrics
	tracker  *metrics.Tracker

	mu     sync.Mutex
	queue  []*store.Alert
	dedup  map[string]time.Time
	notify chan struct{}

	sendMu  sync.RWMutex
	sendCtx context.Context
	cancel  context.CancelFunc

	wg sync.WaitGroup
}

// New creates a dispatcher pacing at ratePerSecond across all sinks.
func New(ratePerSecond float64, sinks []Sink, enricher *enrich.Enricher, m *metrics.Metrics, tracker *metrics.Tracker) *Dispatcher {
	return &Dispatcher{
		rate:     ratePerSecond,
		sinks:    sinks,
		enricher: enricher,
		m:        m,
		tracker:  tracker,
		dedup:    make(map[string]time.Time),
		notify:   make(chan struct{}, 1),
		sendCtx:  context.Background(),
	}
}

// Enqueue accepts an alert for delivery. It never blocks. A full queue drops
// the oldest MEDIUM alert if one exists, else the incoming alert; repeats of
// the same (market, kind set) inside the dedup window are suppressed.
func (d *Dispatcher) Enqueue(a *store.Alert) {
	now := time.Now()
	key := dedupKey(a)

	d.mu.Lock()
	if last, seen := d.dedup[key]; seen && now.Sub(last) < DedupWindow {
		d.mu.Unlock()
		d.m.AlertsDeduped.Inc()
		return
	}
	d.dedup[key] = now
	d.pruneDedupLocked(now)

	if len(d.queue) >= QueueDepthLimit {
		if !d.evictOldestMediumLocked() {
			d.mu.Unlock()
			d.m.AlertsOverflow.Inc()
			slog.Warn("alert_queue_overflow", "dropped", "incoming", "asset", a.Trade.AssetID)
			return
		}
		d.m.AlertsOverflow.Inc()
	}

	a.ID = uuid.NewString()
	a.QueuedAt = now
	d.queue = append(d.queue, a)
	depth := len(d.queue)
	d.mu.Unlock()

	d.m.AlertsQueued.Inc()
	d.m.QueueDepth.Set(float64(depth))
	if d.tracker != nil {
		d.tracker.SetQueueDepth(depth)
	}

	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Run paces the queue and fans alerts out to the sink workers. On ctx
// cancellation it drains the remaining queue up to DrainDeadline, then aborts.
func (d *Dispatcher) Run(ctx context.Context) {
	d.setSendContext(ctx)

	sinkChans := make([]chan *store.Alert, len(d.sinks))
	for i, s := range d.sinks {
		ch := make(chan *store.Alert, sinkBuffer)
		sinkChans[i] = ch
		d.wg.Add(1)
		go d.sinkWorker(s, ch)
	}

	interval := time.Duration(float64(time.Second) / d.rate)
	var lastSend time.Time
	draining := false
	waitCtx := ctx

	for {
		a := d.pop()
		if a == nil {
			if draining {
				break // queue fully drained
			}
			select {
			case <-waitCtx.Done():
				draining = true
				waitCtx = d.beginDrain()
			case <-d.notify:
			}
			continue
		}

		if !draining && ctx.Err() != nil {
			draining = true
			waitCtx = d.beginDrain()
		}

		// Leaky bucket: bursts wait in the queue, they are not dropped.
		if wait := interval - time.Since(lastSend); wait > 0 {
			select {
			case <-waitCtx.Done():
			case <-time.After(wait):
			}
			if waitCtx.Err() != nil && draining {
				break
			}
		}
		lastSend = time.Now()

		d.enricher.Enrich(d.sendContext(), a)

		for _, ch := range sinkChans {
			select {
			case ch <- a:
			case <-waitCtx.Done():
			}
		}
	}

	for _, ch := range sinkChans {
		close(ch)
	}
	d.wg.Wait()

	if cancel := d.drainCancel(); cancel != nil {
		cancel()
	}
}

// QueueDepth returns the current queue length.
func (d *Dispatcher) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *Dispatcher) pop() *store.Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return nil
	}
	a := d.queue[0]
	d.queue = d.queue[1:]
	depth := len(d.queue)
	d.m.QueueDepth.Set(float64(depth))
	if d.tracker != nil {
		d.tracker.SetQueueDepth(depth)
	}
	return a
}

// evictOldestMediumLocked removes the oldest MEDIUM alert from the queue.
func (d *Dispatcher) evictOldestMediumLocked() bool {
	for i, queued := range d.queue {
		if queued.Confidence == store.ConfidenceMedium {
			slog.Warn("alert_queue_overflow", "dropped", "oldest_medium", "asset", queued.Trade.AssetID)
			d.queue = append(d.queue[:i], d.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (d *Dispatcher) pruneDedupLocked(now time.Time) {
	if len(d.dedup) < 1024 {
		return
	}
	for key, t := range d.dedup {
		if now.Sub(t) >= DedupWindow {
			delete(d.dedup, key)
		}
	}
}

func (d *Dispatcher) sinkWorker(s Sink, ch <-chan *store.Alert) {
	defer d.wg.Done()

	for a := range ch {
		if err := d.sendWithRetry(s, a); err != nil {
			d.m.AlertsFailed.WithLabelValues(s.Name()).Inc()
			slog.Warn("alert_send_failed", "sink", s.Name(), "alert", a.ID, "error", err)
			continue
		}
		d.m.AlertsSent.WithLabelValues(s.Name()).Inc()
		if d.tracker != nil {
			d.tracker.RecordAlertSent()
		}
		slog.Info("alert_sent",
			"sink", s.Name(),
			"asset", a.Trade.AssetID,
			"confidence", a.Confidence,
			"value_usd", a.Trade.USDValue,
		)
	}
}

// sendWithRetry delivers one alert to one sink: transient failures retry on
// the 1s/2s/4s ladder, 429 honors Retry-After, other 4xx drop immediately.
func (d *Dispatcher) sendWithRetry(s Sink, a *store.Alert) error {
	ctx := d.sendContext()

	var lastErr error
	for attempt := 0; ; attempt++ {
		err := s.Send(ctx, a)
		if err == nil {
			return nil
		}
		lastErr = err

		var se *SendError
		if errors.As(err, &se) && se.Permanent() {
			return err
		}
		if attempt >= len(retryBackoffs) {
			return lastErr
		}

		delay := retryBackoffs[attempt]
		if errors.As(err, &se) && se.RetryAfter > 0 {
			delay = se.RetryAfter
		}
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay):
		}
	}
}

// beginDrain swaps the send context for a deadline-bounded one so in-flight
// and queued deliveries finish or abort within DrainDeadline.
func (d *Dispatcher) beginDrain() context.Context {
	drainCtx, cancel := context.WithTimeout(context.Background(), DrainDeadline)
	d.sendMu.Lock()
	d.sendCtx = drainCtx
	d.cancel = cancel
	d.sendMu.Unlock()
	slog.Info("dispatcher_draining", "deadline", DrainDeadline, "queued", d.QueueDepth())
	return drainCtx
}

func (d *Dispatcher) setSendContext(ctx context.Context) {
	d.sendMu.Lock()
	d.sendCtx = ctx
	d.sendMu.Unlock()
}

func (d *Dispatcher) sendContext() context.Context {
	d.sendMu.RLock()
	defer d.sendMu.RUnlock()
	return d.sendCtx
}

func (d *Dispatcher) drainCancel() context.CancelFunc {
	d.sendMu.RLock()
	defer d.sendMu.RUnlock()
	return d.cancel
}

// dedupKey identifies an alert by market and its sorted signal kind set.
func dedupKey(a *store.Alert) string {
	kinds := make([]string, 0, len(a.Signals))
	for _, s := range a.Signals {
		kinds = append(kinds, string(s.Kind))
	}
	sort.Strings(kinds)
	return a.Trade.AssetID + "|" + strings.Join(kinds, ",")
}
