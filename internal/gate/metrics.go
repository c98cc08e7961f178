// Package gate hosts the dispatch and subscription machinery of the gateway.
package gate

import (
	"context"
	"sort"
	"sync"
	"time"

	"flashgate/internal/core"
	"flashgate/internal/event"
	"flashgate/internal/transmitter"

	"gonum.org/v1/gonum/stat"
)

const metricsInterval = time.Second

// window accumulates one reporting interval of measurements. The fetch paths
// write, the metrics loop reads and resets.
type window struct {
	mu              sync.Mutex
	latencies       []float64 // order book fetch latencies, µs
	orderBookEvents int64
	privateAPICalls int64
	cumulativeBooks int64 // never reset; feeds the ping event
	windowOpenedAt  time.Time
}

func newWindow() *window {
	return &window{windowOpenedAt: time.Now()}
}

// RecordOrderBookLatency adds one HTTP round latency sample
func (w *window) RecordOrderBookLatency(micros float64) {
	w.mu.Lock()
	w.latencies = append(w.latencies, micros)
	w.mu.Unlock()
}

// RecordOrderBook counts one emitted order book event
func (w *window) RecordOrderBook() {
	w.mu.Lock()
	w.orderBookEvents++
	w.cumulativeBooks++
	w.mu.Unlock()
}

// RecordPrivateCall counts one private API request
func (w *window) RecordPrivateCall() {
	w.mu.Lock()
	w.privateAPICalls++
	w.mu.Unlock()
}

// CumulativeOrderBooks reports the process-lifetime order book count
func (w *window) CumulativeOrderBooks() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cumulativeBooks
}

// drain returns the window's contents and resets it
func (w *window) drain() (latencies []float64, books, private int64, elapsed time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	latencies = w.latencies
	books = w.orderBookEvents
	private = w.privateAPICalls
	elapsed = time.Since(w.windowOpenedAt)

	w.latencies = nil
	w.orderBookEvents = 0
	w.privateAPICalls = 0
	w.windowOpenedAt = time.Now()
	return latencies, books, private, elapsed
}

// report computes the interval summary. With fewer than two latency samples
// there is nothing to interpolate and no report is produced.
func (w *window) report() (core.MetricsReport, bool) {
	latencies, books, private, elapsed := w.drain()

	secs := elapsed.Seconds()
	if secs <= 0 {
		secs = metricsInterval.Seconds()
	}

	if len(latencies) < 2 {
		return core.MetricsReport{}, false
	}

	sort.Float64s(latencies)
	return core.MetricsReport{
		Latency: core.LatencyPercentiles{
			P50: stat.Quantile(0.50, stat.LinInterp, latencies, nil),
			P95: stat.Quantile(0.95, stat.LinInterp, latencies, nil),
			P99: stat.Quantile(0.99, stat.LinInterp, latencies, nil),
		},
		OrderBookRPS:  float64(books) / secs,
		PrivateAPIRPS: float64(private) / secs,
	}, true
}

// metricsLoop emits the interval summary and the liveness ping on LOGS
type metricsLoop struct {
	window    *window
	factory   *event.Factory
	tx        *transmitter.Transmitter
	logger    core.ILogger
	pingEvery time.Duration
}

func newMetricsLoop(w *window, factory *event.Factory, tx *transmitter.Transmitter, pingEvery time.Duration, logger core.ILogger) *metricsLoop {
	return &metricsLoop{
		window:    w,
		factory:   factory,
		tx:        tx,
		logger:    logger.WithField("component", "metrics"),
		pingEvery: pingEvery,
	}
}

// Run ticks the metrics window and the ping until ctx is canceled
func (m *metricsLoop) Run(ctx context.Context) error {
	metricsTicker := time.NewTicker(metricsInterval)
	defer metricsTicker.Stop()
	pingTicker := time.NewTicker(m.pingEvery)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-metricsTicker.C:
			report, ok := m.window.report()
			if !ok {
				continue
			}
			ev := m.factory.Data("", core.ActionMetrics, report)
			m.tx.Offer(ctx, ev, core.DestinationLogs)

		case <-pingTicker.C:
			count := m.window.CumulativeOrderBooks()
			ev := m.factory.Data("", core.ActionPing, count)
			m.tx.Offer(ctx, ev, core.DestinationLogs)
		}
	}
}
