package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricEventsPublishedTotal   = "flashgate_events_published_total"
	MetricEventsDroppedTotal     = "flashgate_events_dropped_total"
	MetricBusRetriesTotal        = "flashgate_bus_retries_total"
	MetricCommandsTotal          = "flashgate_commands_total"
	MetricCommandErrorsTotal     = "flashgate_command_errors_total"
	MetricOrderBooksTotal        = "flashgate_order_books_received_total"
	MetricOrderBookLatency       = "flashgate_order_book_latency_us"
	MetricPrivateAPICallsTotal   = "flashgate_private_api_calls_total"
	MetricOpenOrders             = "flashgate_open_orders"
	MetricWSReconnectsTotal      = "flashgate_ws_reconnects_total"
	MetricStoreOperationsTotal   = "flashgate_store_operations_total"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	EventsPublishedTotal metric.Int64Counter
	EventsDroppedTotal   metric.Int64Counter
	BusRetriesTotal      metric.Int64Counter
	CommandsTotal        metric.Int64Counter
	CommandErrorsTotal   metric.Int64Counter
	OrderBooksTotal      metric.Int64Counter
	OrderBookLatency     metric.Float64Histogram
	PrivateAPICallsTotal metric.Int64Counter
	OpenOrders           metric.Int64ObservableGauge
	WSReconnectsTotal    metric.Int64Counter
	StoreOperationsTotal metric.Int64Counter

	// State for observable gauges
	mu         sync.RWMutex
	openOrders int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{}
		// Initialization of instruments happens in InitMetrics
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.EventsPublishedTotal, err = meter.Int64Counter(MetricEventsPublishedTotal, metric.WithDescription("Events offered successfully, by destination and action"))
	if err != nil {
		return err
	}

	m.EventsDroppedTotal, err = meter.Int64Counter(MetricEventsDroppedTotal, metric.WithDescription("Events dropped on publish failure, by destination and reason"))
	if err != nil {
		return err
	}

	m.BusRetriesTotal, err = meter.Int64Counter(MetricBusRetriesTotal, metric.WithDescription("Offer retries caused by bus back pressure"))
	if err != nil {
		return err
	}

	m.CommandsTotal, err = meter.Int64Counter(MetricCommandsTotal, metric.WithDescription("Inbound commands dispatched, by action"))
	if err != nil {
		return err
	}

	m.CommandErrorsTotal, err = meter.Int64Counter(MetricCommandErrorsTotal, metric.WithDescription("Commands that produced an error event, by action"))
	if err != nil {
		return err
	}

	m.OrderBooksTotal, err = meter.Int64Counter(MetricOrderBooksTotal, metric.WithDescription("Order book snapshots received, by symbol"))
	if err != nil {
		return err
	}

	m.OrderBookLatency, err = meter.Float64Histogram(MetricOrderBookLatency, metric.WithDescription("Latency of batched order book fetches"), metric.WithUnit("us"))
	if err != nil {
		return err
	}

	m.PrivateAPICallsTotal, err = meter.Int64Counter(MetricPrivateAPICallsTotal, metric.WithDescription("Authenticated exchange API calls"))
	if err != nil {
		return err
	}

	m.WSReconnectsTotal, err = meter.Int64Counter(MetricWSReconnectsTotal, metric.WithDescription("WebSocket reconnect attempts, by endpoint"))
	if err != nil {
		return err
	}

	m.StoreOperationsTotal, err = meter.Int64Counter(MetricStoreOperationsTotal, metric.WithDescription("Correlator store operations, by kind"))
	if err != nil {
		return err
	}

	m.OpenOrders, err = meter.Int64ObservableGauge(MetricOpenOrders, metric.WithDescription("Orders currently tracked as open"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.openOrders)
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Record helpers. All of them are no-ops before InitMetrics so components and
// their tests never need a telemetry pipeline to run.

func (m *MetricsHolder) RecordPublish(ctx context.Context, destination, action string) {
	if m.EventsPublishedTotal == nil {
		return
	}
	m.EventsPublishedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("destination", destination),
		attribute.String("action", action),
	))
}

func (m *MetricsHolder) RecordDrop(ctx context.Context, destination, reason string) {
	if m.EventsDroppedTotal == nil {
		return
	}
	m.EventsDroppedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("destination", destination),
		attribute.String("reason", reason),
	))
}

func (m *MetricsHolder) RecordBusRetry(ctx context.Context, destination string) {
	if m.BusRetriesTotal == nil {
		return
	}
	m.BusRetriesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("destination", destination)))
}

func (m *MetricsHolder) RecordCommand(ctx context.Context, action string) {
	if m.CommandsTotal == nil {
		return
	}
	m.CommandsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

func (m *MetricsHolder) RecordCommandError(ctx context.Context, action string) {
	if m.CommandErrorsTotal == nil {
		return
	}
	m.CommandErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

func (m *MetricsHolder) RecordOrderBook(ctx context.Context, symbol string) {
	if m.OrderBooksTotal == nil {
		return
	}
	m.OrderBooksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", symbol)))
}

func (m *MetricsHolder) RecordOrderBookLatency(ctx context.Context, micros float64) {
	if m.OrderBookLatency == nil {
		return
	}
	m.OrderBookLatency.Record(ctx, micros)
}

func (m *MetricsHolder) RecordPrivateCall(ctx context.Context, operation string) {
	if m.PrivateAPICallsTotal == nil {
		return
	}
	m.PrivateAPICallsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

func (m *MetricsHolder) RecordWSReconnect(ctx context.Context, endpoint string) {
	if m.WSReconnectsTotal == nil {
		return
	}
	m.WSReconnectsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

func (m *MetricsHolder) RecordStoreOperation(ctx context.Context, kind string) {
	if m.StoreOperationsTotal == nil {
		return
	}
	m.StoreOperationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// SetOpenOrders updates the observable open order count
func (m *MetricsHolder) SetOpenOrders(count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openOrders = count
}
