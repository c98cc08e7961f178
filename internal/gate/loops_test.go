package gate

import (
	"context"
	"testing"
	"time"

	"flashgate/internal/core"
	apperrors "flashgate/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pollingConfig() LoopConfig {
	return LoopConfig{
		Symbols:             []string{"BTC/USDT"},
		Assets:              []string{"BTC", "USDT"},
		Depth:               5,
		OrderBookMode:       "http",
		BalanceMode:         "http",
		OrdersMode:          "http",
		OrderBookInterval:   5 * time.Millisecond,
		BalanceInterval:     5 * time.Millisecond,
		OrderStatusInterval: 5 * time.Millisecond,
	}
}

func startLoop(t *testing.T, h *harness, run func(context.Context) error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		h.driver.Close()
		<-done
	})
}

func testBook(symbol string) core.OrderBook {
	return core.OrderBook{
		Symbol:    symbol,
		Bids:      []core.PriceLevel{{decimal.RequireFromString("42000"), decimal.RequireFromString("0.5")}},
		Asks:      []core.PriceLevel{{decimal.RequireFromString("42001"), decimal.RequireFromString("0.4")}},
		Timestamp: time.Now().UnixMicro(),
	}
}

func TestLoops_PollOrderBooks(t *testing.T) {
	h := newHarness(t)
	h.driver.SetOrderBook("BTC/USDT", testBook("BTC/USDT"))
	l := h.loops(t, pollingConfig())

	startLoop(t, h, l.RunOrderBooks)

	events := h.collect(t, core.DestinationOrderBook, 1)
	assert.Equal(t, core.EventTypeData, events[0].Type)
	assert.Equal(t, core.ActionOrderBookUpdate, events[0].Action)
	book := events[0].Data.(map[string]any)
	assert.Equal(t, "BTC/USDT", book["symbol"])

	// Book updates stay off the log stream; their volume would bury it.
	assert.Empty(t, h.drain(t, core.DestinationLogs))
}

func TestLoops_WatchOrderBooks(t *testing.T) {
	h := newHarness(t)
	cfg := pollingConfig()
	cfg.OrderBookMode = "websocket"
	l := h.loops(t, cfg)

	startLoop(t, h, l.RunOrderBooks)

	require.Eventually(t, func() bool { return h.driver.Calls("watch_order_book") > 0 },
		waitFor, tick)
	h.driver.PushOrderBook(testBook("BTC/USDT"))

	events := h.collect(t, core.DestinationOrderBook, 1)
	assert.Equal(t, core.ActionOrderBookUpdate, events[0].Action)
}

func TestLoops_PollBalance(t *testing.T) {
	h := newHarness(t)
	h.driver.SetBalance(core.Balance{Assets: map[string]core.AssetBalance{
		"BTC": {Free: decimal.RequireFromString("2")},
	}})
	l := h.loops(t, pollingConfig())

	startLoop(t, h, l.RunBalance)

	events := h.collect(t, core.DestinationBalance, 1)
	assert.Equal(t, core.ActionBalanceUpdate, events[0].Action)
	balance := events[0].Data.(map[string]any)
	assets := balance["assets"].(map[string]any)
	assert.Contains(t, assets, "BTC")
}

func TestLoops_WatchOrders_AnnotatesFromCorrelator(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.corr.Bind(context.Background(), "c-1", "X-1", "ev-orig"))
	h.tracker.Add("c-1", "BTC/USDT")

	cfg := pollingConfig()
	cfg.OrdersMode = "websocket"
	l := h.loops(t, cfg)
	startLoop(t, h, l.RunOrders)

	require.Eventually(t, func() bool { return h.driver.Calls("watch_orders") > 0 },
		waitFor, tick)
	h.driver.PushOrder(core.Order{ID: "X-1", Symbol: "BTC/USDT", Status: core.OrderStatusOpen})

	events := h.collect(t, core.DestinationCore, 1)
	assert.Equal(t, "ev-orig", events[0].EventID)
	assert.Equal(t, core.ActionOrdersUpdate, events[0].Action)
	orders := events[0].Data.([]any)
	require.Len(t, orders, 1)
	assert.Equal(t, "c-1", orders[0].(map[string]any)["client_order_id"])
	assert.True(t, h.tracker.Contains("c-1", "BTC/USDT"))

	// A terminal status retires the order from the open set.
	h.driver.PushOrder(core.Order{ID: "X-1", Symbol: "BTC/USDT", Status: core.OrderStatusClosed})
	h.collect(t, core.DestinationCore, 1)
	assert.Eventually(t, func() bool { return !h.tracker.Contains("c-1", "BTC/USDT") },
		waitFor, tick)
}

func TestLoops_WatchOrders_SkipsUnknownOrders(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.corr.Bind(context.Background(), "c-2", "X-2", "ev-2"))

	cfg := pollingConfig()
	cfg.OrdersMode = "websocket"
	l := h.loops(t, cfg)
	startLoop(t, h, l.RunOrders)

	require.Eventually(t, func() bool { return h.driver.Calls("watch_orders") > 0 },
		waitFor, tick)
	h.driver.PushOrder(core.Order{ID: "stranger", Symbol: "BTC/USDT", Status: core.OrderStatusOpen})
	h.driver.PushOrder(core.Order{ID: "X-2", Symbol: "BTC/USDT", Status: core.OrderStatusOpen})

	events := h.collect(t, core.DestinationCore, 1)
	orders := events[0].Data.([]any)
	assert.Equal(t, "c-2", orders[0].(map[string]any)["client_order_id"])
	assert.Empty(t, h.drain(t, core.DestinationCore))
}

func TestLoops_PollOrders_EmitsTerminalAndRetires(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.corr.Bind(context.Background(), "c-3", "X-3", "ev-3"))
	h.tracker.Add("c-3", "BTC/USDT")
	h.driver.SetOrder(core.Order{ID: "X-3", Symbol: "BTC/USDT", Status: core.OrderStatusClosed})

	l := h.loops(t, pollingConfig())
	startLoop(t, h, l.RunOrders)

	events := h.collect(t, core.DestinationCore, 1)
	assert.Equal(t, "ev-3", events[0].EventID)
	orders := events[0].Data.([]any)
	assert.Equal(t, "closed", orders[0].(map[string]any)["status"])
	assert.Eventually(t, func() bool { return h.tracker.Size() == 0 }, waitFor, tick)
}

func TestLoops_PollOrders_FetchFailureDropsOrder(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.corr.Bind(context.Background(), "c-4", "X-4", "ev-4"))
	h.tracker.Add("c-4", "BTC/USDT")
	h.driver.FailNext("fetch_order", apperrors.ErrTimeout)

	l := h.loops(t, pollingConfig())
	startLoop(t, h, l.RunOrders)

	events := h.collect(t, core.DestinationCore, 1)
	assert.Equal(t, core.EventTypeError, events[0].Type)
	assert.Equal(t, apperrors.MsgTimeout, events[0].Message)
	assert.Eventually(t, func() bool { return h.tracker.Size() == 0 }, waitFor, tick)
}

func TestLoops_PollOrderBooks_SurvivesFetchErrors(t *testing.T) {
	h := newHarness(t)
	h.driver.SetOrderBook("BTC/USDT", testBook("BTC/USDT"))
	h.driver.FailNext("fetch_order_books", apperrors.ErrNetwork)

	cfg := pollingConfig()
	l := h.loops(t, cfg)
	startLoop(t, h, l.RunOrderBooks)

	// The failed round reports on CORE, then the loop recovers.
	failures := h.collect(t, core.DestinationCore, 1)
	assert.Equal(t, core.EventTypeError, failures[0].Type)
	books := h.collect(t, core.DestinationOrderBook, 1)
	assert.Equal(t, core.ActionOrderBookUpdate, books[0].Action)
}
