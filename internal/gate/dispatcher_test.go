package gate

import (
	"context"
	"testing"

	"flashgate/internal/core"
	"flashgate/internal/event"
	apperrors "flashgate/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limitOrder(clientID string) core.CreateOrderParams {
	return core.CreateOrderParams{
		ClientOrderID: clientID,
		Symbol:        "BTC/USDT",
		Type:          core.OrderTypeLimit,
		Side:          core.OrderSideBuy,
		Price:         decimal.RequireFromString("42000.5"),
		Amount:        decimal.RequireFromString("0.01"),
	}
}

func TestDispatcher_CreateOrders(t *testing.T) {
	h := newHarness(t)
	d := h.dispatcher(t)

	d.Handle(command(t, "ev-1", core.ActionCreateOrders, []core.CreateOrderParams{limitOrder("c-1")}))

	events := h.collect(t, core.DestinationCore, 1)
	ev := events[0]
	assert.Equal(t, "ev-1", ev.EventID)
	assert.Equal(t, core.EventTypeData, ev.Type)
	assert.Equal(t, core.ActionCreateOrders, ev.Action)
	assert.Equal(t, core.NodeGate, ev.Node)

	orders, ok := ev.Data.([]any)
	require.True(t, ok)
	require.Len(t, orders, 1)
	placed := orders[0].(map[string]any)
	assert.Equal(t, "c-1", placed["client_order_id"])
	assert.Equal(t, "open", placed["status"])

	// Both id mappings and the open set must be live after placement.
	orderID, found, err := h.corr.OrderID(context.Background(), "c-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.NotEmpty(t, orderID)
	assert.True(t, h.tracker.Contains("c-1", "BTC/USDT"))
}

func TestDispatcher_CreateOrders_MirrorsCommandToLogs(t *testing.T) {
	h := newHarness(t)
	d := h.dispatcher(t)

	d.Handle(command(t, "ev-2", core.ActionCreateOrders, []core.CreateOrderParams{limitOrder("c-2")}))

	logs := h.collect(t, core.DestinationLogs, 1)
	assert.Equal(t, "ev-2", logs[0].EventID)
	assert.Equal(t, core.EventTypeCommand, logs[0].Type)
	assert.Equal(t, core.NodeGate, logs[0].Node)
}

func TestDispatcher_CreateOrders_VenueRejection(t *testing.T) {
	h := newHarness(t)
	d := h.dispatcher(t)
	h.driver.FailNext("create_order", apperrors.ErrRateLimitExceeded)

	d.Handle(command(t, "ev-3", core.ActionCreateOrders, []core.CreateOrderParams{limitOrder("c-3")}))

	events := h.collect(t, core.DestinationCore, 1)
	assert.Equal(t, core.EventTypeError, events[0].Type)
	assert.Equal(t, "ev-3", events[0].EventID)
	assert.Equal(t, apperrors.MsgRateLimited, events[0].Message)
	assert.False(t, h.tracker.Contains("c-3", "BTC/USDT"))
}

func TestDispatcher_CancelOrders_UnknownIDSkipsVenue(t *testing.T) {
	h := newHarness(t)
	d := h.dispatcher(t)

	d.Handle(command(t, "ev-4", core.ActionCancelOrders,
		[]core.OrderRef{{ClientOrderID: "ghost", Symbol: "BTC/USDT"}}))

	events := h.collect(t, core.DestinationCore, 1)
	assert.Equal(t, core.EventTypeError, events[0].Type)
	assert.Contains(t, events[0].Message, "ghost")
	assert.Zero(t, h.driver.Calls("cancel_order"))
}

func TestDispatcher_CancelOrders_SuccessIsSilent(t *testing.T) {
	h := newHarness(t)
	d := h.dispatcher(t)

	d.Handle(command(t, "ev-5", core.ActionCreateOrders, []core.CreateOrderParams{limitOrder("c-5")}))
	h.collect(t, core.DestinationCore, 1)

	d.Handle(command(t, "ev-6", core.ActionCancelOrders,
		[]core.OrderRef{{ClientOrderID: "c-5", Symbol: "BTC/USDT"}}))

	// The venue accepted the cancel; the terminal status arrives through the
	// orders feed, not as a command response.
	assert.Eventually(t, func() bool { return h.driver.Calls("cancel_order") == 1 },
		waitFor, tick)
	assert.Empty(t, h.drain(t, core.DestinationCore))
}

func TestDispatcher_CancelOrders_GoneOnVenue(t *testing.T) {
	h := newHarness(t)
	d := h.dispatcher(t)

	d.Handle(command(t, "ev-7", core.ActionCreateOrders, []core.CreateOrderParams{limitOrder("c-7")}))
	h.collect(t, core.DestinationCore, 1)

	h.driver.FailNext("cancel_order", apperrors.ErrOrderNotFound)
	d.Handle(command(t, "ev-8", core.ActionCancelOrders,
		[]core.OrderRef{{ClientOrderID: "c-7", Symbol: "BTC/USDT"}}))

	events := h.collect(t, core.DestinationCore, 2)

	// Synthetic terminal update first, carrying the originating event id.
	update := events[0]
	assert.Equal(t, core.ActionOrdersUpdate, update.Action)
	assert.Equal(t, "ev-7", update.EventID)
	orders := update.Data.([]any)
	require.Len(t, orders, 1)
	assert.Equal(t, "canceled", orders[0].(map[string]any)["status"])

	failure := events[1]
	assert.Equal(t, core.EventTypeError, failure.Type)
	assert.Equal(t, "ev-8", failure.EventID)
	assert.Equal(t, apperrors.MsgOrderNotFound, failure.Message)

	assert.False(t, h.tracker.Contains("c-7", "BTC/USDT"))
}

func TestDispatcher_CancelAllOrders(t *testing.T) {
	h := newHarness(t)
	d := h.dispatcher(t)

	d.Handle(command(t, "ev-9", core.ActionCancelAllOrders, nil))

	events := h.collect(t, core.DestinationCore, 1)
	assert.Equal(t, core.EventTypeData, events[0].Type)
	assert.Equal(t, core.ActionCancelAllOrders, events[0].Action)
	assert.Equal(t, "ev-9", events[0].EventID)
	assert.Nil(t, events[0].Data)
	assert.Equal(t, 1, h.driver.Calls("cancel_all_orders"))
}

func TestDispatcher_GetOrders(t *testing.T) {
	h := newHarness(t)
	d := h.dispatcher(t)

	d.Handle(command(t, "ev-10", core.ActionCreateOrders, []core.CreateOrderParams{limitOrder("c-10")}))
	h.collect(t, core.DestinationCore, 1)

	d.Handle(command(t, "ev-11", core.ActionGetOrders,
		[]core.OrderRef{{ClientOrderID: "c-10", Symbol: "BTC/USDT"}}))

	events := h.collect(t, core.DestinationCore, 1)
	assert.Equal(t, "ev-11", events[0].EventID)
	assert.Equal(t, core.ActionGetOrders, events[0].Action)
	orders := events[0].Data.([]any)
	require.Len(t, orders, 1)
	assert.Equal(t, "c-10", orders[0].(map[string]any)["client_order_id"])
}

func TestDispatcher_GetBalance_DefaultAssets(t *testing.T) {
	h := newHarness(t)
	d := h.dispatcher(t)
	h.driver.SetBalance(core.Balance{Assets: map[string]core.AssetBalance{
		"BTC":  {Free: decimal.RequireFromString("1.5")},
		"USDT": {Free: decimal.RequireFromString("1000")},
		"ETH":  {Free: decimal.RequireFromString("10")},
	}})

	d.Handle(command(t, "ev-12", core.ActionGetBalance, nil))

	events := h.collect(t, core.DestinationBalance, 1)
	assert.Equal(t, "ev-12", events[0].EventID)
	assert.Equal(t, core.ActionGetBalance, events[0].Action)
	balance := events[0].Data.(map[string]any)
	assets := balance["assets"].(map[string]any)
	assert.Contains(t, assets, "BTC")
	assert.Contains(t, assets, "USDT")
	assert.NotContains(t, assets, "ETH")
}

func TestDispatcher_MalformedFragment(t *testing.T) {
	h := newHarness(t)
	d := h.dispatcher(t)

	d.Handle([]byte(`{"event":"command","action":"self_destruct"}`))

	events := h.collect(t, core.DestinationCore, 1)
	assert.Equal(t, core.EventTypeError, events[0].Type)
	assert.Contains(t, events[0].Message, "self_destruct")
	raw := events[0].Data.([]any)
	require.Len(t, raw, 1)
	assert.Contains(t, raw[0].(string), "self_destruct")
}

func TestDispatcher_IgnoresNonCommands(t *testing.T) {
	h := newHarness(t)
	d := h.dispatcher(t)

	raw, err := event.Encode(h.factory.Data("ev-13", core.ActionBalanceUpdate, core.Balance{}))
	require.NoError(t, err)
	d.Handle(raw)

	// Only the audit mirror appears; nothing is dispatched.
	logs := h.collect(t, core.DestinationLogs, 1)
	assert.Equal(t, "ev-13", logs[0].EventID)
	assert.Empty(t, h.drain(t, core.DestinationCore))
	assert.Zero(t, h.driver.Calls("fetch_partial_balance"))
}
