package gate

import (
	"context"
	"errors"
	"fmt"

	"flashgate/internal/core"
	"flashgate/internal/correlator"
	"flashgate/internal/event"
	"flashgate/internal/exchange"
	"flashgate/internal/transmitter"
	"flashgate/pkg/concurrency"
	apperrors "flashgate/pkg/errors"
	"flashgate/pkg/telemetry"
)

// Dispatcher turns inbound command events into exchange calls and outbound
// events. Every command yields at least one terminal event on CORE bearing
// the command's event id: DATA on success, ERROR on failure.
type Dispatcher struct {
	factory    *event.Factory
	tx         *transmitter.Transmitter
	correlator *correlator.Correlator
	tracker    *correlator.Tracker
	pool       *exchange.PrivatePool
	gate       *concurrency.PriorityGate
	workers    *concurrency.WorkerPool
	window     *window
	logger     core.ILogger

	symbols       []string // configured symbol universe, for cancel_all
	defaultAssets []string // configured asset universe, for empty get_balance
}

// DispatcherDeps carries the dispatcher's collaborators
type DispatcherDeps struct {
	Factory       *event.Factory
	Transmitter   *transmitter.Transmitter
	Correlator    *correlator.Correlator
	Tracker       *correlator.Tracker
	Pool          *exchange.PrivatePool
	Gate          *concurrency.PriorityGate
	Workers       *concurrency.WorkerPool
	Window        *window
	Logger        core.ILogger
	Symbols       []string
	DefaultAssets []string
}

// NewDispatcher wires a dispatcher
func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	return &Dispatcher{
		factory:       deps.Factory,
		tx:            deps.Transmitter,
		correlator:    deps.Correlator,
		tracker:       deps.Tracker,
		pool:          deps.Pool,
		gate:          deps.Gate,
		workers:       deps.Workers,
		window:        deps.Window,
		logger:        deps.Logger.WithField("component", "dispatcher"),
		symbols:       deps.Symbols,
		defaultAssets: deps.DefaultAssets,
	}
}

// Handle processes one raw command fragment from the bus. It never blocks on
// exchange calls: handlers run on the worker pool so the poll loop stays hot.
func (d *Dispatcher) Handle(raw []byte) {
	ctx := context.Background()

	ev, err := event.Decode(raw)
	if err != nil {
		d.logger.Warn("Rejected inbound event", "error", err)
		out := d.factory.Error(ev.EventID, ev.Action, err.Error(), []string{string(raw)})
		d.tx.Emit(ctx, out, core.DestinationCore)
		return
	}

	// Audit mirror: what the gate received, stamped as seen by the gate.
	mirror := ev
	mirror.Node = core.NodeGate
	d.tx.Offer(ctx, mirror, core.DestinationLogs)

	if ev.Type != core.EventTypeCommand {
		return
	}

	telemetry.GetGlobalMetrics().RecordCommand(ctx, string(ev.Action))

	if err := d.workers.Submit(func() { d.dispatch(context.Background(), ev) }); err != nil {
		d.logger.Error("Failed to submit command", "action", ev.Action, "error", err)
		out := d.factory.Error(ev.EventID, ev.Action, err.Error(), nil)
		d.tx.Emit(ctx, out, core.DestinationCore)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, ev core.Event) {
	switch ev.Action {
	case core.ActionCreateOrders:
		d.handleCreateOrders(ctx, ev)
	case core.ActionCancelOrders:
		d.handleCancelOrders(ctx, ev)
	case core.ActionCancelAllOrders:
		d.handleCancelAllOrders(ctx, ev)
	case core.ActionGetOrders:
		d.handleGetOrders(ctx, ev)
	case core.ActionGetBalance:
		d.handleGetBalance(ctx, ev)
	default:
		msg := fmt.Sprintf("action %q is not a command", ev.Action)
		d.emitError(ctx, ev, msg, nil)
	}
}

func (d *Dispatcher) emitError(ctx context.Context, cause core.Event, msg string, data any) {
	telemetry.GetGlobalMetrics().RecordCommandError(ctx, string(cause.Action))
	out := d.factory.Error(cause.EventID, cause.Action, msg, data)
	d.tx.Emit(ctx, out, core.DestinationCore)
}

// handleCreateOrders places every requested order. The priority gate stays
// raised for the whole burst so polling loops yield the credential pool.
func (d *Dispatcher) handleCreateOrders(ctx context.Context, ev core.Event) {
	params, ok := ev.Data.([]core.CreateOrderParams)
	if !ok || len(params) == 0 {
		d.emitError(ctx, ev, "create_orders: empty or malformed payload", nil)
		return
	}

	d.gate.Enter()
	defer d.gate.Leave()

	for _, p := range params {
		var order core.Order
		err := d.pool.With(ctx, func(drv core.IDriver) error {
			d.window.RecordPrivateCall()
			telemetry.GetGlobalMetrics().RecordPrivateCall(ctx, "create_order")
			var callErr error
			order, callErr = drv.CreateOrder(ctx, p)
			return callErr
		})
		if err != nil {
			d.logger.Error("Order placement failed",
				"client_order_id", p.ClientOrderID, "symbol", p.Symbol, "error", err)
			d.emitError(ctx, ev, apperrors.Describe(err), []core.CreateOrderParams{p})
			continue
		}

		if err := d.correlator.Bind(ctx, p.ClientOrderID, order.ID, ev.EventID); err != nil {
			// The order is live on the venue; losing the binding is worse
			// than a duplicate event, so report and keep going.
			d.logger.Error("Failed to bind order ids",
				"client_order_id", p.ClientOrderID, "order_id", order.ID, "error", err)
			d.emitError(ctx, ev, err.Error(), []core.CreateOrderParams{p})
			continue
		}
		d.tracker.Add(p.ClientOrderID, p.Symbol)
		telemetry.GetGlobalMetrics().SetOpenOrders(int64(d.tracker.Size()))

		out := d.factory.Data(ev.EventID, core.ActionCreateOrders, []core.Order{order})
		d.tx.Emit(ctx, out, core.DestinationCore)
	}
}

// handleCancelOrders cancels by client order id. An id the correlator does
// not know produces an error without touching the exchange.
func (d *Dispatcher) handleCancelOrders(ctx context.Context, ev core.Event) {
	refs, ok := ev.Data.([]core.OrderRef)
	if !ok || len(refs) == 0 {
		d.emitError(ctx, ev, "cancel_orders: empty or malformed payload", nil)
		return
	}

	for _, ref := range refs {
		orderID, found, err := d.correlator.OrderID(ctx, ref.ClientOrderID)
		if err != nil {
			d.emitError(ctx, ev, err.Error(), []core.OrderRef{ref})
			continue
		}
		if !found {
			d.emitError(ctx, ev,
				fmt.Sprintf("unknown client order id %q", ref.ClientOrderID),
				[]core.OrderRef{ref})
			continue
		}

		err = d.pool.With(ctx, func(drv core.IDriver) error {
			d.window.RecordPrivateCall()
			telemetry.GetGlobalMetrics().RecordPrivateCall(ctx, "cancel_order")
			return drv.CancelOrder(ctx, core.OrderRef{ID: orderID, Symbol: ref.Symbol})
		})

		switch {
		case err == nil:
			// No positive acknowledgement; the orders loop reports the
			// resulting terminal status.

		case errors.Is(err, apperrors.ErrOrderNotFound):
			// The venue no longer knows the order; reflect observed reality
			// with a synthetic terminal update, plus the error itself.
			d.emitSyntheticCancel(ctx, ref, orderID)
			d.emitError(ctx, ev, apperrors.Describe(err), []core.OrderRef{ref})

		default:
			d.logger.Error("Cancel failed",
				"client_order_id", ref.ClientOrderID, "order_id", orderID, "error", err)
			d.emitError(ctx, ev, apperrors.Describe(err), []core.OrderRef{ref})
		}
	}
}

func (d *Dispatcher) emitSyntheticCancel(ctx context.Context, ref core.OrderRef, orderID string) {
	eventID, _, err := d.correlator.EventID(ctx, ref.ClientOrderID)
	if err != nil {
		d.logger.Warn("Event id lookup failed", "client_order_id", ref.ClientOrderID, "error", err)
	}

	order := core.Order{
		ID:            orderID,
		ClientOrderID: ref.ClientOrderID,
		Symbol:        ref.Symbol,
		Status:        core.OrderStatusCanceled,
		Timestamp:     event.Timestamp(),
	}
	if d.tracker.Remove(ref.ClientOrderID, ref.Symbol) {
		telemetry.GetGlobalMetrics().SetOpenOrders(int64(d.tracker.Size()))
	}

	out := d.factory.Data(eventID, core.ActionOrdersUpdate, []core.Order{order})
	d.tx.Emit(ctx, out, core.DestinationCore)
}

// handleCancelAllOrders sweeps the configured symbol universe
func (d *Dispatcher) handleCancelAllOrders(ctx context.Context, ev core.Event) {
	err := d.pool.With(ctx, func(drv core.IDriver) error {
		d.window.RecordPrivateCall()
		telemetry.GetGlobalMetrics().RecordPrivateCall(ctx, "cancel_all_orders")
		return drv.CancelAllOrders(ctx, d.symbols)
	})
	if err != nil {
		d.logger.Error("Cancel all failed", "symbols", d.symbols, "error", err)
		d.emitError(ctx, ev, apperrors.Describe(err), nil)
		return
	}
	out := d.factory.Data(ev.EventID, core.ActionCancelAllOrders, nil)
	d.tx.Emit(ctx, out, core.DestinationCore)
}

// handleGetOrders answers a status query per referenced order
func (d *Dispatcher) handleGetOrders(ctx context.Context, ev core.Event) {
	refs, ok := ev.Data.([]core.OrderRef)
	if !ok || len(refs) == 0 {
		d.emitError(ctx, ev, "get_orders: empty or malformed payload", nil)
		return
	}

	for _, ref := range refs {
		orderID, found, err := d.correlator.OrderID(ctx, ref.ClientOrderID)
		if err != nil {
			d.emitError(ctx, ev, err.Error(), []core.OrderRef{ref})
			continue
		}
		if !found {
			d.emitError(ctx, ev,
				fmt.Sprintf("unknown client order id %q", ref.ClientOrderID),
				[]core.OrderRef{ref})
			continue
		}

		var order core.Order
		err = d.pool.With(ctx, func(drv core.IDriver) error {
			d.window.RecordPrivateCall()
			telemetry.GetGlobalMetrics().RecordPrivateCall(ctx, "fetch_order")
			var callErr error
			order, callErr = drv.FetchOrder(ctx, core.OrderRef{
				ID:            orderID,
				ClientOrderID: ref.ClientOrderID,
				Symbol:        ref.Symbol,
			})
			return callErr
		})
		if err != nil {
			d.emitError(ctx, ev, apperrors.Describe(err), []core.OrderRef{ref})
			continue
		}

		order.ClientOrderID = ref.ClientOrderID
		out := d.factory.Data(ev.EventID, core.ActionGetOrders, []core.Order{order})
		d.tx.Emit(ctx, out, core.DestinationCore)
	}
}

// handleGetBalance answers on the BALANCE stream; an empty asset list means
// the configured default universe.
func (d *Dispatcher) handleGetBalance(ctx context.Context, ev core.Event) {
	assets, _ := ev.Data.([]string)
	if len(assets) == 0 {
		assets = d.defaultAssets
	}

	var balance core.Balance
	err := d.pool.With(ctx, func(drv core.IDriver) error {
		d.window.RecordPrivateCall()
		telemetry.GetGlobalMetrics().RecordPrivateCall(ctx, "fetch_partial_balance")
		var callErr error
		balance, callErr = drv.FetchPartialBalance(ctx, assets)
		return callErr
	})
	if err != nil {
		d.logger.Error("Balance fetch failed", "assets", assets, "error", err)
		d.emitError(ctx, ev, apperrors.Describe(err), nil)
		return
	}

	out := d.factory.Data(ev.EventID, core.ActionGetBalance, balance)
	d.tx.Emit(ctx, out, core.DestinationBalance)
}
