package gate

import (
	"context"
	"time"

	"flashgate/internal/core"
	"flashgate/internal/correlator"
	"flashgate/internal/event"
	"flashgate/internal/exchange"
	"flashgate/internal/exchange/base"
	"flashgate/internal/transmitter"
	"flashgate/pkg/concurrency"
	apperrors "flashgate/pkg/errors"
	"flashgate/pkg/telemetry"
)

// errorBackoff paces a loop's retry after a failed round so a broken venue
// does not produce a hot loop.
const errorBackoff = time.Second

// LoopConfig carries the knobs the subscription loops run on
type LoopConfig struct {
	Symbols       []string
	Assets        []string
	Depth         int
	OrderBookMode string // websocket | http
	BalanceMode   string
	OrdersMode    string

	OrderBookInterval   time.Duration
	BalanceInterval     time.Duration
	OrderStatusInterval time.Duration
	SubscribeDelay      time.Duration
}

// Loops are the persistent market data and account feeds. Every loop
// survives errors: it reports them as events and keeps going.
type Loops struct {
	cfg        LoopConfig
	factory    *event.Factory
	tx         *transmitter.Transmitter
	correlator *correlator.Correlator
	tracker    *correlator.Tracker
	stream     core.IDriver // dedicated streaming driver for watch calls
	private    *exchange.PrivatePool
	public     *exchange.PublicPool
	gate       *concurrency.PriorityGate
	window     *window
	logger     core.ILogger
}

// LoopDeps carries the loops' collaborators
type LoopDeps struct {
	Config      LoopConfig
	Factory     *event.Factory
	Transmitter *transmitter.Transmitter
	Correlator  *correlator.Correlator
	Tracker     *correlator.Tracker
	Stream      core.IDriver
	Private     *exchange.PrivatePool
	Public      *exchange.PublicPool
	Gate        *concurrency.PriorityGate
	Window      *window
	Logger      core.ILogger
}

// NewLoops wires the three subscription loops
func NewLoops(deps LoopDeps) *Loops {
	return &Loops{
		cfg:        deps.Config,
		factory:    deps.Factory,
		tx:         deps.Transmitter,
		correlator: deps.Correlator,
		tracker:    deps.Tracker,
		stream:     deps.Stream,
		private:    deps.Private,
		public:     deps.Public,
		gate:       deps.Gate,
		window:     deps.Window,
		logger:     deps.Logger,
	}
}

func (l *Loops) reportError(ctx context.Context, action core.Action, err error) {
	ev := l.factory.Error("", action, apperrors.Describe(err), nil)
	l.tx.Emit(ctx, ev, core.DestinationCore)
}

// pause sleeps d or returns false when ctx ends first
func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// RunOrderBooks feeds the ORDER_BOOK stream. Updates never touch LOGS; their
// rate would drown the log plane.
func (l *Loops) RunOrderBooks(ctx context.Context) error {
	if !pause(ctx, l.cfg.SubscribeDelay) {
		return ctx.Err()
	}

	if l.cfg.OrderBookMode == "websocket" {
		if len(l.cfg.Symbols) == 0 {
			<-ctx.Done()
			return ctx.Err()
		}
		// One watcher per symbol; each maintains its own stream.
		for _, symbol := range l.cfg.Symbols[1:] {
			go l.watchOrderBook(ctx, symbol)
		}
		l.watchOrderBook(ctx, l.cfg.Symbols[0])
		return ctx.Err()
	}

	l.pollOrderBooks(ctx)
	return ctx.Err()
}

func (l *Loops) watchOrderBook(ctx context.Context, symbol string) {
	logger := l.logger.WithField("symbol", symbol)
	for ctx.Err() == nil {
		ch, err := l.stream.WatchOrderBook(ctx, symbol, l.cfg.Depth)
		if err != nil {
			logger.Error("Order book stream failed", "error", err)
			l.reportError(ctx, core.ActionOrderBookUpdate, err)
			if !pause(ctx, errorBackoff) {
				return
			}
			continue
		}
		for book := range ch {
			l.emitOrderBook(ctx, book)
		}
		// Channel closed: driver shut the stream down, re-subscribe.
	}
}

func (l *Loops) pollOrderBooks(ctx context.Context) {
	for ctx.Err() == nil {
		var books []core.OrderBook
		start := time.Now()
		err := l.public.With(ctx, func(drv core.IDriver) error {
			var callErr error
			books, callErr = drv.FetchOrderBooks(ctx, l.cfg.Symbols, l.cfg.Depth)
			return callErr
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Error("Order book poll failed", "error", err)
			l.reportError(ctx, core.ActionOrderBookUpdate, err)
			if !pause(ctx, errorBackoff) {
				return
			}
			continue
		}

		micros := float64(time.Since(start).Microseconds())
		l.window.RecordOrderBookLatency(micros)
		telemetry.GetGlobalMetrics().RecordOrderBookLatency(ctx, micros)

		for _, book := range books {
			l.emitOrderBook(ctx, book)
		}
	}
}

func (l *Loops) emitOrderBook(ctx context.Context, book core.OrderBook) {
	l.window.RecordOrderBook()
	telemetry.GetGlobalMetrics().RecordOrderBook(ctx, book.Symbol)
	ev := l.factory.Data("", core.ActionOrderBookUpdate, book)
	l.tx.Emit(ctx, ev, core.DestinationOrderBook)
}

// RunBalance feeds the BALANCE stream
func (l *Loops) RunBalance(ctx context.Context) error {
	if !pause(ctx, l.cfg.SubscribeDelay) {
		return ctx.Err()
	}

	if l.cfg.BalanceMode == "websocket" {
		l.watchBalance(ctx)
		return ctx.Err()
	}
	l.pollBalance(ctx)
	return ctx.Err()
}

func (l *Loops) watchBalance(ctx context.Context) {
	for ctx.Err() == nil {
		ch, err := l.stream.WatchBalance(ctx)
		if err != nil {
			l.logger.Error("Balance stream failed", "error", err)
			l.reportError(ctx, core.ActionBalanceUpdate, err)
			if !pause(ctx, errorBackoff) {
				return
			}
			continue
		}
		for balance := range ch {
			l.emitBalance(ctx, base.FilterAssets(balance, l.cfg.Assets))
		}
	}
}

func (l *Loops) pollBalance(ctx context.Context) {
	for ctx.Err() == nil {
		// Command bursts own the credential pool; poll only when idle.
		if err := l.gate.Wait(ctx); err != nil {
			return
		}

		var balance core.Balance
		err := l.private.With(ctx, func(drv core.IDriver) error {
			l.window.RecordPrivateCall()
			telemetry.GetGlobalMetrics().RecordPrivateCall(ctx, "fetch_partial_balance")
			var callErr error
			balance, callErr = drv.FetchPartialBalance(ctx, l.cfg.Assets)
			return callErr
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Error("Balance poll failed", "error", err)
			l.reportError(ctx, core.ActionBalanceUpdate, err)
		} else {
			l.emitBalance(ctx, balance)
		}

		if !pause(ctx, l.cfg.BalanceInterval) {
			return
		}
	}
}

func (l *Loops) emitBalance(ctx context.Context, balance core.Balance) {
	ev := l.factory.Data("", core.ActionBalanceUpdate, balance)
	l.tx.Emit(ctx, ev, core.DestinationBalance)
}

// RunOrders feeds ORDERS_UPDATE events to CORE
func (l *Loops) RunOrders(ctx context.Context) error {
	if !pause(ctx, l.cfg.SubscribeDelay) {
		return ctx.Err()
	}

	if l.cfg.OrdersMode == "websocket" {
		l.watchOrders(ctx)
		return ctx.Err()
	}
	l.pollOrders(ctx)
	return ctx.Err()
}

func (l *Loops) watchOrders(ctx context.Context) {
	for ctx.Err() == nil {
		ch, err := l.stream.WatchOrders(ctx)
		if err != nil {
			l.logger.Error("Order stream failed", "error", err)
			l.reportError(ctx, core.ActionOrdersUpdate, err)
			if !pause(ctx, errorBackoff) {
				return
			}
			continue
		}
		for order := range ch {
			l.handleStreamedOrder(ctx, order)
		}
	}
}

// handleStreamedOrder annotates and forwards one unsolicited order update.
// Orders the correlator does not know are not ours and are skipped.
func (l *Loops) handleStreamedOrder(ctx context.Context, order core.Order) {
	clientOrderID, found, err := l.correlator.ClientOrderID(ctx, order.ID)
	if err != nil {
		l.logger.Error("Correlation lookup failed", "order_id", order.ID, "error", err)
		return
	}
	if !found {
		l.logger.Debug("Skipping update for unknown order", "order_id", order.ID)
		return
	}

	order.ClientOrderID = clientOrderID
	l.emitOrderUpdate(ctx, order)
}

func (l *Loops) emitOrderUpdate(ctx context.Context, order core.Order) {
	eventID, _, err := l.correlator.EventID(ctx, order.ClientOrderID)
	if err != nil {
		l.logger.Warn("Event id lookup failed", "client_order_id", order.ClientOrderID, "error", err)
	}

	ev := l.factory.Data(eventID, core.ActionOrdersUpdate, []core.Order{order})
	l.tx.Emit(ctx, ev, core.DestinationCore)

	if order.Status.Terminal() {
		if l.tracker.Remove(order.ClientOrderID, order.Symbol) {
			telemetry.GetGlobalMetrics().SetOpenOrders(int64(l.tracker.Size()))
		}
	}
}

// pollOrders sweeps the open set by status query
func (l *Loops) pollOrders(ctx context.Context) {
	for ctx.Err() == nil {
		for _, open := range l.tracker.Snapshot() {
			if err := l.gate.Wait(ctx); err != nil {
				return
			}
			l.pollOneOrder(ctx, open)
		}
		if !pause(ctx, l.cfg.OrderStatusInterval) {
			return
		}
	}
}

func (l *Loops) pollOneOrder(ctx context.Context, open correlator.OpenOrder) {
	orderID, found, err := l.correlator.OrderID(ctx, open.ClientOrderID)
	if err != nil || !found {
		l.logger.Error("Open order without id binding", "client_order_id", open.ClientOrderID, "error", err)
		l.tracker.Remove(open.ClientOrderID, open.Symbol)
		return
	}

	var order core.Order
	err = l.private.With(ctx, func(drv core.IDriver) error {
		l.window.RecordPrivateCall()
		telemetry.GetGlobalMetrics().RecordPrivateCall(ctx, "fetch_order")
		var callErr error
		order, callErr = drv.FetchOrder(ctx, core.OrderRef{
			ID:            orderID,
			ClientOrderID: open.ClientOrderID,
			Symbol:        open.Symbol,
		})
		return callErr
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// A status we cannot fetch is a status we cannot track; drop the
		// order from the open set and tell the core.
		l.logger.Error("Order status fetch failed",
			"client_order_id", open.ClientOrderID, "order_id", orderID, "error", err)
		l.tracker.Remove(open.ClientOrderID, open.Symbol)
		telemetry.GetGlobalMetrics().SetOpenOrders(int64(l.tracker.Size()))
		ev := l.factory.Error("", core.ActionOrdersUpdate, apperrors.Describe(err), nil)
		l.tx.Emit(ctx, ev, core.DestinationCore)
		return
	}

	order.ClientOrderID = open.ClientOrderID
	l.emitOrderUpdate(ctx, order)
}
