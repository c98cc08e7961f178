// Package mock provides an in-memory exchange driver for tests and for the
// "mock" exchange id.
package mock

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"flashgate/internal/core"
	"flashgate/internal/exchange/base"
	apperrors "flashgate/pkg/errors"

	"github.com/shopspring/decimal"
)

// Driver implements core.IDriver entirely in memory. Tests seed market data
// with the Set/Push helpers and inject failures with FailNext.
type Driver struct {
	mu sync.Mutex

	books   map[string]core.OrderBook
	balance core.Balance
	orders  map[string]core.Order // by exchange order id
	nextID  int64

	faults map[string][]error // per operation, consumed in order

	bookCh    chan core.OrderBook
	balanceCh chan core.Balance
	orderCh   chan core.Order

	calls  map[string]int
	closed bool
}

// New creates an empty mock driver
func New() *Driver {
	return &Driver{
		books:     make(map[string]core.OrderBook),
		orders:    make(map[string]core.Order),
		faults:    make(map[string][]error),
		calls:     make(map[string]int),
		bookCh:    make(chan core.OrderBook, 64),
		balanceCh: make(chan core.Balance, 64),
		orderCh:   make(chan core.Order, 64),
	}
}

// Name returns the exchange id
func (d *Driver) Name() string { return "mock" }

// SetOrderBook seeds the book returned for symbol
func (d *Driver) SetOrderBook(symbol string, book core.OrderBook) {
	d.mu.Lock()
	d.books[symbol] = book
	d.mu.Unlock()
}

// SetBalance seeds the full account snapshot
func (d *Driver) SetBalance(balance core.Balance) {
	d.mu.Lock()
	d.balance = balance
	d.mu.Unlock()
}

// SetOrder seeds an existing order by exchange id
func (d *Driver) SetOrder(order core.Order) {
	d.mu.Lock()
	d.orders[order.ID] = order
	d.mu.Unlock()
}

// FailNext queues errs as the results of upcoming calls to op
// (e.g. "create_order"); a nil entry means that call succeeds.
func (d *Driver) FailNext(op string, errs ...error) {
	d.mu.Lock()
	d.faults[op] = append(d.faults[op], errs...)
	d.mu.Unlock()
}

// Calls reports how many times op ran
func (d *Driver) Calls(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

// PushOrderBook delivers a book on the watch channel
func (d *Driver) PushOrderBook(book core.OrderBook) { d.bookCh <- book }

// PushBalance delivers a balance on the watch channel
func (d *Driver) PushBalance(b core.Balance) { d.balanceCh <- b }

// PushOrder delivers an order update on the watch channel
func (d *Driver) PushOrder(o core.Order) { d.orderCh <- o }

func (d *Driver) begin(op string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("%w: driver closed", apperrors.ErrNetwork)
	}
	d.calls[op]++
	if faults := d.faults[op]; len(faults) > 0 {
		err := faults[0]
		d.faults[op] = faults[1:]
		return err
	}
	return nil
}

// FetchOrderBook returns the seeded book for symbol
func (d *Driver) FetchOrderBook(ctx context.Context, symbol string, limit int) (core.OrderBook, error) {
	books, err := d.FetchOrderBooks(ctx, []string{symbol}, limit)
	if err != nil {
		return core.OrderBook{}, err
	}
	return books[0], nil
}

// FetchOrderBooks returns seeded books, erroring on unseeded symbols
func (d *Driver) FetchOrderBooks(_ context.Context, symbols []string, limit int) ([]core.OrderBook, error) {
	if err := d.begin("fetch_order_books"); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	books := make([]core.OrderBook, 0, len(symbols))
	for _, symbol := range symbols {
		book, ok := d.books[symbol]
		if !ok {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, symbol)
		}
		books = append(books, base.ClampDepth(book, limit))
	}
	return books, nil
}

// WatchOrderBook returns the push channel; the seeded book for the symbol is
// delivered first when present.
func (d *Driver) WatchOrderBook(_ context.Context, symbol string, limit int) (<-chan core.OrderBook, error) {
	if err := d.begin("watch_order_book"); err != nil {
		return nil, err
	}
	d.mu.Lock()
	book, ok := d.books[symbol]
	d.mu.Unlock()
	if ok {
		d.bookCh <- base.ClampDepth(book, limit)
	}
	return d.bookCh, nil
}

// FetchPartialBalance reduces the seeded snapshot to the requested assets
func (d *Driver) FetchPartialBalance(_ context.Context, assets []string) (core.Balance, error) {
	if err := d.begin("fetch_partial_balance"); err != nil {
		return core.Balance{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return base.PartialBalance(d.balance, assets), nil
}

// WatchBalance returns the push channel
func (d *Driver) WatchBalance(context.Context) (<-chan core.Balance, error) {
	if err := d.begin("watch_balance"); err != nil {
		return nil, err
	}
	return d.balanceCh, nil
}

// WatchOrders returns the push channel
func (d *Driver) WatchOrders(context.Context) (<-chan core.Order, error) {
	if err := d.begin("watch_orders"); err != nil {
		return nil, err
	}
	return d.orderCh, nil
}

// CreateOrder records the order as open under a fresh exchange id
func (d *Driver) CreateOrder(_ context.Context, params core.CreateOrderParams) (core.Order, error) {
	if err := d.begin("create_order"); err != nil {
		return core.Order{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	order := core.Order{
		ID:            "M" + strconv.FormatInt(d.nextID, 10),
		ClientOrderID: params.ClientOrderID,
		Symbol:        params.Symbol,
		Type:          params.Type,
		Side:          params.Side,
		Status:        core.OrderStatusOpen,
		Price:         params.Price,
		Amount:        params.Amount,
		Filled:        decimal.Zero,
		Timestamp:     base.NowMicros(),
	}
	d.orders[order.ID] = order
	return order, nil
}

// CancelOrder marks the order canceled, ErrOrderNotFound when unknown
func (d *Driver) CancelOrder(_ context.Context, ref core.OrderRef) error {
	if err := d.begin("cancel_order"); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	order, ok := d.orders[ref.ID]
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, ref.ID)
	}
	order.Status = core.OrderStatusCanceled
	d.orders[ref.ID] = order
	return nil
}

// CancelAllOrders cancels every open order on the given symbols
func (d *Driver) CancelAllOrders(_ context.Context, symbols []string) error {
	if err := d.begin("cancel_all_orders"); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}
	for id, order := range d.orders {
		if order.Status == core.OrderStatusOpen && want[order.Symbol] {
			order.Status = core.OrderStatusCanceled
			d.orders[id] = order
		}
	}
	return nil
}

// FetchOrder returns the stored order, ErrOrderNotFound when unknown
func (d *Driver) FetchOrder(_ context.Context, ref core.OrderRef) (core.Order, error) {
	if err := d.begin("fetch_order"); err != nil {
		return core.Order{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	order, ok := d.orders[ref.ID]
	if !ok {
		return core.Order{}, fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, ref.ID)
	}
	if ref.ClientOrderID != "" {
		order.ClientOrderID = ref.ClientOrderID
	}
	return order, nil
}

// FetchOpenOrders lists open orders for symbol
func (d *Driver) FetchOpenOrders(_ context.Context, symbol string) ([]core.Order, error) {
	if err := d.begin("fetch_open_orders"); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []core.Order
	for _, order := range d.orders {
		if order.Symbol == symbol && order.Status == core.OrderStatusOpen {
			out = append(out, order)
		}
	}
	return out, nil
}

// Close marks the driver closed and ends the push channels so watchers
// unblock.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	close(d.bookCh)
	close(d.balanceCh)
	close(d.orderCh)
	return nil
}

// Closed reports whether Close ran
func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
