package core

import (
	"github.com/shopspring/decimal"
)

// EventType classifies an envelope on the bus
type EventType string

const (
	EventTypeCommand EventType = "command"
	EventTypeData    EventType = "data"
	EventTypeError   EventType = "error"
)

// Node identifies the system component that produced an event
type Node string

const (
	NodeConfigurator Node = "configurator"
	NodeCore         Node = "core"
	NodeGate         Node = "gate"
	NodeAgent        Node = "agent"
)

// Action identifies what an event carries or requests.
// ActionMetrics is outbound-only; it is never accepted on the command stream.
type Action string

const (
	ActionGetBalance      Action = "get_balance"
	ActionCreateOrders    Action = "create_orders"
	ActionCancelOrders    Action = "cancel_orders"
	ActionCancelAllOrders Action = "cancel_all_orders"
	ActionGetOrders       Action = "get_orders"
	ActionOrderBookUpdate Action = "order_book_update"
	ActionBalanceUpdate   Action = "balance_update"
	ActionOrdersUpdate    Action = "orders_update"
	ActionPing            Action = "ping"
	ActionMetrics         Action = "metrics"
)

// Valid reports whether a is a member of the action enum
func (a Action) Valid() bool {
	switch a {
	case ActionGetBalance, ActionCreateOrders, ActionCancelOrders,
		ActionCancelAllOrders, ActionGetOrders, ActionOrderBookUpdate,
		ActionBalanceUpdate, ActionOrdersUpdate, ActionPing, ActionMetrics:
		return true
	}
	return false
}

// Destination names an outbound stream of the gate
type Destination string

const (
	DestinationOrderBook Destination = "order_book"
	DestinationBalance   Destination = "balance"
	DestinationCore      Destination = "core"
	DestinationLogs      Destination = "logs"
)

// Event is the envelope exchanged between the trading core, the gate and the
// observability plane. Timestamp is microseconds since the Unix epoch.
// Data holds the action-specific payload; see the event package for the
// per-action wire shapes.
type Event struct {
	EventID   string    `json:"event_id"`
	Type      EventType `json:"event"`
	Exchange  string    `json:"exchange"`
	Node      Node      `json:"node"`
	Instance  string    `json:"instance"`
	Algo      string    `json:"algo"`
	Action    Action    `json:"action"`
	Message   string    `json:"message,omitempty"`
	Timestamp int64     `json:"timestamp"`
	Data      any       `json:"data"`
}

// OrderSide is the direction of an order
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType is the execution style of an order
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderStatus is the normalized lifecycle state of an order.
// partially_filled is a venue-side transient and normalizes to open.
type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusClosed          OrderStatus = "closed"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusExpired         OrderStatus = "expired"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
)

// Terminal reports whether the status ends the order lifecycle
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusClosed, OrderStatusCanceled, OrderStatusExpired, OrderStatusRejected:
		return true
	}
	return false
}

// PriceLevel is one side level of an order book: [price, amount]
type PriceLevel [2]decimal.Decimal

// OrderBook is a depth snapshot for one symbol
type OrderBook struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
}

// AssetBalance is the per-asset breakdown of funds
type AssetBalance struct {
	Free  decimal.Decimal `json:"free"`
	Used  decimal.Decimal `json:"used"`
	Total decimal.Decimal `json:"total"`
}

// Balance is a (possibly partial) account snapshot
type Balance struct {
	Assets    map[string]AssetBalance `json:"assets"`
	Timestamp int64                   `json:"timestamp"`
}

// Order is the normalized view of an exchange order
type Order struct {
	ID            string          `json:"id"`
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Type          OrderType       `json:"type"`
	Side          OrderSide       `json:"side"`
	Status        OrderStatus     `json:"status"`
	Price         decimal.Decimal `json:"price"`
	Amount        decimal.Decimal `json:"amount"`
	Filled        decimal.Decimal `json:"filled"`
	Timestamp     int64           `json:"timestamp"`
}

// CreateOrderParams carries everything needed to place one order
type CreateOrderParams struct {
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Type          OrderType       `json:"type"`
	Side          OrderSide       `json:"side"`
	Price         decimal.Decimal `json:"price"`
	Amount        decimal.Decimal `json:"amount"`
}

// OrderRef identifies an existing order for cancel and status lookups.
// ID is the exchange-assigned id and may be empty on inbound commands;
// the correlator resolves it from ClientOrderID.
type OrderRef struct {
	ID            string `json:"id,omitempty"`
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
}

// Credentials authenticates one exchange account
type Credentials struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	Password  string `json:"password,omitempty"`
}

// LatencyPercentiles summarizes a latency window, in microseconds
type LatencyPercentiles struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// MetricsReport is the payload of a metrics event
type MetricsReport struct {
	Latency       LatencyPercentiles `json:"latency"`
	OrderBookRPS  float64            `json:"order_book_rps"`
	PrivateAPIRPS float64            `json:"private_api_rps"`
}
