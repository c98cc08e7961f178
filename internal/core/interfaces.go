// Package core defines the domain types and core interfaces of the gateway
package core

import (
	"context"
)

// IDriver defines the interface for exchange drivers. Fetch methods are
// one-shot request/response calls; Watch methods open a stream that delivers
// on the returned channel until ctx is canceled or the driver is closed.
type IDriver interface {
	// Identity
	Name() string

	// Market data
	FetchOrderBook(ctx context.Context, symbol string, limit int) (OrderBook, error)
	FetchOrderBooks(ctx context.Context, symbols []string, limit int) ([]OrderBook, error)
	WatchOrderBook(ctx context.Context, symbol string, limit int) (<-chan OrderBook, error)

	// Account
	FetchPartialBalance(ctx context.Context, assets []string) (Balance, error)
	WatchBalance(ctx context.Context) (<-chan Balance, error)

	// Orders
	FetchOrder(ctx context.Context, ref OrderRef) (Order, error)
	FetchOpenOrders(ctx context.Context, symbol string) ([]Order, error)
	WatchOrders(ctx context.Context) (<-chan Order, error)
	CreateOrder(ctx context.Context, params CreateOrderParams) (Order, error)
	CancelOrder(ctx context.Context, ref OrderRef) error
	CancelAllOrders(ctx context.Context, symbols []string) error

	Close() error
}

// IStore defines the interface for the key-value storage behind the id
// correlator. Get returns found=false for absent keys, never an error.
type IStore interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// IHealthMonitor defines the interface for health monitoring
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
