// Package correlator maintains the id mappings between the trading core and
// the exchange, plus the set of orders the gate believes are still live.
package correlator

import (
	"context"
	"fmt"

	"flashgate/internal/core"
)

// Key prefixes namespace the three mappings inside one shared store.
const (
	prefixOrderID = "order_id:"  // client_order_id → exchange order id
	prefixClient  = "client_id:" // exchange order id → client_order_id
	prefixEvent   = "event_id:"  // client_order_id → originating event id
)

// Correlator keeps the bidirectional client/exchange order id mapping and the
// originating event id per client order. Absent keys are reported as such,
// never invented; the dispatcher turns them into error events.
type Correlator struct {
	store core.IStore
}

// New wraps the given store
func New(store core.IStore) *Correlator {
	return &Correlator{store: store}
}

// Bind records all three mappings for a successfully created order. The
// writes share one call so a partial binding cannot be observed through the
// correlator's own API.
func (c *Correlator) Bind(ctx context.Context, clientOrderID, orderID, eventID string) error {
	if clientOrderID == "" || orderID == "" {
		return fmt.Errorf("bind requires both ids, got client=%q order=%q", clientOrderID, orderID)
	}
	if err := c.store.Set(ctx, prefixOrderID+clientOrderID, orderID); err != nil {
		return fmt.Errorf("bind order id: %w", err)
	}
	if err := c.store.Set(ctx, prefixClient+orderID, clientOrderID); err != nil {
		return fmt.Errorf("bind client id: %w", err)
	}
	if err := c.store.Set(ctx, prefixEvent+clientOrderID, eventID); err != nil {
		return fmt.Errorf("bind event id: %w", err)
	}
	return nil
}

// OrderID resolves the exchange order id for a client order id
func (c *Correlator) OrderID(ctx context.Context, clientOrderID string) (string, bool, error) {
	return c.store.Get(ctx, prefixOrderID+clientOrderID)
}

// ClientOrderID resolves the client order id for an exchange order id
func (c *Correlator) ClientOrderID(ctx context.Context, orderID string) (string, bool, error) {
	return c.store.Get(ctx, prefixClient+orderID)
}

// EventID resolves the originating event id for a client order id. Unsolicited
// order updates reuse it so the core can correlate them with the create.
func (c *Correlator) EventID(ctx context.Context, clientOrderID string) (string, bool, error) {
	return c.store.Get(ctx, prefixEvent+clientOrderID)
}
