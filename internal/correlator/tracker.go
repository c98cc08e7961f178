package correlator

import (
	"sync"
)

// OpenOrder is one live order as the gate sees it
type OpenOrder struct {
	ClientOrderID string
	Symbol        string
}

// Tracker is the open set: the (client_order_id, symbol) pairs between a
// successful create and the first observed terminal status. Removal is
// one-way; a late non-terminal update never resurrects membership.
type Tracker struct {
	mu   sync.Mutex
	open map[OpenOrder]struct{}
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{open: make(map[OpenOrder]struct{})}
}

// Add inserts the pair. Re-adding an existing pair is a no-op.
func (t *Tracker) Add(clientOrderID, symbol string) {
	t.mu.Lock()
	t.open[OpenOrder{ClientOrderID: clientOrderID, Symbol: symbol}] = struct{}{}
	t.mu.Unlock()
}

// Remove drops the pair if present and reports whether it was
func (t *Tracker) Remove(clientOrderID, symbol string) bool {
	key := OpenOrder{ClientOrderID: clientOrderID, Symbol: symbol}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.open[key]; !ok {
		return false
	}
	delete(t.open, key)
	return true
}

// Contains reports membership
func (t *Tracker) Contains(clientOrderID, symbol string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.open[OpenOrder{ClientOrderID: clientOrderID, Symbol: symbol}]
	return ok
}

// Snapshot returns a copy of the open set for iteration. The orders loop
// polls against the copy so removals during the sweep cannot skip entries.
func (t *Tracker) Snapshot() []OpenOrder {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]OpenOrder, 0, len(t.open))
	for pair := range t.open {
		out = append(out, pair)
	}
	return out
}

// Size reports how many orders are currently believed live
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}
