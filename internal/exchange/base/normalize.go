// Package base provides payload normalization shared by venue adapters
package base

import (
	"time"

	"flashgate/internal/core"
)

// MicrosFromSeconds converts a venue timestamp in seconds to microseconds
func MicrosFromSeconds(sec int64) int64 {
	return sec * 1_000_000
}

// MicrosFromMillis converts a venue timestamp in milliseconds to microseconds
func MicrosFromMillis(ms int64) int64 {
	return ms * 1_000
}

// NowMicros is the gateway clock: microseconds since the Unix epoch
func NowMicros() int64 {
	return time.Now().UnixMicro()
}

// NormalizeStatus maps venue order states onto the canonical lifecycle.
// Partial fills stay open; unknown states pass through verbatim.
func NormalizeStatus(raw string) core.OrderStatus {
	switch raw {
	case "open", "new", "active":
		return core.OrderStatusOpen
	case "partially_filled", "partial", "partially-filled":
		return core.OrderStatusOpen
	case "closed", "filled", "executed", "done":
		return core.OrderStatusClosed
	case "canceled", "cancelled":
		return core.OrderStatusCanceled
	case "expired":
		return core.OrderStatusExpired
	case "rejected":
		return core.OrderStatusRejected
	}
	return core.OrderStatus(raw)
}

// PartialBalance reduces a full account snapshot to the requested assets.
// Assets the venue did not report come back zeroed, so the caller always
// receives exactly the assets it asked for.
func PartialBalance(full core.Balance, assets []string) core.Balance {
	out := core.Balance{
		Assets:    make(map[string]core.AssetBalance, len(assets)),
		Timestamp: full.Timestamp,
	}
	if out.Timestamp == 0 {
		out.Timestamp = NowMicros()
	}
	for _, asset := range assets {
		if b, ok := full.Assets[asset]; ok {
			out.Assets[asset] = b
			continue
		}
		out.Assets[asset] = core.AssetBalance{}
	}
	return out
}

// FilterAssets keeps only the listed assets from a streamed balance update.
// Unlike PartialBalance it does not invent zero rows for absent assets.
func FilterAssets(b core.Balance, assets []string) core.Balance {
	out := core.Balance{
		Assets:    make(map[string]core.AssetBalance, len(assets)),
		Timestamp: b.Timestamp,
	}
	for _, asset := range assets {
		if row, ok := b.Assets[asset]; ok {
			out.Assets[asset] = row
		}
	}
	return out
}

// ClampDepth bounds both book sides to limit levels
func ClampDepth(book core.OrderBook, limit int) core.OrderBook {
	if limit <= 0 {
		return book
	}
	if len(book.Bids) > limit {
		book.Bids = book.Bids[:limit]
	}
	if len(book.Asks) > limit {
		book.Asks = book.Asks[:limit]
	}
	return book
}
