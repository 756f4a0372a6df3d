/*
Package commerce defines the consumed Commerce Service: the external
order/inventory system that owns the catalog, stock and order
lifecycle. The engine talks to it exclusively through the Service
interface and references its records by opaque identifier only.

The production implementation (Client) speaks the shop backend's admin
HTTP API. Tests use scripted fakes.
*/
package commerce

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/toreca/gacha-engine/core"
)

// =============================================================================
// LINEUP - Current weighted catalog for one gacha
// =============================================================================

// LineupCard is one drawable card. Stock is the remaining physical
// units and doubles as the card's draw weight.
type LineupCard struct {
	CardID       string
	Title        string
	Image        string
	VariantRef   string // order line item target
	InventoryRef string // inventory item to adjust
	LocationRef  string // stock location of the unit
	Stock        int    // strictly positive in a returned lineup
}

// Lineup is the current draw catalog for a gacha collection.
type Lineup struct {
	GachaID    string
	Cost       core.Points // point cost per single draw
	DailyLimit *int        // per-customer draws per day; nil = unlimited
	Cards      []LineupCard
}

// TotalStock returns the number of draws the lineup can still serve.
func (l *Lineup) TotalStock() int {
	total := 0
	for _, c := range l.Cards {
		total += c.Stock
	}
	return total
}

// =============================================================================
// ORDERS
// =============================================================================

// LineItem is one order line referencing a card variant.
type LineItem struct {
	VariantRef string
	Quantity   int
}

// Order is the external system's view of a completed order. Total is
// money, not points, so it stays decimal.
type Order struct {
	ID     string
	Name   string
	Status string
	Total  decimal.Decimal
}

// =============================================================================
// SERVICE - Consumed interface
// =============================================================================

// Service is the abstract commerce backend. All calls carry a bounded
// timeout through ctx; implementations must never retain global mutable
// client state.
type Service interface {
	// FetchLineup returns the current weighted catalog for a gacha.
	// Only cards with strictly positive stock are included. Any failure
	// (network, not found, malformed catalog) is reported as
	// core.ErrCatalogUnavailable.
	FetchLineup(ctx context.Context, gachaID string) (*Lineup, error)

	// CreateOrder creates an order for the customer. The idempotency
	// key makes retries safe: the same key never creates a second order.
	CreateOrder(ctx context.Context, customerID core.CustomerID, items []LineItem, idempotencyKey string) (string, error)

	// CompleteOrder resolves an order to a terminal state usable for
	// bookkeeping. In this deployment completion also decrements stock.
	CompleteOrder(ctx context.Context, orderID string) (*Order, error)

	// CancelOrder voids an order.
	CancelOrder(ctx context.Context, orderID string) error

	// AdjustInventory changes available stock for an inventory item at
	// a location by delta.
	AdjustInventory(ctx context.Context, inventoryRef, locationRef string, delta int) error

	// RewardPointValue returns the reward points paid out for drawing
	// the card, 0 if the card carries no payout.
	RewardPointValue(ctx context.Context, cardID string) (core.Points, error)
}
