// Package exchange abstracts brokerage operations for order fulfillment,
// account sizing, and order-status lookups, with implementations for the
// Alpaca API and an in-memory paper exchange.
package exchange

import (
	"context"
	"errors"

	"autotrader/internal/domain"
)

// ErrOrderNotFound is returned when the brokerage has no order for the given
// client order ID.
var ErrOrderNotFound = errors.New("order not found on exchange")

// Exchange is the brokerage surface the fulfillment manager depends on. All
// calls are expected to be invoked with a bounded per-call context so a slow
// brokerage cannot stall a dispatch tick indefinitely.
type Exchange interface {
	// Name returns the exchange identifier (e.g. "alpaca", "paper").
	Name() string

	// Cash returns the available cash balance.
	Cash(ctx context.Context) (float64, error)

	// Holdings returns the assets currently held.
	Holdings(ctx context.Context) ([]domain.Asset, error)

	// Fulfill submits the order using its asset ID as the idempotent client
	// order ID. It does not wait for a fill.
	Fulfill(ctx context.Context, order *domain.Order) error

	// OrderStatus returns the authoritative status of the order with the
	// given client order ID, plus the quantity filled so far.
	OrderStatus(ctx context.Context, orderID int64) (domain.OrderStatus, float64, error)

	// Cancel requests cancellation of the order with the given client order
	// ID. Best effort: cancelling an already-final order is not an error.
	Cancel(ctx context.Context, orderID int64) error

	// LatestPrice returns the most recent trade price for the symbol.
	LatestPrice(ctx context.Context, symbol string) (float64, error)

	// MarketOpen reports whether the market is currently open.
	MarketOpen(ctx context.Context) (bool, error)

	// Allowance returns the capital granted to a single proposed trade.
	Allowance(ctx context.Context) (float64, error)

	// Quantity sizes the order: for a BUY, the number of shares the order's
	// allowance (Asset.Value) affords at the latest price; for a SELL, the
	// quantity currently held.
	Quantity(ctx context.Context, order *domain.Order) (float64, error)
}
