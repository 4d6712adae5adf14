// Package store defines the persistence contracts for open trades,
// historical trades, and buy/sell thresholds, with a SQLite implementation
// and a Parquet archive exporter.
package store

import (
	"context"
	"time"

	"autotrader/internal/domain"
)

// OpenTrade is the persisted view of a not-yet-finalized order, used for
// crash recovery. It is keyed by OrderID.
type OpenTrade struct {
	Name        string
	AssetType   domain.AssetType
	Side        domain.OrderSide
	TradeIntent domain.TradeIntent
	Qty         float64
	OrderID     int64
	LastUpdated time.Time
}

// OpenTradeFromOrder denormalizes an order into its open-trade row.
func OpenTradeFromOrder(o *domain.Order) OpenTrade {
	return OpenTrade{
		Name:        o.Asset.Name,
		AssetType:   o.Asset.Type,
		Side:        o.Side,
		TradeIntent: o.Asset.TradeIntent,
		Qty:         o.Asset.Qty,
		OrderID:     o.Asset.ID,
		LastUpdated: o.Asset.LastUpdated,
	}
}

// Order reconstructs an in-memory order from the row. Status is left at INIT:
// the fulfillment manager derives the authoritative status from the exchange
// during recovery.
func (t OpenTrade) Order() *domain.Order {
	o := domain.NewOrder(t.Side, domain.Asset{
		Name:        t.Name,
		Type:        t.AssetType,
		Qty:         t.Qty,
		TradeIntent: t.TradeIntent,
		ID:          t.OrderID,
		LastUpdated: t.LastUpdated,
	})
	return o
}

// Trade is the persisted view of a finalized order, keyed by OrderID.
type Trade struct {
	Name      string
	Side      domain.OrderSide
	Qty       float64
	OrderID   int64
	Timestamp time.Time
	AssetType domain.AssetType
}

// TradeFromOrder denormalizes an order into its historical-trade row.
func TradeFromOrder(o *domain.Order) Trade {
	return Trade{
		Name:      o.Asset.Name,
		Side:      o.Side,
		Qty:       o.Asset.Qty,
		OrderID:   o.Asset.ID,
		Timestamp: o.Asset.LastUpdated,
		AssetType: o.Asset.Type,
	}
}

// Threshold is a per-asset pair of confidence bounds that gate buy and sell
// decisions.
type Threshold struct {
	Name        string
	Buy         float64
	Sell        float64
	LastUpdated time.Time
}

// OpenTradeStore persists not-yet-finalized orders.
type OpenTradeStore interface {
	// GetByID retrieves a single open trade by order ID, or nil if absent.
	GetByID(ctx context.Context, orderID int64) (*OpenTrade, error)

	// GetAll returns every open trade.
	GetAll(ctx context.Context) ([]OpenTrade, error)

	// Upsert inserts or replaces the row keyed by OrderID.
	Upsert(ctx context.Context, row OpenTrade) error

	// Delete removes the row keyed by orderID. Deleting an absent row is not
	// an error.
	Delete(ctx context.Context, orderID int64) error

	// Exists reports whether a row with the given order ID is present.
	Exists(ctx context.Context, orderID int64) (bool, error)
}

// TradeStore persists finalized (historical) orders.
type TradeStore interface {
	// GetByID retrieves a single trade by order ID, or nil if absent.
	GetByID(ctx context.Context, orderID int64) (*Trade, error)

	// GetAll returns every historical trade.
	GetAll(ctx context.Context) ([]Trade, error)

	// GetAllBySide returns the historical trades for one side.
	GetAllBySide(ctx context.Context, side domain.OrderSide) ([]Trade, error)

	// Upsert inserts or replaces the row keyed by OrderID. Committing the
	// same order twice must leave exactly one row.
	Upsert(ctx context.Context, row Trade) error

	// Delete removes the row keyed by orderID.
	Delete(ctx context.Context, orderID int64) error

	// Exists reports whether a row with the given order ID is present.
	Exists(ctx context.Context, orderID int64) (bool, error)
}

// ThresholdStore persists per-asset buy/sell confidence thresholds.
type ThresholdStore interface {
	// Get returns the thresholds for the named asset, creating the row with
	// the configured defaults on first miss.
	Get(ctx context.Context, name string) (buy, sell float64, err error)

	// Put inserts or replaces a threshold row.
	Put(ctx context.Context, row Threshold) error

	// GetAll returns every threshold row.
	GetAll(ctx context.Context) ([]Threshold, error)
}
