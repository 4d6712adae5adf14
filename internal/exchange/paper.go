package exchange

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"autotrader/internal/domain"
)

// Compile-time interface check.
var _ Exchange = (*Paper)(nil)

// Paper implements Exchange entirely in memory for paper trading and tests.
// Orders are accepted immediately and may be driven to any status via
// SetOrderStatus, so tests can simulate fills, rejections, and crashes.
type Paper struct {
	allowancePct float64

	mu        sync.Mutex
	cash      float64
	prices    map[string]float64
	positions map[string]float64
	orders    map[int64]*paperOrder
	open      bool
}

type paperOrder struct {
	symbol    string
	side      domain.OrderSide
	qty       float64
	status    domain.OrderStatus
	filledQty float64
	submitted int // resubmissions are counted, visible to tests
}

// NewPaper creates a paper exchange with the given starting cash. The market
// starts open and every symbol defaults to a price of 100.
func NewPaper(cash float64, allowancePct float64) *Paper {
	return &Paper{
		allowancePct: allowancePct,
		cash:         cash,
		prices:       make(map[string]float64),
		positions:    make(map[string]float64),
		orders:       make(map[int64]*paperOrder),
		open:         true,
	}
}

// Name returns "paper".
func (e *Paper) Name() string { return "paper" }

// Cash returns the simulated cash balance.
func (e *Paper) Cash(_ context.Context) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cash, nil
}

// Holdings returns the simulated positions as assets.
func (e *Paper) Holdings(_ context.Context) ([]domain.Asset, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	holdings := make([]domain.Asset, 0, len(e.positions))
	for symbol, qty := range e.positions {
		a := domain.Asset{
			Name:        symbol,
			Type:        domain.AssetTypePaperStock,
			Qty:         qty,
			Value:       qty * e.price(symbol),
			LastUpdated: time.Now(),
		}
		holdings = append(holdings, a)
	}
	return holdings, nil
}

// Fulfill records the order as accepted. Fills are driven explicitly through
// SetOrderStatus or FillOrder.
func (e *Paper) Fulfill(_ context.Context, order *domain.Order) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.orders[order.Asset.ID]; ok {
		existing.submitted++
		return nil
	}
	e.orders[order.Asset.ID] = &paperOrder{
		symbol:    order.Asset.Name,
		side:      order.Side,
		qty:       order.Asset.Qty,
		status:    domain.OrderStatusAccepted,
		submitted: 1,
	}
	return nil
}

// OrderStatus returns the simulated status and filled quantity.
func (e *Paper) OrderStatus(_ context.Context, orderID int64) (domain.OrderStatus, float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[orderID]
	if !ok {
		return domain.OrderStatusInit, 0, fmt.Errorf("order %d: %w", orderID, ErrOrderNotFound)
	}
	return o.status, o.filledQty, nil
}

// Cancel marks a non-final order as cancelled.
func (e *Paper) Cancel(_ context.Context, orderID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if o, ok := e.orders[orderID]; ok && !o.status.Terminal() {
		o.status = domain.OrderStatusCancelled
	}
	return nil
}

// LatestPrice returns the configured price for the symbol (default 100).
func (e *Paper) LatestPrice(_ context.Context, symbol string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.price(symbol), nil
}

// MarketOpen reports the simulated market clock.
func (e *Paper) MarketOpen(_ context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open, nil
}

// Allowance grants a fixed fraction of the simulated cash.
func (e *Paper) Allowance(_ context.Context) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cash * e.allowancePct, nil
}

// Quantity sizes from the order's allowance (BUY) or the held position
// (SELL).
func (e *Paper) Quantity(_ context.Context, order *domain.Order) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if order.Side == domain.OrderSideSell {
		return e.positions[order.Asset.Name], nil
	}
	price := e.price(order.Asset.Name)
	return math.Floor(order.Asset.Value / price), nil
}

func (e *Paper) price(symbol string) float64 {
	if p, ok := e.prices[symbol]; ok {
		return p
	}
	return 100
}

// ---------------------------------------------------------------------------
// Simulation controls
// ---------------------------------------------------------------------------

// SetPrice fixes the latest price for a symbol.
func (e *Paper) SetPrice(symbol string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[symbol] = price
}

// SetPosition fixes the held quantity for a symbol.
func (e *Paper) SetPosition(symbol string, qty float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positions[symbol] = qty
}

// SetMarketOpen toggles the simulated market clock.
func (e *Paper) SetMarketOpen(open bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.open = open
}

// SetOrderStatus forces the status of an order, registering it first if the
// exchange has not seen it (crash-recovery scenarios).
func (e *Paper) SetOrderStatus(orderID int64, status domain.OrderStatus, filledQty float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[orderID]
	if !ok {
		o = &paperOrder{status: status}
		e.orders[orderID] = o
	}
	o.status = status
	o.filledQty = filledQty
}

// FillOrder marks an order filled for its full quantity and applies the
// position and cash effects.
func (e *Paper) FillOrder(orderID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[orderID]
	if !ok {
		return
	}
	o.status = domain.OrderStatusFilled
	o.filledQty = o.qty

	notional := o.qty * e.price(o.symbol)
	if o.side == domain.OrderSideBuy {
		e.positions[o.symbol] += o.qty
		e.cash -= notional
	} else {
		e.positions[o.symbol] -= o.qty
		e.cash += notional
	}
}

// Submissions returns how many times the order has been submitted, counting
// resubmissions from the reorder path.
func (e *Paper) Submissions(orderID int64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if o, ok := e.orders[orderID]; ok {
		return o.submitted
	}
	return 0
}
