package fulfill

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"

	"autotrader/internal/domain"
	"autotrader/internal/store"
)

const (
	idRandomSpace = 100000 // five random digits after the side prefix
	idMaxAttempts = 32
)

// Generator produces order IDs that are unique across the open and
// historical trade stores. IDs carry the order side in their leading digit
// ("1" for BUY, "2" for SELL) followed by five random digits; collisions are
// retried a bounded number of times before falling back to a monotonic
// counter in a disjoint range.
type Generator struct {
	openTrades store.OpenTradeStore
	trades     store.TradeStore
	fallback   atomic.Int64
}

// NewGenerator creates a Generator backed by the given stores.
func NewGenerator(openTrades store.OpenTradeStore, trades store.TradeStore) *Generator {
	return &Generator{openTrades: openTrades, trades: trades}
}

func sidePrefix(side domain.OrderSide) int64 {
	if side == domain.OrderSideSell {
		return 2
	}
	return 1
}

// Generate returns an order ID not present in either store. It fails only if
// both the random attempts and the counter fallback are exhausted, which
// requires the ID space itself to be nearly full.
func (g *Generator) Generate(ctx context.Context, side domain.OrderSide) (int64, error) {
	prefix := sidePrefix(side)

	for attempt := 0; attempt < idMaxAttempts; attempt++ {
		id := prefix*idRandomSpace + rand.Int64N(idRandomSpace)
		taken, err := g.exists(ctx, id)
		if err != nil {
			return 0, err
		}
		if !taken {
			return id, nil
		}
	}

	// Counter IDs live one decimal order above the random range so the two
	// can never collide while the leading digit still encodes the side.
	for attempt := 0; attempt < idMaxAttempts; attempt++ {
		id := prefix*idRandomSpace*10 + g.fallback.Add(1)
		taken, err := g.exists(ctx, id)
		if err != nil {
			return 0, err
		}
		if !taken {
			return id, nil
		}
	}

	return 0, fmt.Errorf("generating %s order id: id space exhausted after %d attempts", side, 2*idMaxAttempts)
}

func (g *Generator) exists(ctx context.Context, id int64) (bool, error) {
	open, err := g.openTrades.Exists(ctx, id)
	if err != nil {
		return false, fmt.Errorf("checking open trades for id %d: %w", id, err)
	}
	if open {
		return true, nil
	}
	done, err := g.trades.Exists(ctx, id)
	if err != nil {
		return false, fmt.Errorf("checking trades for id %d: %w", id, err)
	}
	return done, nil
}
