package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"autotrader/internal/domain"
	"autotrader/internal/util"
)

// Compile-time interface check.
var _ Exchange = (*Alpaca)(nil)

// Alpaca implements Exchange against the Alpaca brokerage API. All calls go
// through a shared token-bucket rate limiter to stay under the API quota.
type Alpaca struct {
	trading      *alpaca.Client
	data         *marketdata.Client
	assetType    domain.AssetType
	allowancePct float64
	limiter      *util.RateLimiter
}

// NewAlpaca creates an Alpaca exchange. baseURL selects live or paper
// trading; assetType is stamped on holdings (PAPER_STOCK for the paper
// endpoint). allowancePct is the fraction of cash granted per trade.
func NewAlpaca(apiKey, apiSecret, baseURL, dataURL string, assetType domain.AssetType, allowancePct float64, ratePerMinute int) *Alpaca {
	dataOpts := marketdata.ClientOpts{APIKey: apiKey, APISecret: apiSecret}
	if dataURL != "" {
		dataOpts.BaseURL = dataURL
	}
	return &Alpaca{
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		data:         marketdata.NewClient(dataOpts),
		assetType:    assetType,
		allowancePct: allowancePct,
		limiter:      util.NewRateLimiter(ratePerMinute),
	}
}

// Name returns "alpaca".
func (e *Alpaca) Name() string { return "alpaca" }

// Cash returns the account's cash balance.
func (e *Alpaca) Cash(ctx context.Context) (float64, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	acct, err := e.trading.GetAccount()
	if err != nil {
		return 0, fmt.Errorf("getting account: %w", err)
	}
	return acct.Cash.InexactFloat64(), nil
}

// Holdings returns the current positions as assets.
func (e *Alpaca) Holdings(ctx context.Context) ([]domain.Asset, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	positions, err := e.trading.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("getting positions: %w", err)
	}

	holdings := make([]domain.Asset, 0, len(positions))
	for _, p := range positions {
		a := domain.NewAsset(p.Symbol, e.assetType)
		a.Qty = p.Qty.InexactFloat64()
		if p.MarketValue != nil {
			a.Value = p.MarketValue.InexactFloat64()
		}
		holdings = append(holdings, *a)
	}
	return holdings, nil
}

// Fulfill submits a market order with the order's asset ID as the client
// order ID, making resubmission after a crash detectable by the brokerage.
func (e *Alpaca) Fulfill(ctx context.Context, order *domain.Order) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}

	side := alpaca.Buy
	if order.Side == domain.OrderSideSell {
		side = alpaca.Sell
	}
	qty := decimal.NewFromFloat(order.Asset.Qty)

	_, err := e.trading.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:        order.Asset.Name,
		Qty:           &qty,
		Side:          side,
		Type:          alpaca.Market,
		TimeInForce:   alpaca.Day,
		ClientOrderID: strconv.FormatInt(order.Asset.ID, 10),
	})
	if err != nil {
		return fmt.Errorf("placing %s order for %s: %w", order.Side, order.Asset.Name, err)
	}
	return nil
}

// OrderStatus maps the brokerage order state onto the domain status and
// reports the quantity filled so far.
func (e *Alpaca) OrderStatus(ctx context.Context, orderID int64) (domain.OrderStatus, float64, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return domain.OrderStatusInit, 0, err
	}
	o, err := e.trading.GetOrderByClientOrderID(strconv.FormatInt(orderID, 10))
	if isNotFound(err) {
		return domain.OrderStatusInit, 0, ErrOrderNotFound
	}
	if err != nil {
		return domain.OrderStatusInit, 0, fmt.Errorf("getting order %d: %w", orderID, err)
	}
	return statusFromAlpaca(string(o.Status)), o.FilledQty.InexactFloat64(), nil
}

// isNotFound reports whether err is the brokerage's HTTP 404, which it
// returns as a non-nil *alpaca.APIError rather than a nil order.
func isNotFound(err error) bool {
	var apiErr *alpaca.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Cancel requests cancellation of the order with the given client order ID.
func (e *Alpaca) Cancel(ctx context.Context, orderID int64) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	o, err := e.trading.GetOrderByClientOrderID(strconv.FormatInt(orderID, 10))
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("looking up order %d for cancel: %w", orderID, err)
	}
	if err := e.trading.CancelOrder(o.ID); err != nil {
		return fmt.Errorf("cancelling order %d: %w", orderID, err)
	}
	return nil
}

// LatestPrice returns the most recent trade price for the symbol.
func (e *Alpaca) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	trade, err := e.data.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{})
	if err != nil {
		return 0, fmt.Errorf("getting latest trade for %s: %w", symbol, err)
	}
	return trade.Price, nil
}

// MarketOpen reports whether the market clock is open.
func (e *Alpaca) MarketOpen(ctx context.Context) (bool, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return false, err
	}
	clock, err := e.trading.GetClock()
	if err != nil {
		return false, fmt.Errorf("getting market clock: %w", err)
	}
	return clock.IsOpen, nil
}

// Allowance grants a fixed fraction of available cash to a single trade.
func (e *Alpaca) Allowance(ctx context.Context) (float64, error) {
	cash, err := e.Cash(ctx)
	if err != nil {
		return -1, err
	}
	allowance := decimal.NewFromFloat(cash).Mul(decimal.NewFromFloat(e.allowancePct))
	return allowance.InexactFloat64(), nil
}

// Quantity sizes the order from its allowance (BUY) or the held position
// (SELL). Share counts are whole for stock assets.
func (e *Alpaca) Quantity(ctx context.Context, order *domain.Order) (float64, error) {
	if order.Side == domain.OrderSideSell {
		if err := e.limiter.Wait(ctx); err != nil {
			return -1, err
		}
		p, err := e.trading.GetPosition(order.Asset.Name)
		if err != nil {
			return -1, fmt.Errorf("getting position for %s: %w", order.Asset.Name, err)
		}
		return p.Qty.InexactFloat64(), nil
	}

	price, err := e.LatestPrice(ctx, order.Asset.Name)
	if err != nil {
		return -1, err
	}
	if price <= 0 {
		return -1, fmt.Errorf("non-positive price %f for %s", price, order.Asset.Name)
	}
	qty := decimal.NewFromFloat(order.Asset.Value).
		Div(decimal.NewFromFloat(price)).
		Floor()
	return qty.InexactFloat64(), nil
}

// statusFromAlpaca maps brokerage order states onto the domain status enum.
func statusFromAlpaca(s string) domain.OrderStatus {
	switch s {
	case "filled":
		return domain.OrderStatusFilled
	case "canceled", "done_for_day":
		return domain.OrderStatusCancelled
	case "rejected", "expired":
		return domain.OrderStatusRejected
	case "new", "accepted", "pending_new", "partially_filled", "accepted_for_bidding":
		return domain.OrderStatusAccepted
	default:
		return domain.OrderStatusProcessing
	}
}
