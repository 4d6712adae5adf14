// Package domain defines the core data types shared across the trading
// system: assets, orders, and the enumerations that describe their lifecycle.
package domain

import "time"

// AssetType identifies what kind of instrument an asset is, which also
// determines the exchange it is routed to.
type AssetType string

const (
	AssetTypeUnknown     AssetType = "UNKNOWN"
	AssetTypeStock       AssetType = "STOCK"
	AssetTypeCrypto      AssetType = "CRYPTO"
	AssetTypeFund        AssetType = "FUND"
	AssetTypePaperStock  AssetType = "PAPER_STOCK"
	AssetTypePaperCrypto AssetType = "PAPER_CRYPTO"
)

// TradeIntent describes the horizon a trade is held on. It is informational:
// threshold and window lookups key off it, the order state machine does not.
type TradeIntent string

const (
	TradeIntentUnknown    TradeIntent = "UNKNOWN"
	TradeIntentShortTrade TradeIntent = "SHORT_TRADE"
	TradeIntentLongTrade  TradeIntent = "LONG_TRADE"
	TradeIntentLongHold   TradeIntent = "LONG_HOLD"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderStatus tracks an order through its lifecycle. FILLED, CANCELLED, and
// REJECTED are terminal: an order never transitions out of them.
type OrderStatus string

const (
	OrderStatusInit       OrderStatus = "INIT"
	OrderStatusQueued     OrderStatus = "QUEUED"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusFilled     OrderStatus = "FILLED"
	OrderStatusFailed     OrderStatus = "FAILED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusRejected   OrderStatus = "REJECTED"
	OrderStatusAccepted   OrderStatus = "ACCEPTED"
)

// Terminal reports whether the status is final.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

// ManagerState is the lifecycle state of a manager, exchanged over the bus
// during the startup readiness handshake.
type ManagerState string

const (
	ManagerStateUnknown  ManagerState = "UNKNOWN"
	ManagerStateInit     ManagerState = "INIT"
	ManagerStateStarting ManagerState = "STARTING"
	ManagerStateReady    ManagerState = "READY"
	ManagerStateRunning  ManagerState = "RUNNING"
	ManagerStateError    ManagerState = "ERROR"
	ManagerStateStopped  ManagerState = "STOPPED"
)

// Ready reports whether a peer in this state can accept requests.
func (s ManagerState) Ready() bool {
	return s == ManagerStateReady || s == ManagerStateRunning
}

// Asset is a tradable instrument together with the quantity and value
// currently associated with an in-flight or owned position. ID is 0 until an
// order is admitted for the asset; afterwards it is unique across the open
// and historical trade stores.
type Asset struct {
	Name        string
	Type        AssetType
	Qty         float64
	Value       float64
	TradeIntent TradeIntent
	ID          int64
	LastUpdated time.Time
}

// NewAsset creates an Asset with no position and an unassigned order ID.
func NewAsset(name string, assetType AssetType) *Asset {
	return &Asset{
		Name:        name,
		Type:        assetType,
		TradeIntent: TradeIntentUnknown,
		LastUpdated: time.Now(),
	}
}

// Order is a request to buy or sell an asset. It is created by the decision
// manager and mutated exclusively by the fulfillment manager; Status and the
// embedded asset's Qty/LastUpdated are the only mutable fields.
type Order struct {
	Side   OrderSide
	Asset  Asset
	Status OrderStatus
}

// NewOrder creates an Order in the INIT state.
func NewOrder(side OrderSide, asset Asset) *Order {
	return &Order{Side: side, Asset: asset, Status: OrderStatusInit}
}
