package domain

import (
	"testing"
	"time"
)

func TestTerminalStatuses(t *testing.T) {
	terminal := []OrderStatus{OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}

	open := []OrderStatus{
		OrderStatusInit, OrderStatusQueued, OrderStatusProcessing,
		OrderStatusAccepted, OrderStatusFailed,
	}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}

func TestManagerStateReady(t *testing.T) {
	if !ManagerStateReady.Ready() || !ManagerStateRunning.Ready() {
		t.Error("READY and RUNNING should both report ready")
	}
	for _, s := range []ManagerState{ManagerStateUnknown, ManagerStateInit, ManagerStateStarting, ManagerStateError, ManagerStateStopped} {
		if s.Ready() {
			t.Errorf("%s.Ready() = true, want false", s)
		}
	}
}

func TestNewAsset(t *testing.T) {
	a := NewAsset("TSLA", AssetTypePaperStock)
	if a.Name != "TSLA" {
		t.Errorf("Name = %q, want %q", a.Name, "TSLA")
	}
	if a.Type != AssetTypePaperStock {
		t.Errorf("Type = %q, want %q", a.Type, AssetTypePaperStock)
	}
	if a.ID != 0 {
		t.Errorf("ID = %d, want 0 before an order is admitted", a.ID)
	}
	if a.TradeIntent != TradeIntentUnknown {
		t.Errorf("TradeIntent = %q, want %q", a.TradeIntent, TradeIntentUnknown)
	}
	if a.LastUpdated.IsZero() {
		t.Error("LastUpdated should be stamped at creation")
	}
}

func TestNewOrder(t *testing.T) {
	a := NewAsset("AAPL", AssetTypeStock)
	a.LastUpdated = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	o := NewOrder(OrderSideBuy, *a)
	if o.Status != OrderStatusInit {
		t.Errorf("Status = %q, want %q", o.Status, OrderStatusInit)
	}
	if o.Side != OrderSideBuy {
		t.Errorf("Side = %q, want %q", o.Side, OrderSideBuy)
	}
	if o.Asset.Name != "AAPL" {
		t.Errorf("Asset.Name = %q, want %q", o.Asset.Name, "AAPL")
	}

	// The order owns a copy of the asset; mutating the original must not
	// leak into the order.
	a.Qty = 42
	if o.Asset.Qty != 0 {
		t.Errorf("Asset.Qty = %f, want 0 after mutating the source asset", o.Asset.Qty)
	}
}
