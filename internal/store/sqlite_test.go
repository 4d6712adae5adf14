package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"autotrader/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "trades.db"), 1.0, -1.0, slog.Default())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleOrder() *domain.Order {
	o := domain.NewOrder(domain.OrderSideBuy, domain.Asset{
		Name:        "TSLA",
		Type:        domain.AssetTypePaperStock,
		Qty:         3,
		TradeIntent: domain.TradeIntentShortTrade,
		ID:          154321,
		LastUpdated: time.Date(2024, 5, 20, 14, 30, 0, 0, time.UTC),
	})
	o.Status = domain.OrderStatusProcessing
	return o
}

func TestOpenTradeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	order := sampleOrder()
	if err := s.Upsert(ctx, OpenTradeFromOrder(order)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.GetByID(ctx, order.Asset.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got == nil {
		t.Fatal("GetByID returned nil for existing row")
	}

	rebuilt := got.Order()
	if rebuilt.Asset.Name != "TSLA" {
		t.Errorf("Name = %q, want TSLA", rebuilt.Asset.Name)
	}
	if rebuilt.Asset.Qty != 3 {
		t.Errorf("Qty = %f, want 3", rebuilt.Asset.Qty)
	}
	if rebuilt.Asset.TradeIntent != domain.TradeIntentShortTrade {
		t.Errorf("TradeIntent = %q, want SHORT_TRADE", rebuilt.Asset.TradeIntent)
	}
	if rebuilt.Asset.ID != 154321 {
		t.Errorf("ID = %d, want 154321", rebuilt.Asset.ID)
	}
	if !rebuilt.Asset.LastUpdated.Equal(order.Asset.LastUpdated) {
		t.Errorf("LastUpdated = %v, want %v", rebuilt.Asset.LastUpdated, order.Asset.LastUpdated)
	}
	if rebuilt.Side != domain.OrderSideBuy {
		t.Errorf("Side = %q, want BUY", rebuilt.Side)
	}
}

func TestOpenTradeExistsAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	order := sampleOrder()
	if err := s.Upsert(ctx, OpenTradeFromOrder(order)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	ok, err := s.Exists(ctx, order.Asset.ID)
	if err != nil || !ok {
		t.Fatalf("Exists = (%v, %v), want (true, nil)", ok, err)
	}

	if err := s.Delete(ctx, order.Asset.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	ok, err = s.Exists(ctx, order.Asset.ID)
	if err != nil || ok {
		t.Fatalf("Exists after delete = (%v, %v), want (false, nil)", ok, err)
	}

	// Deleting an absent row is not an error.
	if err := s.Delete(ctx, order.Asset.ID); err != nil {
		t.Fatalf("Delete of absent row: %v", err)
	}

	got, err := s.GetByID(ctx, order.Asset.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got != nil {
		t.Error("GetByID should return nil after delete")
	}
}

func TestTradeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	trades := s.Trades()

	order := sampleOrder()
	if err := trades.Upsert(ctx, TradeFromOrder(order)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := trades.GetByID(ctx, order.Asset.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got == nil {
		t.Fatal("GetByID returned nil for existing row")
	}
	if got.Name != "TSLA" || got.Side != domain.OrderSideBuy || got.Qty != 3 {
		t.Errorf("row = %+v", got)
	}
	if !got.Timestamp.Equal(order.Asset.LastUpdated) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, order.Asset.LastUpdated)
	}
	if got.AssetType != domain.AssetTypePaperStock {
		t.Errorf("AssetType = %q, want PAPER_STOCK", got.AssetType)
	}
}

func TestIdempotentFinalize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	trades := s.Trades()

	row := TradeFromOrder(sampleOrder())
	// Simulate crash-replay: commit the same order id twice.
	if err := trades.Upsert(ctx, row); err != nil {
		t.Fatalf("first Upsert: %v", err)
	}
	if err := trades.Upsert(ctx, row); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	all, err := trades.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("len(trades) = %d after replayed commit, want 1", len(all))
	}
}

func TestTradesBySide(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	trades := s.Trades()

	buy := TradeFromOrder(sampleOrder())
	sell := buy
	sell.OrderID = 254322
	sell.Side = domain.OrderSideSell

	if err := trades.Upsert(ctx, buy); err != nil {
		t.Fatalf("Upsert buy: %v", err)
	}
	if err := trades.Upsert(ctx, sell); err != nil {
		t.Fatalf("Upsert sell: %v", err)
	}

	buys, err := trades.GetAllBySide(ctx, domain.OrderSideBuy)
	if err != nil {
		t.Fatalf("GetAllBySide: %v", err)
	}
	if len(buys) != 1 || buys[0].OrderID != buy.OrderID {
		t.Errorf("buys = %+v, want the single BUY row", buys)
	}

	sells, err := trades.GetAllBySide(ctx, domain.OrderSideSell)
	if err != nil {
		t.Fatalf("GetAllBySide: %v", err)
	}
	if len(sells) != 1 || sells[0].OrderID != sell.OrderID {
		t.Errorf("sells = %+v, want the single SELL row", sells)
	}
}

func TestThresholdDefaultCreation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	thresholds := s.Thresholds()

	buy, sell, err := thresholds.Get(ctx, "NVDA")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if buy != 1.0 || sell != -1.0 {
		t.Errorf("first-miss thresholds = (%f, %f), want defaults (1.0, -1.0)", buy, sell)
	}

	// The miss must have created a persistent row.
	all, err := thresholds.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 1 || all[0].Name != "NVDA" {
		t.Fatalf("thresholds = %+v, want one NVDA row", all)
	}

	// Explicit values survive subsequent lookups.
	if err := thresholds.Put(ctx, Threshold{Name: "NVDA", Buy: 0.8, Sell: -0.5, LastUpdated: time.Now()}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	buy, sell, err = thresholds.Get(ctx, "NVDA")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if buy != 0.8 || sell != -0.5 {
		t.Errorf("thresholds = (%f, %f), want (0.8, -0.5)", buy, sell)
	}
}

func TestExportTrades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	trades := s.Trades()

	row := TradeFromOrder(sampleOrder())
	if err := trades.Upsert(ctx, row); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	dir := t.TempDir()
	path, err := ExportTrades(ctx, trades, dir)
	if err != nil {
		t.Fatalf("ExportTrades: %v", err)
	}

	records, err := ReadArchive(path)
	if err != nil {
		t.Fatalf("ReadArchive: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}
	r := records[0]
	if r.Name != "TSLA" || r.Side != "BUY" || r.OrderID != 154321 {
		t.Errorf("record = %+v", r)
	}
	if r.Timestamp != row.Timestamp.UnixMilli() {
		t.Errorf("Timestamp = %d, want %d", r.Timestamp, row.Timestamp.UnixMilli())
	}
}
