package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"autotrader/internal/domain"
)

// Compile-time interface checks.
var _ OpenTradeStore = (*SQLiteStore)(nil)
var _ TradeStore = tradesView{}
var _ ThresholdStore = thresholdsView{}

// timeLayout is how timestamps are stored in SQLite text columns.
const timeLayout = time.RFC3339Nano

// SQLiteStore implements OpenTradeStore, TradeStore, and ThresholdStore
// backed by a single SQLite database.
type SQLiteStore struct {
	db          *sql.DB
	defaultBuy  float64
	defaultSell float64
	log         *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, runs the
// schema migration, and returns a ready-to-use store. defaultBuy/defaultSell
// seed threshold rows created on first lookup miss.
func NewSQLiteStore(dbPath string, defaultBuy, defaultSell float64, log *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db %s: %w", dbPath, err)
	}
	s := &SQLiteStore{db: db, defaultBuy: defaultBuy, defaultSell: defaultSell, log: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Ping verifies the database is reachable. Used by the startup fatal-config
// checks.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// OpenTrades returns the open-trades table view.
func (s *SQLiteStore) OpenTrades() OpenTradeStore { return s }

// Trades returns the historical-trades table view.
func (s *SQLiteStore) Trades() TradeStore { return tradesView{s} }

// Thresholds returns the buy/sell thresholds table view.
func (s *SQLiteStore) Thresholds() ThresholdStore { return thresholdsView{s} }

// tradesView adapts the trade-table methods to the TradeStore interface.
type tradesView struct{ s *SQLiteStore }

func (v tradesView) GetByID(ctx context.Context, orderID int64) (*Trade, error) {
	return v.s.GetTradeByID(ctx, orderID)
}
func (v tradesView) GetAll(ctx context.Context) ([]Trade, error) {
	return v.s.GetAllTrades(ctx)
}
func (v tradesView) GetAllBySide(ctx context.Context, side domain.OrderSide) ([]Trade, error) {
	return v.s.GetAllTradesBySide(ctx, side)
}
func (v tradesView) Upsert(ctx context.Context, row Trade) error {
	return v.s.UpsertTrade(ctx, row)
}
func (v tradesView) Delete(ctx context.Context, orderID int64) error {
	return v.s.DeleteTrade(ctx, orderID)
}
func (v tradesView) Exists(ctx context.Context, orderID int64) (bool, error) {
	return v.s.TradeExists(ctx, orderID)
}

// thresholdsView adapts the threshold-table methods to the ThresholdStore
// interface.
type thresholdsView struct{ s *SQLiteStore }

func (v thresholdsView) Get(ctx context.Context, name string) (float64, float64, error) {
	return v.s.GetThreshold(ctx, name)
}
func (v thresholdsView) Put(ctx context.Context, row Threshold) error {
	return v.s.PutThreshold(ctx, row)
}
func (v thresholdsView) GetAll(ctx context.Context) ([]Threshold, error) {
	return v.s.GetAllThresholds(ctx)
}

func (s *SQLiteStore) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS open_trades (
	name         TEXT    NOT NULL,
	asset_type   TEXT    NOT NULL,
	order_type   TEXT    NOT NULL,
	trade_intent TEXT    NOT NULL,
	quantity     REAL    NOT NULL,
	order_id     INTEGER NOT NULL PRIMARY KEY,
	last_updated TEXT    NOT NULL
);
CREATE TABLE IF NOT EXISTS trades (
	name       TEXT    NOT NULL,
	order_type TEXT    NOT NULL,
	quantity   REAL    NOT NULL,
	order_id   INTEGER NOT NULL PRIMARY KEY,
	timestamp  TEXT    NOT NULL,
	asset_type TEXT    NOT NULL
);
CREATE TABLE IF NOT EXISTS buy_sell_thresholds (
	name         TEXT NOT NULL PRIMARY KEY,
	buy          REAL NOT NULL,
	sell         REAL NOT NULL,
	last_updated TEXT NOT NULL
);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// OpenTradeStore implementation
// ---------------------------------------------------------------------------

// GetByID retrieves a single open trade by order ID, or nil if absent.
func (s *SQLiteStore) GetByID(ctx context.Context, orderID int64) (*OpenTrade, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, asset_type, order_type, trade_intent, quantity, order_id, last_updated
		 FROM open_trades WHERE order_id = ?`, orderID)
	t, err := scanOpenTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting open trade %d: %w", orderID, err)
	}
	return &t, nil
}

// GetAll returns every open trade.
func (s *SQLiteStore) GetAll(ctx context.Context) ([]OpenTrade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, asset_type, order_type, trade_intent, quantity, order_id, last_updated
		 FROM open_trades`)
	if err != nil {
		return nil, fmt.Errorf("listing open trades: %w", err)
	}
	defer rows.Close()

	var out []OpenTrade
	for rows.Next() {
		t, err := scanOpenTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning open trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Upsert inserts or replaces the open trade keyed by OrderID.
func (s *SQLiteStore) Upsert(ctx context.Context, row OpenTrade) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO open_trades
		 (name, asset_type, order_type, trade_intent, quantity, order_id, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.Name, string(row.AssetType), string(row.Side), string(row.TradeIntent),
		row.Qty, row.OrderID, row.LastUpdated.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("upserting open trade %d: %w", row.OrderID, err)
	}
	return nil
}

// Delete removes the open trade keyed by orderID.
func (s *SQLiteStore) Delete(ctx context.Context, orderID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM open_trades WHERE order_id = ?`, orderID); err != nil {
		return fmt.Errorf("deleting open trade %d: %w", orderID, err)
	}
	return nil
}

// Exists reports whether an open trade with the given order ID is present.
func (s *SQLiteStore) Exists(ctx context.Context, orderID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM open_trades WHERE order_id = ?`, orderID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking open trade %d: %w", orderID, err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOpenTrade(r rowScanner) (OpenTrade, error) {
	var (
		t                  OpenTrade
		assetType, side    string
		intent, lastUpdate string
	)
	if err := r.Scan(&t.Name, &assetType, &side, &intent, &t.Qty, &t.OrderID, &lastUpdate); err != nil {
		return OpenTrade{}, err
	}
	t.AssetType = domain.AssetType(assetType)
	t.Side = domain.OrderSide(side)
	t.TradeIntent = domain.TradeIntent(intent)
	ts, err := time.Parse(timeLayout, lastUpdate)
	if err != nil {
		return OpenTrade{}, fmt.Errorf("parsing last_updated %q: %w", lastUpdate, err)
	}
	t.LastUpdated = ts
	return t, nil
}

// ---------------------------------------------------------------------------
// TradeStore implementation
// ---------------------------------------------------------------------------

// GetTradeByID retrieves a historical trade by order ID, or nil if absent.
func (s *SQLiteStore) GetTradeByID(ctx context.Context, orderID int64) (*Trade, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, order_type, quantity, order_id, timestamp, asset_type
		 FROM trades WHERE order_id = ?`, orderID)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting trade %d: %w", orderID, err)
	}
	return &t, nil
}

// GetAllTrades returns every historical trade.
func (s *SQLiteStore) GetAllTrades(ctx context.Context) ([]Trade, error) {
	return s.queryTrades(ctx,
		`SELECT name, order_type, quantity, order_id, timestamp, asset_type FROM trades`)
}

// GetAllTradesBySide returns the historical trades for one side.
func (s *SQLiteStore) GetAllTradesBySide(ctx context.Context, side domain.OrderSide) ([]Trade, error) {
	return s.queryTrades(ctx,
		`SELECT name, order_type, quantity, order_id, timestamp, asset_type
		 FROM trades WHERE order_type = ?`, string(side))
}

func (s *SQLiteStore) queryTrades(ctx context.Context, query string, args ...any) ([]Trade, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing trades: %w", err)
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpsertTrade inserts or replaces a historical trade. Replaying the same
// order ID is a no-op replace, so crash-replay finalization is idempotent.
func (s *SQLiteStore) UpsertTrade(ctx context.Context, row Trade) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO trades
		 (name, order_type, quantity, order_id, timestamp, asset_type)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		row.Name, string(row.Side), row.Qty, row.OrderID,
		row.Timestamp.UTC().Format(timeLayout), string(row.AssetType))
	if err != nil {
		return fmt.Errorf("upserting trade %d: %w", row.OrderID, err)
	}
	return nil
}

// DeleteTrade removes a historical trade by order ID.
func (s *SQLiteStore) DeleteTrade(ctx context.Context, orderID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM trades WHERE order_id = ?`, orderID); err != nil {
		return fmt.Errorf("deleting trade %d: %w", orderID, err)
	}
	return nil
}

// TradeExists reports whether a historical trade with the given order ID is
// present.
func (s *SQLiteStore) TradeExists(ctx context.Context, orderID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM trades WHERE order_id = ?`, orderID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking trade %d: %w", orderID, err)
	}
	return n > 0, nil
}

func scanTrade(r rowScanner) (Trade, error) {
	var (
		t               Trade
		side, assetType string
		ts              string
	)
	if err := r.Scan(&t.Name, &side, &t.Qty, &t.OrderID, &ts, &assetType); err != nil {
		return Trade{}, err
	}
	t.Side = domain.OrderSide(side)
	t.AssetType = domain.AssetType(assetType)
	parsed, err := time.Parse(timeLayout, ts)
	if err != nil {
		return Trade{}, fmt.Errorf("parsing timestamp %q: %w", ts, err)
	}
	t.Timestamp = parsed
	return t, nil
}

// ---------------------------------------------------------------------------
// ThresholdStore implementation
// ---------------------------------------------------------------------------

// GetThreshold returns the buy/sell thresholds for the named asset. On a
// lookup miss it creates the row with the configured defaults; the insert is
// logged at WARN because it silently manufactures trading policy.
func (s *SQLiteStore) GetThreshold(ctx context.Context, name string) (float64, float64, error) {
	var buy, sell float64
	err := s.db.QueryRowContext(ctx,
		`SELECT buy, sell FROM buy_sell_thresholds WHERE name = ?`, name).Scan(&buy, &sell)
	if err == nil {
		return buy, sell, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("getting thresholds for %s: %w", name, err)
	}

	s.log.Warn("no threshold row, creating defaults",
		"name", name, "buy", s.defaultBuy, "sell", s.defaultSell)
	if err := s.PutThreshold(ctx, Threshold{
		Name:        name,
		Buy:         s.defaultBuy,
		Sell:        s.defaultSell,
		LastUpdated: time.Now(),
	}); err != nil {
		return 0, 0, err
	}
	return s.defaultBuy, s.defaultSell, nil
}

// PutThreshold inserts or replaces a threshold row.
func (s *SQLiteStore) PutThreshold(ctx context.Context, row Threshold) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO buy_sell_thresholds (name, buy, sell, last_updated)
		 VALUES (?, ?, ?, ?)`,
		row.Name, row.Buy, row.Sell, row.LastUpdated.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("upserting thresholds for %s: %w", row.Name, err)
	}
	return nil
}

// GetAllThresholds returns every threshold row.
func (s *SQLiteStore) GetAllThresholds(ctx context.Context) ([]Threshold, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, buy, sell, last_updated FROM buy_sell_thresholds`)
	if err != nil {
		return nil, fmt.Errorf("listing thresholds: %w", err)
	}
	defer rows.Close()

	var out []Threshold
	for rows.Next() {
		var (
			t  Threshold
			ts string
		)
		if err := rows.Scan(&t.Name, &t.Buy, &t.Sell, &ts); err != nil {
			return nil, fmt.Errorf("scanning threshold: %w", err)
		}
		parsed, err := time.Parse(timeLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing last_updated %q: %w", ts, err)
		}
		t.LastUpdated = parsed
		out = append(out, t)
	}
	return out, rows.Err()
}
