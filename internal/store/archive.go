package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
)

// TradeRecord is the Parquet schema for archived historical trades.
type TradeRecord struct {
	Name      string  `parquet:"name"`
	Side      string  `parquet:"side"`
	Qty       float64 `parquet:"qty"`
	OrderID   int64   `parquet:"order_id"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	AssetType string  `parquet:"asset_type"`
}

// ExportTrades writes every historical trade to a dated Parquet file under
// dir and returns the file path. An existing file for the same day is
// overwritten, so repeated exports are idempotent.
func ExportTrades(ctx context.Context, trades TradeStore, dir string) (string, error) {
	rows, err := trades.GetAll(ctx)
	if err != nil {
		return "", fmt.Errorf("reading trades for archive: %w", err)
	}

	records := make([]TradeRecord, 0, len(rows))
	for _, t := range rows {
		records = append(records, TradeRecord{
			Name:      t.Name,
			Side:      string(t.Side),
			Qty:       t.Qty,
			OrderID:   t.OrderID,
			Timestamp: t.Timestamp.UnixMilli(),
			AssetType: string(t.AssetType),
		})
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating archive dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("trades-%s.parquet", time.Now().Format("2006-01-02")))
	if err := parquet.WriteFile(path, records); err != nil {
		return "", fmt.Errorf("writing archive %s: %w", path, err)
	}
	return path, nil
}

// ReadArchive loads the records of a previously exported archive file.
func ReadArchive(path string) ([]TradeRecord, error) {
	records, err := parquet.ReadFile[TradeRecord](path)
	if err != nil {
		return nil, fmt.Errorf("reading archive %s: %w", path, err)
	}
	return records, nil
}
