package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"autotrader/internal/config"
	"autotrader/internal/store"
	"autotrader/internal/util"
)

// trade-archive exports the historical trades table to a dated Parquet file
// under the configured archive directory.
func main() {
	cfgPath := "config/autotrader.yaml"
	if p := os.Getenv("AUTOTRADER_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Storage.ArchiveDir == "" {
		log.Fatal("storage.archive_dir is required")
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	st, err := store.NewSQLiteStore(
		cfg.Storage.SQLitePath,
		cfg.Trading.DefaultBuyThreshold,
		cfg.Trading.DefaultSellThreshold,
		logger,
	)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	path, err := store.ExportTrades(context.Background(), st.Trades(), cfg.Storage.ArchiveDir)
	if err != nil {
		log.Fatalf("export failed: %v", err)
	}
	fmt.Printf("trades archived to %s\n", path)
}
