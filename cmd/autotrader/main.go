package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"autotrader/internal/bus"
	"autotrader/internal/config"
	"autotrader/internal/domain"
	"autotrader/internal/exchange"
	"autotrader/internal/fulfill"
	"autotrader/internal/store"
	"autotrader/internal/strategy"
	"autotrader/internal/trade"
	"autotrader/internal/util"
)

func main() {
	cfgPath := "config/autotrader.yaml"
	if p := os.Getenv("AUTOTRADER_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("refusing to start: %v", err)
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
	if err := st.Ping(context.Background()); err != nil {
		log.Fatalf("store unreachable: %v", err)
	}

	assetType := cfg.Trading.AssetType()
	var ex exchange.Exchange
	switch cfg.Trading.Exchange {
	case "alpaca":
		ex = exchange.NewAlpaca(
			cfg.Alpaca.APIKey,
			cfg.Alpaca.APISecret,
			cfg.Alpaca.BaseURL,
			cfg.Alpaca.DataURL,
			assetType,
			cfg.Trading.AllowancePct,
			cfg.Managers.ExchangeRatePerMinute,
		)
	default:
		ex = exchange.NewPaper(cfg.Trading.PaperCash, cfg.Trading.AllowancePct)
	}

	proposer, err := buildProposer(cfg)
	if err != nil {
		log.Fatalf("failed to build proposer: %v", err)
	}

	toEM := busLink("to-fulfillment", cfg)
	toTM := busLink("to-decision", cfg)

	em := fulfill.NewManager(ex, st.OpenTrades(), st.Trades(), st.Thresholds(), toEM, toTM, fulfill.Config{
		Tick:                 cfg.Managers.DispatchInterval(),
		OpenTradeTTL:         cfg.Managers.OpenTradeTTL(),
		CallTimeout:          cfg.Managers.CallTimeout(),
		HandshakeMaxAttempts: cfg.Managers.HandshakeMaxAttempts,
		HandshakeBackoff:     cfg.Managers.HandshakeBackoff(),
	})
	tm := trade.NewManager(proposer, toTM, toEM, trade.Config{
		Watchlist:            cfg.Trading.Watchlist,
		AssetType:            assetType,
		TradeIntent:          domain.TradeIntent(cfg.Trading.TradeIntent),
		Tick:                 cfg.Managers.DispatchInterval(),
		CallTimeout:          cfg.Managers.CallTimeout(),
		HandshakeMaxAttempts: cfg.Managers.HandshakeMaxAttempts,
		HandshakeBackoff:     cfg.Managers.HandshakeBackoff(),
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 3)
	go func() { errCh <- em.Run(ctx) }()
	go func() { errCh <- tm.Run(ctx) }()

	if cfg.Trading.Exchange == "alpaca" && cfg.Alpaca.StreamURL != "" {
		listener := exchange.NewListener(
			cfg.Alpaca.StreamURL,
			cfg.Alpaca.APIKey,
			cfg.Alpaca.APISecret,
			em.ApplyUpdate,
			logger,
		)
		go func() { errCh <- listener.Run(ctx) }()
	}

	logger.Info("autotrader started", "exchange", ex.Name(), "watchlist", cfg.Trading.Watchlist)

	err = <-errCh
	cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("autotrader stopped: %v", err)
	}
	logger.Info("autotrader stopped")
}

func busLink(name string, cfg *config.Config) *bus.Mailbox {
	return bus.NewMailbox(name, cfg.Managers.MailboxSize)
}

func buildProposer(cfg *config.Config) (strategy.Proposer, error) {
	indicator := strategy.NewIndicatorProposer(nil, 5)
	if cfg.Trading.Proposer == "risk_parity" {
		return strategy.NewRiskParityProposer(indicator, cfg.Trading.RiskParityRatio)
	}
	return indicator, nil
}
