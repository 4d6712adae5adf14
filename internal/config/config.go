// Package config loads and validates the YAML configuration for the trading
// daemon, applying environment variable overrides for credentials and paths.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"autotrader/internal/domain"
)

// ErrInvalid wraps all configuration validation failures. The process must
// abort before entering any dispatch loop when it is returned.
var ErrInvalid = errors.New("invalid configuration")

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the trading daemon.
type Config struct {
	Storage  Storage  `yaml:"storage"`
	Alpaca   Alpaca   `yaml:"alpaca"`
	Logging  Logging  `yaml:"logging"`
	Trading  Trading  `yaml:"trading"`
	Managers Managers `yaml:"managers"`
}

// Storage holds paths for data persistence.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"`
	ArchiveDir string `yaml:"archive_dir"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	StreamURL string `yaml:"stream_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Trading defines what is traded and how candidate trades are proposed.
type Trading struct {
	Exchange             string   `yaml:"exchange"`    // "paper" or "alpaca"
	AssetClass           string   `yaml:"asset_class"` // "stock" or "crypto"
	Watchlist            []string `yaml:"watchlist"`
	TradeIntent          string   `yaml:"trade_intent"`
	Proposer             string   `yaml:"proposer"` // "indicator" or "risk_parity"
	RiskParityRatio      float64  `yaml:"risk_parity_ratio"`
	AllowancePct         float64  `yaml:"allowance_pct"`
	DefaultBuyThreshold  float64  `yaml:"default_buy_threshold"`
	DefaultSellThreshold float64  `yaml:"default_sell_threshold"`
	PaperCash            float64  `yaml:"paper_cash"`
}

// AssetType maps the configured exchange and asset class onto the asset type
// stamped on every traded asset. The paper exchange gets the PAPER_ variants
// so simulated trades are distinguishable in the historical store.
func (t Trading) AssetType() domain.AssetType {
	crypto := t.AssetClass == "crypto"
	if t.Exchange == "paper" {
		if crypto {
			return domain.AssetTypePaperCrypto
		}
		return domain.AssetTypePaperStock
	}
	if crypto {
		return domain.AssetTypeCrypto
	}
	return domain.AssetTypeStock
}

// Managers holds the timing parameters of the two dispatch loops and the bus.
type Managers struct {
	DispatchIntervalSecs  int `yaml:"dispatch_interval_secs"`
	OpenTradeTTLSecs      int `yaml:"open_trade_ttl_secs"`
	CallTimeoutSecs       int `yaml:"call_timeout_secs"`
	HandshakeMaxAttempts  int `yaml:"handshake_max_attempts"`
	HandshakeBackoffSecs  int `yaml:"handshake_backoff_secs"`
	MailboxSize           int `yaml:"mailbox_size"`
	ExchangeRatePerMinute int `yaml:"exchange_rate_per_minute"`
}

// DispatchInterval returns the dispatch tick as a duration.
func (m Managers) DispatchInterval() time.Duration {
	return time.Duration(m.DispatchIntervalSecs) * time.Second
}

// OpenTradeTTL returns the processing deadline as a duration.
func (m Managers) OpenTradeTTL() time.Duration {
	return time.Duration(m.OpenTradeTTLSecs) * time.Second
}

// CallTimeout returns the per-call timeout as a duration.
func (m Managers) CallTimeout() time.Duration {
	return time.Duration(m.CallTimeoutSecs) * time.Second
}

// HandshakeBackoff returns the pause between readiness probes.
func (m Managers) HandshakeBackoff() time.Duration {
	return time.Duration(m.HandshakeBackoffSecs) * time.Second
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("ARCHIVE_DIR"); v != "" {
		cfg.Storage.ArchiveDir = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	if v := os.Getenv("ALPACA_STREAM_URL"); v != "" {
		cfg.Alpaca.StreamURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// applyDefaults fills zero-valued fields with workable defaults.
func applyDefaults(cfg *Config) {
	if cfg.Trading.Exchange == "" {
		cfg.Trading.Exchange = "paper"
	}
	if cfg.Trading.AssetClass == "" {
		cfg.Trading.AssetClass = "stock"
	}
	if cfg.Trading.Proposer == "" {
		cfg.Trading.Proposer = "indicator"
	}
	if cfg.Trading.TradeIntent == "" {
		cfg.Trading.TradeIntent = "SHORT_TRADE"
	}
	if cfg.Trading.DefaultBuyThreshold == 0 {
		cfg.Trading.DefaultBuyThreshold = 1.0
	}
	if cfg.Trading.DefaultSellThreshold == 0 {
		cfg.Trading.DefaultSellThreshold = -1.0
	}
	if cfg.Trading.RiskParityRatio == 0 {
		cfg.Trading.RiskParityRatio = 0.6
	}
	if cfg.Trading.AllowancePct == 0 {
		cfg.Trading.AllowancePct = 0.1
	}
	if cfg.Trading.PaperCash == 0 {
		cfg.Trading.PaperCash = 100000
	}

	if cfg.Managers.DispatchIntervalSecs == 0 {
		cfg.Managers.DispatchIntervalSecs = 1
	}
	if cfg.Managers.OpenTradeTTLSecs == 0 {
		cfg.Managers.OpenTradeTTLSecs = 3600
	}
	if cfg.Managers.CallTimeoutSecs == 0 {
		cfg.Managers.CallTimeoutSecs = 10
	}
	if cfg.Managers.HandshakeMaxAttempts == 0 {
		cfg.Managers.HandshakeMaxAttempts = 30
	}
	if cfg.Managers.HandshakeBackoffSecs == 0 {
		cfg.Managers.HandshakeBackoffSecs = 2
	}
	if cfg.Managers.MailboxSize == 0 {
		cfg.Managers.MailboxSize = 16
	}
	if cfg.Managers.ExchangeRatePerMinute == 0 {
		cfg.Managers.ExchangeRatePerMinute = 200
	}
}

// Validate reports the first fatal configuration error, or nil. Missing
// credentials or storage paths abort the process before any loop starts.
func (c *Config) Validate() error {
	if c.Storage.SQLitePath == "" {
		return fmt.Errorf("%w: storage.sqlite_path is required", ErrInvalid)
	}
	switch c.Trading.Exchange {
	case "paper":
	case "alpaca":
		if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
			return fmt.Errorf("%w: alpaca credentials are required for trading.exchange=alpaca", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown trading.exchange %q", ErrInvalid, c.Trading.Exchange)
	}
	switch c.Trading.AssetClass {
	case "stock", "crypto":
	default:
		return fmt.Errorf("%w: unknown trading.asset_class %q", ErrInvalid, c.Trading.AssetClass)
	}
	if len(c.Trading.Watchlist) == 0 {
		return fmt.Errorf("%w: trading.watchlist must name at least one symbol", ErrInvalid)
	}
	switch c.Trading.Proposer {
	case "indicator", "risk_parity":
	default:
		return fmt.Errorf("%w: unknown trading.proposer %q", ErrInvalid, c.Trading.Proposer)
	}
	return nil
}
