// Package config defines all configuration for the market-making bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via POLY_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun    bool            `mapstructure:"dry_run"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	API       APIConfig       `mapstructure:"api"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Signal    SignalConfig    `mapstructure:"signal"`
	Relayer   RelayerConfig   `mapstructure:"relayer"`
	Contracts ContractsConfig `mapstructure:"contracts"`
}

// ChainConfig carries the on-chain RPC endpoints the Balance Monitor and
// Collateral Operations' direct-signed-tx path dial.
type ChainConfig struct {
	RPCURL    string `mapstructure:"rpc_url"`     // RPC_URL
	WSSRPCURL string `mapstructure:"wss_rpc_url"` // WSS_RPC_URL
}

// ExecutionConfig controls how orders reach the chain: through the
// operator's own gas-paying transactions, or via the builder relayer.
type ExecutionConfig struct {
	AuthMode           string  `mapstructure:"auth_mode"` // AUTH_MODE: "EOA" or "PROXY"
	UseDirectExecution bool    `mapstructure:"use_direct_execution"`
	PayOwnGas          bool    `mapstructure:"pay_own_gas"`
	DashboardURL       string  `mapstructure:"dashboard_url"`
	PolymarketHost     string  `mapstructure:"polymarket_host"`
	PolymarketFunder   string  `mapstructure:"polymarket_funder"`
	TestBuy            bool    `mapstructure:"test_buy"`
	PairCostTarget     float64 `mapstructure:"pair_cost_target"`
}

// RelayerConfig holds the builder-relayer credentials used by Collateral
// Operations' relayer-first submission path.
type RelayerConfig struct {
	BuilderRelayerURL    string `mapstructure:"builder_relayer_url"`
	BuilderRelayerAPIKey string `mapstructure:"builder_relayer_api_key"`
}

// SignalConfig authenticates and tunes the inbound /api/signal surface, and
// carries the Price Monitor's sell-trigger thresholds: a low, sport-specific
// bid level below which the losing side of a market is dumped to lock in
// profit on the other leg.
type SignalConfig struct {
	APIKey               string             `mapstructure:"api_key"`
	DefaultSellThreshold float64            `mapstructure:"default_sell_threshold"` // zero value defaults to 0.25 in Load
	SellThresholdBySport map[string]float64 `mapstructure:"sell_threshold_by_sport"`
}

// ContractsConfig names the on-chain addresses Collateral Operations calls
// against. Defaults (applied in Load) are Polygon mainnet's CTF, NegRisk
// adapter, and USDC.e addresses.
type ContractsConfig struct {
	CTFAddress     string `mapstructure:"ctf_address"`
	NegRiskAdapter string `mapstructure:"neg_risk_adapter"`
	USDCAddress    string `mapstructure:"usdc_address"`
}

// WalletConfig holds the Ethereum wallet used for signing orders.
// PrivateKey signs L1 (EIP-712) auth and derives L2 API keys.
// FunderAddress is the on-chain address that funds orders (may differ from signer if using a proxy).
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
}

// APIConfig holds Polymarket API endpoints and optional pre-derived L2 credentials.
// If ApiKey/Secret/Passphrase are empty, the bot derives them via L1 auth on startup.
type APIConfig struct {
	CLOBBaseURL  string `mapstructure:"clob_base_url"`
	GammaBaseURL string `mapstructure:"gamma_base_url"`
	WSMarketURL  string `mapstructure:"ws_market_url"`
	WSUserURL    string `mapstructure:"ws_user_url"`
	ApiKey       string `mapstructure:"api_key"`
	Secret       string `mapstructure:"secret"`
	Passphrase   string `mapstructure:"passphrase"`
}

// StrategyConfig tunes the Avellaneda-Stoikov market-making algorithm.
//
//   - Gamma: risk aversion parameter. Higher = tighter spread, less inventory risk.
//   - Sigma: estimated price volatility (annualized std dev).
//   - K:     order arrival rate. Higher K = more aggressive quotes.
//   - T:     time horizon in years (e.g. 1.0 = 1 year).
//   - DefaultSpreadBps: minimum spread floor in basis points.
//   - OrderSizeUSD: target notional size per order.
//   - RefreshInterval: how often to recompute and reconcile quotes.
//   - StaleBookTimeout: cancel all orders if no book update within this window.
//
// Flow Detection (Phase 1):
//   - FlowWindow: rolling time window for tracking fills (e.g., 60s).
//   - FlowToxicityThreshold: toxicity score above this triggers spread widening (e.g., 0.6).
//   - FlowCooldownPeriod: stay wide for this duration after toxicity detected (e.g., 120s).
//   - FlowMaxSpreadMultiplier: maximum spread widening factor (e.g., 3.0x).
type StrategyConfig struct {
	Gamma            float64       `mapstructure:"gamma"`
	Sigma            float64       `mapstructure:"sigma"`
	K                float64       `mapstructure:"k"`
	T                float64       `mapstructure:"t"`
	DefaultSpreadBps int           `mapstructure:"default_spread_bps"`
	OrderSizeUSD     float64       `mapstructure:"order_size_usd"`
	RefreshInterval  time.Duration `mapstructure:"refresh_interval"`
	StaleBookTimeout time.Duration `mapstructure:"stale_book_timeout"`

	// Phase 1: Toxic flow detection
	FlowWindow              time.Duration `mapstructure:"flow_window"`
	FlowToxicityThreshold   float64       `mapstructure:"flow_toxicity_threshold"`
	FlowCooldownPeriod      time.Duration `mapstructure:"flow_cooldown_period"`
	FlowMaxSpreadMultiplier float64       `mapstructure:"flow_max_spread_multiplier"`
}

// RiskConfig sets hard limits that trigger order cancellation (kill switch).
//
//   - MaxPositionPerMarket: max USD exposure in any single market.
//   - MaxGlobalExposure: max USD exposure across ALL active markets combined.
//   - MaxMarketsActive: cap on how many markets the bot trades simultaneously.
//   - KillSwitchDropPct: if price moves this % within the window, kill switch fires.
//   - KillSwitchWindowSec: time window for measuring rapid price movement.
//   - MaxDailyLoss: max combined (realized + unrealized) loss before kill switch.
//   - CooldownAfterKill: how long the kill switch stays engaged after firing.
type RiskConfig struct {
	MaxPositionPerMarket float64       `mapstructure:"max_position_per_market"`
	MaxGlobalExposure    float64       `mapstructure:"max_global_exposure"`
	MaxMarketsActive     int           `mapstructure:"max_markets_active"`
	KillSwitchDropPct    float64       `mapstructure:"kill_switch_drop_pct"`
	KillSwitchWindowSec  int           `mapstructure:"kill_switch_window_sec"`
	MaxDailyLoss         float64       `mapstructure:"max_daily_loss"`
	CooldownAfterKill    time.Duration `mapstructure:"cooldown_after_kill"`
}

// ScannerConfig controls how the bot discovers and filters tradeable markets.
// The scanner polls the Gamma API and ranks markets by opportunity score:
// score = spread * sqrt(volume24h) * min(liquidity/10000, 1).
type ScannerConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MinLiquidity   float64       `mapstructure:"min_liquidity"`
	MinVolume24h   float64       `mapstructure:"min_volume_24h"`
	MinSpread      float64       `mapstructure:"min_spread"`
	MaxEndDateDays int           `mapstructure:"max_end_date_days"`
	ExcludeSlugs   []string      `mapstructure:"exclude_slugs"`
}

// StoreConfig sets where position data is persisted. DataDir is the
// teacher's original JSON-file root (kept for any remaining ad hoc file
// output); DBPath and PositionSnapshotPath are this spec's two durable
// state files.
type StoreConfig struct {
	DataDir              string `mapstructure:"data_dir"`
	DBPath               string `mapstructure:"db_path"`               // ./data/trading.db, WAL mode
	PositionSnapshotPath string `mapstructure:"position_snapshot_path"` // ./sss_positions.json
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the web dashboard server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: POLY_PRIVATE_KEY, POLY_API_KEY, POLY_API_SECRET, POLY_PASSPHRASE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("POLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("POLY_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("POLY_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("POLY_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("POLY_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if os.Getenv("POLY_DRY_RUN") == "true" || os.Getenv("POLY_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	// Spec-named (non-POLY_-prefixed) env overrides, matching the operational
	// CLI's documented variable names rather than viper's automatic prefix.
	if v := os.Getenv("RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv("WSS_RPC_URL"); v != "" {
		cfg.Chain.WSSRPCURL = v
	}
	if v := os.Getenv("AUTH_MODE"); v != "" {
		cfg.Execution.AuthMode = v
	}
	if v := os.Getenv("USE_DIRECT_EXECUTION"); v == "true" || v == "1" {
		cfg.Execution.UseDirectExecution = true
	}
	if v := os.Getenv("PAY_OWN_GAS"); v == "true" || v == "1" {
		cfg.Execution.PayOwnGas = true
	}
	if v := os.Getenv("DASHBOARD_URL"); v != "" {
		cfg.Execution.DashboardURL = v
	}
	if v := os.Getenv("POLYMARKET_HOST"); v != "" {
		cfg.Execution.PolymarketHost = v
	}
	if v := os.Getenv("POLYMARKET_PRIVATE_KEY"); v != "" {
		cfg.Wallet.PrivateKey = v
	}
	if v := os.Getenv("POLYMARKET_FUNDER"); v != "" {
		cfg.Execution.PolymarketFunder = v
	}
	if v := os.Getenv("TESTBUY"); v == "true" || v == "1" {
		cfg.Execution.TestBuy = true
	}
	if v := os.Getenv("PAIR_COST_TARGET"); v != "" {
		if f, parseErr := strconv.ParseFloat(v, 64); parseErr == nil {
			cfg.Execution.PairCostTarget = f
		}
	}
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.Signal.APIKey = v
	}

	// Polygon mainnet contract defaults, used unless overridden in the config
	// file — these almost never change and the teacher's own test fixtures
	// hardcode the same values.
	if cfg.Contracts.CTFAddress == "" {
		cfg.Contracts.CTFAddress = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"
	}
	if cfg.Contracts.NegRiskAdapter == "" {
		cfg.Contracts.NegRiskAdapter = "0xd91E80cF2E7be2e162c6513ceD06f1dD0dA35296"
	}
	if cfg.Contracts.USDCAddress == "" {
		cfg.Contracts.USDCAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
	}
	if cfg.Signal.DefaultSellThreshold == 0 {
		cfg.Signal.DefaultSellThreshold = 0.25
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Wallet.PrivateKey == "" {
		return fmt.Errorf("wallet.private_key is required (set POLY_PRIVATE_KEY)")
	}
	if c.Wallet.ChainID == 0 {
		return fmt.Errorf("wallet.chain_id is required (137 for mainnet)")
	}
	switch c.Wallet.SignatureType {
	case 0, 1, 2:
	default:
		return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
	}
	if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
		return fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2")
	}
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	if c.Strategy.Gamma <= 0 {
		return fmt.Errorf("strategy.gamma must be > 0")
	}
	if c.Strategy.OrderSizeUSD <= 0 {
		return fmt.Errorf("strategy.order_size_usd must be > 0")
	}
	if c.Risk.MaxPositionPerMarket <= 0 {
		return fmt.Errorf("risk.max_position_per_market must be > 0")
	}
	if c.Risk.MaxGlobalExposure <= 0 {
		return fmt.Errorf("risk.max_global_exposure must be > 0")
	}
	if c.Risk.MaxMarketsActive <= 0 {
		return fmt.Errorf("risk.max_markets_active must be > 0")
	}
	return nil
}
