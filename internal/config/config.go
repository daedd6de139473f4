// Package config defines the top-level configuration for marginbot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MARGINBOT_* environment variables.
type Config struct {
	Engine    EngineConfig    `toml:"engine"`
	Sources   []SourceConfig  `toml:"sources"`
	Consensus ConsensusConfig `toml:"consensus"`
	Risk      RiskConfig      `toml:"risk"`
	Breaker   BreakerConfig   `toml:"breaker"`
	Executor  ExecutorConfig  `toml:"executor"`
	Positions PositionsConfig `toml:"positions"`
	Exchange  ExchangeConfig  `toml:"exchange"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// EngineConfig holds the per-symbol decision cycle parameters.
type EngineConfig struct {
	Symbols       []string `toml:"symbols"`
	CycleInterval duration `toml:"cycle_interval"`
	SignalTimeout duration `toml:"signal_timeout"`
	InitialEquity float64  `toml:"initial_equity"`
}

// SourceConfig declares one predictive signal source and its static weight in
// the consensus vote.
type SourceConfig struct {
	ID      string  `toml:"id"`
	Type    string  `toml:"type"` // "momentum", "sentiment", "model"
	Weight  float64 `toml:"weight"`
	URL     string  `toml:"url"`     // sentiment/model endpoints
	APIKey  string  `toml:"api_key"` // optional bearer token
	FastSMA int     `toml:"fast_sma"`
	SlowSMA int     `toml:"slow_sma"`
}

// ConsensusConfig holds the aggregation thresholds.
type ConsensusConfig struct {
	ConfidenceThreshold float64 `toml:"confidence_threshold"`
	MinQuorum           float64 `toml:"min_quorum"` // fraction of configured sources that must respond
}

// RiskConfig holds position sizing and leverage parameters.
type RiskConfig struct {
	BaseRiskFraction     float64 `toml:"base_risk_fraction"`
	MaxPositionFraction  float64 `toml:"max_position_fraction"`
	BaseLeverage         float64 `toml:"base_leverage"`
	MaxLeverage          float64 `toml:"max_leverage"`
	StopLossPct          float64 `toml:"stop_loss_pct"`
	TakeProfitPct        float64 `toml:"take_profit_pct"`
	MinStopLossPct       float64 `toml:"min_stop_loss_pct"`
	MaxStopLossPct       float64 `toml:"max_stop_loss_pct"`
	LiquidationSafetyPct float64 `toml:"liquidation_safety_pct"`
	MinOrderSize         float64 `toml:"min_order_size"`
	MaxPositionsPerSymbol int    `toml:"max_positions_per_symbol"`
	MaxOpenPositions      int    `toml:"max_open_positions"`
}

// BreakerConfig holds the circuit breaker trip limits.
type BreakerConfig struct {
	DailyLossLimit       float64 `toml:"daily_loss_limit"` // fraction of day-start equity
	MaxConsecutiveLosses int     `toml:"max_consecutive_losses"`
}

// ExecutorConfig holds order submission retry parameters.
type ExecutorConfig struct {
	OrderType      string   `toml:"order_type"` // "market" or "limit"
	RetryAttempts  int      `toml:"retry_attempts"`
	RetryBaseDelay duration `toml:"retry_base_delay"`
	RetryMaxDelay  duration `toml:"retry_max_delay"`
	RetryMaxElapsed duration `toml:"retry_max_elapsed"`
}

// PositionsConfig holds the position monitor parameters.
type PositionsConfig struct {
	PollInterval       duration `toml:"poll_interval"`
	MaxHoldingDuration duration `toml:"max_holding_duration"`
}

// ExchangeConfig selects and configures the trading venue.
type ExchangeConfig struct {
	Driver    string `toml:"driver"` // "binance" or "paper"
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
	Testnet   bool   `toml:"testnet"`
	WSHost    string `toml:"ws_host"`
	// Paper-driver fill model.
	PaperSlippageBps float64 `toml:"paper_slippage_bps"`
	PaperFeeBps      float64 `toml:"paper_fee_bps"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds object storage parameters for ledger archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	RetentionDays  int    `toml:"retention_days"`
}

// ServerConfig holds admin HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			Symbols:       []string{"BTCUSDT"},
			CycleInterval: duration{15 * time.Minute},
			SignalTimeout: duration{10 * time.Second},
			InitialEquity: 1000,
		},
		Sources: []SourceConfig{
			{ID: "momentum", Type: "momentum", Weight: 1.0, FastSMA: 7, SlowSMA: 25},
		},
		Consensus: ConsensusConfig{
			ConfidenceThreshold: 0.6,
			MinQuorum:           0.3,
		},
		Risk: RiskConfig{
			BaseRiskFraction:      0.1,
			MaxPositionFraction:   0.5,
			BaseLeverage:          5,
			MaxLeverage:           10,
			StopLossPct:           0.02,
			TakeProfitPct:         0.04,
			MinStopLossPct:        0.005,
			MaxStopLossPct:        0.05,
			LiquidationSafetyPct:  0.2,
			MinOrderSize:          10,
			MaxPositionsPerSymbol: 1,
			MaxOpenPositions:      5,
		},
		Breaker: BreakerConfig{
			DailyLossLimit:       0.05,
			MaxConsecutiveLosses: 4,
		},
		Executor: ExecutorConfig{
			OrderType:       "market",
			RetryAttempts:   4,
			RetryBaseDelay:  duration{500 * time.Millisecond},
			RetryMaxDelay:   duration{8 * time.Second},
			RetryMaxElapsed: duration{30 * time.Second},
		},
		Positions: PositionsConfig{
			PollInterval:       duration{30 * time.Second},
			MaxHoldingDuration: duration{24 * time.Hour},
		},
		Exchange: ExchangeConfig{
			Driver:           "paper",
			Testnet:          false,
			WSHost:           "wss://fstream.binance.com/stream",
			PaperSlippageBps: 2,
			PaperFeeBps:      4,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "marginbot",
			User:          "marginbot",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Region:         "us-east-1",
			Bucket:         "marginbot-ledger",
			ForcePathStyle: true,
			RetentionDays:  90,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "trade_closed"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":  true,
	"paper": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, paper)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if len(c.Engine.Symbols) == 0 {
		errs = append(errs, "engine: at least one symbol is required")
	}
	if c.Engine.CycleInterval.Duration <= 0 {
		errs = append(errs, "engine: cycle_interval must be positive")
	}
	if c.Engine.SignalTimeout.Duration <= 0 {
		errs = append(errs, "engine: signal_timeout must be positive")
	}
	if c.Engine.InitialEquity <= 0 {
		errs = append(errs, "engine: initial_equity must be > 0")
	}

	// Sources
	if len(c.Sources) == 0 {
		errs = append(errs, "sources: at least one signal source is required")
	}
	seen := map[string]bool{}
	for i, src := range c.Sources {
		if src.ID == "" {
			errs = append(errs, fmt.Sprintf("sources[%d]: id must not be empty", i))
		}
		if seen[src.ID] {
			errs = append(errs, fmt.Sprintf("sources[%d]: duplicate id %q", i, src.ID))
		}
		seen[src.ID] = true
		switch src.Type {
		case "momentum":
		case "sentiment", "model":
			if src.URL == "" {
				errs = append(errs, fmt.Sprintf("sources[%d] (%s): url is required for type %q", i, src.ID, src.Type))
			}
		default:
			errs = append(errs, fmt.Sprintf("sources[%d]: unknown type %q (valid: momentum, sentiment, model)", i, src.Type))
		}
		if src.Weight <= 0 {
			errs = append(errs, fmt.Sprintf("sources[%d] (%s): weight must be > 0", i, src.ID))
		}
	}

	// Consensus
	if c.Consensus.ConfidenceThreshold <= 0 || c.Consensus.ConfidenceThreshold >= 1 {
		errs = append(errs, fmt.Sprintf("consensus: confidence_threshold must be in (0,1), got %g", c.Consensus.ConfidenceThreshold))
	}
	if c.Consensus.MinQuorum < 0 || c.Consensus.MinQuorum > 1 {
		errs = append(errs, fmt.Sprintf("consensus: min_quorum must be in [0,1], got %g", c.Consensus.MinQuorum))
	}

	// Risk
	if c.Risk.BaseRiskFraction <= 0 || c.Risk.BaseRiskFraction > 1 {
		errs = append(errs, "risk: base_risk_fraction must be in (0,1]")
	}
	if c.Risk.MaxPositionFraction <= 0 || c.Risk.MaxPositionFraction > 1 {
		errs = append(errs, "risk: max_position_fraction must be in (0,1]")
	}
	if c.Risk.BaseLeverage < 1 {
		errs = append(errs, "risk: base_leverage must be >= 1")
	}
	if c.Risk.MaxLeverage < c.Risk.BaseLeverage {
		errs = append(errs, "risk: max_leverage must be >= base_leverage")
	}
	if c.Risk.StopLossPct <= 0 {
		errs = append(errs, "risk: stop_loss_pct must be > 0")
	}
	if c.Risk.TakeProfitPct <= 0 {
		errs = append(errs, "risk: take_profit_pct must be > 0")
	}
	if c.Risk.MinStopLossPct > c.Risk.MaxStopLossPct {
		errs = append(errs, "risk: min_stop_loss_pct must not exceed max_stop_loss_pct")
	}
	if c.Risk.LiquidationSafetyPct <= 0 || c.Risk.LiquidationSafetyPct >= 1 {
		errs = append(errs, "risk: liquidation_safety_pct must be in (0,1)")
	}
	if c.Risk.MaxPositionsPerSymbol < 1 {
		errs = append(errs, "risk: max_positions_per_symbol must be >= 1")
	}
	if c.Risk.MaxOpenPositions < 1 {
		errs = append(errs, "risk: max_open_positions must be >= 1")
	}

	// Breaker
	if c.Breaker.DailyLossLimit <= 0 || c.Breaker.DailyLossLimit >= 1 {
		errs = append(errs, "breaker: daily_loss_limit must be in (0,1)")
	}
	if c.Breaker.MaxConsecutiveLosses < 1 {
		errs = append(errs, "breaker: max_consecutive_losses must be >= 1")
	}

	// Executor
	if c.Executor.OrderType != "market" && c.Executor.OrderType != "limit" {
		errs = append(errs, fmt.Sprintf("executor: order_type must be market or limit, got %q", c.Executor.OrderType))
	}
	if c.Executor.RetryAttempts < 1 {
		errs = append(errs, "executor: retry_attempts must be >= 1")
	}
	if c.Executor.RetryBaseDelay.Duration <= 0 {
		errs = append(errs, "executor: retry_base_delay must be positive")
	}

	// Positions
	if c.Positions.PollInterval.Duration <= 0 {
		errs = append(errs, "positions: poll_interval must be positive")
	}
	if c.Positions.MaxHoldingDuration.Duration <= 0 {
		errs = append(errs, "positions: max_holding_duration must be positive")
	}

	// Exchange
	switch c.Exchange.Driver {
	case "paper":
	case "binance":
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			errs = append(errs, "exchange: api_key and api_secret are required for the binance driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("exchange: unknown driver %q (valid: binance, paper)", c.Exchange.Driver))
	}
	if c.Mode == "live" && c.Exchange.Driver == "paper" {
		errs = append(errs, "exchange: live mode requires a real exchange driver")
	}

	// Postgres (live mode persists to it)
	if c.Mode == "live" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.RetentionDays < 1 {
			errs = append(errs, "s3: retention_days must be >= 1 when enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// TotalSourceWeight sums the static weights of all configured sources.
func (c *Config) TotalSourceWeight() float64 {
	var total float64
	for _, s := range c.Sources {
		total += s.Weight
	}
	return total
}
