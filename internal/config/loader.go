package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MARGINBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MARGINBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.Driver, "MARGINBOT_EXCHANGE_DRIVER")
	setStr(&cfg.Exchange.APIKey, "MARGINBOT_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.APISecret, "MARGINBOT_EXCHANGE_API_SECRET")
	setBool(&cfg.Exchange.Testnet, "MARGINBOT_EXCHANGE_TESTNET")
	setStr(&cfg.Exchange.WSHost, "MARGINBOT_EXCHANGE_WS_HOST")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "MARGINBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "MARGINBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MARGINBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MARGINBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MARGINBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MARGINBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MARGINBOT_POSTGRES_SSLMODE")
	setBool(&cfg.Postgres.RunMigrations, "MARGINBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MARGINBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MARGINBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARGINBOT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "MARGINBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "MARGINBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "MARGINBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MARGINBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "MARGINBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MARGINBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MARGINBOT_S3_SECRET_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MARGINBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MARGINBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MARGINBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MARGINBOT_NOTIFY_EVENTS")

	// ── Engine ──
	setStringSlice(&cfg.Engine.Symbols, "MARGINBOT_ENGINE_SYMBOLS")
	setDuration(&cfg.Engine.CycleInterval, "MARGINBOT_ENGINE_CYCLE_INTERVAL")
	setDuration(&cfg.Engine.SignalTimeout, "MARGINBOT_ENGINE_SIGNAL_TIMEOUT")
	setFloat64(&cfg.Engine.InitialEquity, "MARGINBOT_ENGINE_INITIAL_EQUITY")

	// ── Risk / breaker ──
	setFloat64(&cfg.Risk.BaseRiskFraction, "MARGINBOT_RISK_BASE_RISK_FRACTION")
	setFloat64(&cfg.Risk.MaxLeverage, "MARGINBOT_RISK_MAX_LEVERAGE")
	setFloat64(&cfg.Breaker.DailyLossLimit, "MARGINBOT_BREAKER_DAILY_LOSS_LIMIT")
	setInt(&cfg.Breaker.MaxConsecutiveLosses, "MARGINBOT_BREAKER_MAX_CONSECUTIVE_LOSSES")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "MARGINBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "MARGINBOT_SERVER_PORT")

	// ── Top-level ──
	setStr(&cfg.Mode, "MARGINBOT_MODE")
	setStr(&cfg.LogLevel, "MARGINBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
