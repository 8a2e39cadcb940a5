// Package config defines the top-level configuration for polymirror and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYMIRROR_* environment variables.
type Config struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	Markets    []MarketConfig   `toml:"markets"`
	Arbitrage  ArbitrageConfig  `toml:"arbitrage"`
	Engine     EngineConfig     `toml:"engine"`
	CopyTrade  CopyTradeConfig  `toml:"copytrade"`
	RateLimit  RateLimitConfig  `toml:"rate_limit"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	LogLevel   string           `toml:"log_level"`
}

// PolymarketConfig holds Polymarket API endpoints.
type PolymarketConfig struct {
	WsHost    string `toml:"ws_host"`
	GammaHost string `toml:"gamma_host"`
	DataHost  string `toml:"data_host"`
}

// MarketConfig binds one binary market's outcome tokens for the live feed.
type MarketConfig struct {
	MarketID    string `toml:"market_id"`
	ConditionID string `toml:"condition_id"`
	YesAssetID  string `toml:"yes_asset_id"`
	NoAssetID   string `toml:"no_asset_id"`
}

// ArbitrageConfig holds detection thresholds and scan cadence.
type ArbitrageConfig struct {
	Enabled            bool     `toml:"enabled"`
	MinProfitThreshold float64  `toml:"min_profit_threshold"`
	FeeBuffer          float64  `toml:"fee_buffer"`
	SafetyMargin       float64  `toml:"safety_margin"`
	MaxPositionSize    float64  `toml:"max_position_size"`
	DebounceWindow     duration `toml:"debounce_window"`
	FallbackInterval   duration `toml:"fallback_interval"`
}

// EngineConfig holds paper-execution parameters.
type EngineConfig struct {
	InitialBalance float64  `toml:"initial_balance"`
	StaleAfter     duration `toml:"stale_after"`
}

// CopyTradeConfig holds copy-trading parameters and the tracked users.
type CopyTradeConfig struct {
	Enabled             bool            `toml:"enabled"`
	PollInterval        duration        `toml:"poll_interval"`
	ActivityLimit       int             `toml:"activity_limit"`
	WindowSize          int             `toml:"window_size"`
	MinTradeSize        float64         `toml:"min_trade_size"`
	MaxTradeSize        float64         `toml:"max_trade_size"`
	MinVolumeForScaling float64         `toml:"min_volume_for_scaling"`
	MetadataTTL         duration        `toml:"metadata_ttl"`
	Users               []TrackedConfig `toml:"users"`
}

// TrackedConfig is one copy-trading source wallet.
type TrackedConfig struct {
	Address string `toml:"address"`
	Label   string `toml:"label"`
}

// RateLimitConfig bounds outbound Polymarket REST requests.
type RateLimitConfig struct {
	Requests int      `toml:"requests"`
	Window   duration `toml:"window"`
}

// PostgresConfig holds PostgreSQL connection parameters. An empty DSN with an
// empty host disables persistence.
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

// Enabled reports whether a Postgres connection is configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.DSN) != "" || p.Host != ""
}

// RedisConfig holds Redis connection parameters. An empty addr disables the
// metadata cache and signal bus fan-out.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
}

// Enabled reports whether a Redis connection is configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// S3Config holds S3-compatible object storage parameters for the trade
// archive. An empty bucket disables archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// Enabled reports whether trade archival is configured.
func (s S3Config) Enabled() bool {
	return s.Bucket != ""
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
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
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			WsHost:    "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			GammaHost: "https://gamma-api.polymarket.com",
			DataHost:  "https://data-api.polymarket.com",
		},
		Arbitrage: ArbitrageConfig{
			Enabled:            true,
			MinProfitThreshold: 0.01,
			FeeBuffer:          0.02,
			SafetyMargin:       0.005,
			MaxPositionSize:    100.0,
			DebounceWindow:     duration{100 * time.Millisecond},
			FallbackInterval:   duration{5 * time.Second},
		},
		Engine: EngineConfig{
			InitialBalance: 1000.0,
			StaleAfter:     duration{30 * time.Second},
		},
		CopyTrade: CopyTradeConfig{
			Enabled:             false,
			PollInterval:        duration{5 * time.Second},
			ActivityLimit:       20,
			WindowSize:          20,
			MinTradeSize:        1.0,
			MaxTradeSize:        25.0,
			MinVolumeForScaling: 10.0,
			MetadataTTL:         duration{60 * time.Second},
		},
		RateLimit: RateLimitConfig{
			Requests: 10,
			Window:   duration{time.Second},
		},
		Postgres: PostgresConfig{
			Port:          5432,
			Database:      "polymirror",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region: "us-east-1",
			Prefix: "trades",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		LogLevel: "info",
	}
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

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Polymarket endpoints
	if c.Polymarket.WsHost == "" {
		errs = append(errs, "polymarket: ws_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.CopyTrade.Enabled && c.Polymarket.DataHost == "" {
		errs = append(errs, "polymarket: data_host is required when copytrade is enabled")
	}

	// Markets
	for i, m := range c.Markets {
		if m.MarketID == "" {
			errs = append(errs, fmt.Sprintf("markets[%d]: market_id must not be empty", i))
		}
		if m.YesAssetID == "" && m.NoAssetID == "" {
			errs = append(errs, fmt.Sprintf("markets[%d]: at least one of yes_asset_id, no_asset_id must be set", i))
		}
	}

	// Arbitrage
	if c.Arbitrage.Enabled {
		if c.Arbitrage.MinProfitThreshold <= 0 {
			errs = append(errs, "arbitrage: min_profit_threshold must be > 0 when enabled")
		}
		if c.Arbitrage.FeeBuffer < 0 {
			errs = append(errs, "arbitrage: fee_buffer must be >= 0")
		}
		if c.Arbitrage.SafetyMargin < 0 {
			errs = append(errs, "arbitrage: safety_margin must be >= 0")
		}
		if c.Arbitrage.MaxPositionSize <= 0 {
			errs = append(errs, "arbitrage: max_position_size must be > 0 when enabled")
		}
	}

	// Engine
	if c.Engine.InitialBalance <= 0 {
		errs = append(errs, "engine: initial_balance must be > 0")
	}
	if c.Engine.StaleAfter.Duration <= 0 {
		errs = append(errs, "engine: stale_after must be > 0")
	}

	// CopyTrade
	if c.CopyTrade.Enabled {
		if c.CopyTrade.WindowSize < 1 {
			errs = append(errs, "copytrade: window_size must be >= 1")
		}
		if c.CopyTrade.MinTradeSize <= 0 {
			errs = append(errs, "copytrade: min_trade_size must be > 0")
		}
		if c.CopyTrade.MaxTradeSize < c.CopyTrade.MinTradeSize {
			errs = append(errs, "copytrade: max_trade_size must be >= min_trade_size")
		}
		if c.CopyTrade.MinVolumeForScaling < 0 {
			errs = append(errs, "copytrade: min_volume_for_scaling must be >= 0")
		}
	}

	// Rate limit
	if c.RateLimit.Requests < 1 {
		errs = append(errs, "rate_limit: requests must be >= 1")
	}
	if c.RateLimit.Window.Duration <= 0 {
		errs = append(errs, "rate_limit: window must be > 0")
	}

	// Postgres (when configured)
	if c.Postgres.Enabled() && strings.TrimSpace(c.Postgres.DSN) == "" {
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
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
	}

	// S3 (when configured)
	if c.S3.Enabled() && c.S3.Region == "" {
		errs = append(errs, "s3: region must not be empty")
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
