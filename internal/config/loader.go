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
// built-in defaults, applies POLYMIRROR_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
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

// applyEnvOverrides reads well-known POLYMIRROR_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Polymarket ──
	setStr(&cfg.Polymarket.WsHost, "POLYMIRROR_POLYMARKET_WS_HOST")
	setStr(&cfg.Polymarket.GammaHost, "POLYMIRROR_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.DataHost, "POLYMIRROR_POLYMARKET_DATA_HOST")

	// ── Arbitrage ──
	setBool(&cfg.Arbitrage.Enabled, "POLYMIRROR_ARBITRAGE_ENABLED")
	setFloat64(&cfg.Arbitrage.MinProfitThreshold, "POLYMIRROR_ARBITRAGE_MIN_PROFIT_THRESHOLD")
	setFloat64(&cfg.Arbitrage.FeeBuffer, "POLYMIRROR_ARBITRAGE_FEE_BUFFER")
	setFloat64(&cfg.Arbitrage.SafetyMargin, "POLYMIRROR_ARBITRAGE_SAFETY_MARGIN")
	setFloat64(&cfg.Arbitrage.MaxPositionSize, "POLYMIRROR_ARBITRAGE_MAX_POSITION_SIZE")
	setDuration(&cfg.Arbitrage.DebounceWindow, "POLYMIRROR_ARBITRAGE_DEBOUNCE_WINDOW")
	setDuration(&cfg.Arbitrage.FallbackInterval, "POLYMIRROR_ARBITRAGE_FALLBACK_INTERVAL")

	// ── Engine ──
	setFloat64(&cfg.Engine.InitialBalance, "POLYMIRROR_ENGINE_INITIAL_BALANCE")
	setDuration(&cfg.Engine.StaleAfter, "POLYMIRROR_ENGINE_STALE_AFTER")

	// ── CopyTrade ──
	setBool(&cfg.CopyTrade.Enabled, "POLYMIRROR_COPYTRADE_ENABLED")
	setDuration(&cfg.CopyTrade.PollInterval, "POLYMIRROR_COPYTRADE_POLL_INTERVAL")
	setInt(&cfg.CopyTrade.ActivityLimit, "POLYMIRROR_COPYTRADE_ACTIVITY_LIMIT")
	setInt(&cfg.CopyTrade.WindowSize, "POLYMIRROR_COPYTRADE_WINDOW_SIZE")
	setFloat64(&cfg.CopyTrade.MinTradeSize, "POLYMIRROR_COPYTRADE_MIN_TRADE_SIZE")
	setFloat64(&cfg.CopyTrade.MaxTradeSize, "POLYMIRROR_COPYTRADE_MAX_TRADE_SIZE")
	setFloat64(&cfg.CopyTrade.MinVolumeForScaling, "POLYMIRROR_COPYTRADE_MIN_VOLUME_FOR_SCALING")
	setDuration(&cfg.CopyTrade.MetadataTTL, "POLYMIRROR_COPYTRADE_METADATA_TTL")

	// ── Rate limit ──
	setInt(&cfg.RateLimit.Requests, "POLYMIRROR_RATE_LIMIT_REQUESTS")
	setDuration(&cfg.RateLimit.Window, "POLYMIRROR_RATE_LIMIT_WINDOW")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POLYMIRROR_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POLYMIRROR_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYMIRROR_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYMIRROR_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYMIRROR_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYMIRROR_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYMIRROR_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYMIRROR_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYMIRROR_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYMIRROR_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLYMIRROR_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYMIRROR_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYMIRROR_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYMIRROR_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYMIRROR_REDIS_MAX_RETRIES")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POLYMIRROR_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYMIRROR_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYMIRROR_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "POLYMIRROR_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "POLYMIRROR_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYMIRROR_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "POLYMIRROR_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POLYMIRROR_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POLYMIRROR_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "POLYMIRROR_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYMIRROR_SERVER_CORS_ORIGINS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "POLYMIRROR_LOG_LEVEL")
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
