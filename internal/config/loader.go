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
// built-in defaults, applies DCAGRAPH_* environment variable overrides, and
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

// applyEnvOverrides reads well-known DCAGRAPH_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty).
func applyEnvOverrides(cfg *Config) {
	// ── Subgraph ──
	setStringMap(&cfg.Subgraph.URLs, "DCAGRAPH_SUBGRAPH_URLS")
	setStr(&cfg.Subgraph.APIKey, "DCAGRAPH_SUBGRAPH_API_KEY")
	setInt(&cfg.Subgraph.PageSize, "DCAGRAPH_SUBGRAPH_PAGE_SIZE")
	setDuration(&cfg.Subgraph.Timeout, "DCAGRAPH_SUBGRAPH_TIMEOUT")
	setInt(&cfg.Subgraph.MaxRetries, "DCAGRAPH_SUBGRAPH_MAX_RETRIES")

	// ── Prices ──
	setStr(&cfg.Prices.BaseURL, "DCAGRAPH_PRICES_BASE_URL")
	setDuration(&cfg.Prices.Timeout, "DCAGRAPH_PRICES_TIMEOUT")
	setInt(&cfg.Prices.MaxRetries, "DCAGRAPH_PRICES_MAX_RETRIES")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DCAGRAPH_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "DCAGRAPH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DCAGRAPH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DCAGRAPH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DCAGRAPH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DCAGRAPH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DCAGRAPH_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DCAGRAPH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DCAGRAPH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DCAGRAPH_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "DCAGRAPH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DCAGRAPH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DCAGRAPH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DCAGRAPH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DCAGRAPH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DCAGRAPH_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.PriceTTL, "DCAGRAPH_REDIS_PRICE_TTL")
	setDuration(&cfg.Redis.LockTTL, "DCAGRAPH_REDIS_LOCK_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "DCAGRAPH_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "DCAGRAPH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DCAGRAPH_S3_REGION")
	setStr(&cfg.S3.Bucket, "DCAGRAPH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DCAGRAPH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DCAGRAPH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DCAGRAPH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DCAGRAPH_S3_FORCE_PATH_STYLE")

	// ── Sync ──
	setBool(&cfg.Sync.Enabled, "DCAGRAPH_SYNC_ENABLED")
	setDuration(&cfg.Sync.Interval, "DCAGRAPH_SYNC_INTERVAL")
	setStringSlice(&cfg.Sync.Tracked, "DCAGRAPH_SYNC_TRACKED")
	setBool(&cfg.Sync.Archive, "DCAGRAPH_SYNC_ARCHIVE")
	setInt(&cfg.Sync.Concurrency, "DCAGRAPH_SYNC_CONCURRENCY")
	setDuration(&cfg.Sync.StaleAfter, "DCAGRAPH_SYNC_STALE_AFTER")
	setInt(&cfg.Sync.BatchSize, "DCAGRAPH_SYNC_BATCH_SIZE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "DCAGRAPH_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "DCAGRAPH_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "DCAGRAPH_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "DCAGRAPH_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "DCAGRAPH_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "DCAGRAPH_SERVER_RATE_WINDOW")

	// ── Top-level ──
	setStr(&cfg.Mode, "DCAGRAPH_MODE")
	setStr(&cfg.LogLevel, "DCAGRAPH_LOG_LEVEL")
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

// setStringMap parses "k1=v1,k2=v2" into dst, replacing it entirely.
func setStringMap(dst *map[string]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(v, ",") {
		k, val, ok := strings.Cut(pair, "=")
		k, val = strings.TrimSpace(k), strings.TrimSpace(val)
		if !ok || k == "" || val == "" {
			continue
		}
		out[k] = val
	}
	if len(out) > 0 {
		*dst = out
	}
}
