// Package config defines the top-level configuration for dcagraph and
// provides validation helpers.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/dcagraph/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DCAGRAPH_* environment variables.
type Config struct {
	Subgraph SubgraphConfig `toml:"subgraph"`
	Prices   PricesConfig   `toml:"prices"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Sync     SyncConfig     `toml:"sync"`
	Server   ServerConfig   `toml:"server"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// SubgraphConfig holds the per-chain DCA subgraph endpoints. URLs is keyed by
// the decimal chain id, e.g. "10" for Optimism.
type SubgraphConfig struct {
	URLs     map[string]string `toml:"urls"`
	APIKey   string            `toml:"api_key"`
	PageSize   int               `toml:"page_size"`
	Timeout    duration          `toml:"timeout"`
	MaxRetries int               `toml:"max_retries"`
}

// ChainURLs returns URLs keyed by numeric chain id. Keys that do not parse
// are skipped; Validate reports them.
func (s SubgraphConfig) ChainURLs() map[int64]string {
	out := make(map[int64]string, len(s.URLs))
	for k, v := range s.URLs {
		id, err := strconv.ParseInt(strings.TrimSpace(k), 10, 64)
		if err != nil {
			continue
		}
		out[id] = v
	}
	return out
}

// PricesConfig holds the historical price API parameters.
type PricesConfig struct {
	BaseURL    string   `toml:"base_url"`
	Timeout    duration `toml:"timeout"`
	MaxRetries int      `toml:"max_retries"`
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
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	PriceTTL   duration `toml:"price_ttl"`
	LockTTL    duration `toml:"lock_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// SyncConfig drives the background refresher.
type SyncConfig struct {
	Enabled     bool     `toml:"enabled"`
	Interval    duration `toml:"interval"`
	Tracked     []string `toml:"tracked"`
	Archive     bool     `toml:"archive"`
	Concurrency int      `toml:"concurrency"`
	StaleAfter  duration `toml:"stale_after"`
	BatchSize   int      `toml:"batch_size"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Subgraph: SubgraphConfig{
			URLs:     map[string]string{},
			PageSize:   1000,
			Timeout:    duration{15 * time.Second},
			MaxRetries: 3,
		},
		Prices: PricesConfig{
			BaseURL:    "https://coins.llama.fi",
			Timeout:    duration{10 * time.Second},
			MaxRetries: 3,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "dcagraph",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			PriceTTL:   duration{7 * 24 * time.Hour},
			LockTTL:    duration{30 * time.Second},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "dcagraph-snapshots",
			ForcePathStyle: true,
		},
		Sync: SyncConfig{
			Enabled:     true,
			Interval:    duration{5 * time.Minute},
			Concurrency: 4,
			StaleAfter:  duration{time.Hour},
			BatchSize:   100,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"sync":   true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, sync, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Subgraph
	if len(c.Subgraph.URLs) == 0 {
		errs = append(errs, "subgraph: at least one chain url must be configured")
	}
	for chain, url := range c.Subgraph.URLs {
		if _, err := strconv.ParseInt(strings.TrimSpace(chain), 10, 64); err != nil {
			errs = append(errs, fmt.Sprintf("subgraph: chain id %q is not numeric", chain))
		}
		if strings.TrimSpace(url) == "" {
			errs = append(errs, fmt.Sprintf("subgraph: url for chain %s must not be empty", chain))
		}
	}
	if c.Subgraph.PageSize < 1 || c.Subgraph.PageSize > 1000 {
		errs = append(errs, fmt.Sprintf("subgraph: page_size must be 1-1000, got %d", c.Subgraph.PageSize))
	}

	if c.Subgraph.MaxRetries < 0 {
		errs = append(errs, "subgraph: max_retries must be >= 0")
	}

	// Prices
	if c.Prices.BaseURL == "" {
		errs = append(errs, "prices: base_url must not be empty")
	}
	if c.Prices.MaxRetries < 0 {
		errs = append(errs, "prices: max_retries must be >= 0")
	}

	// Postgres
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
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if c.Redis.LockTTL.Duration <= 0 {
		errs = append(errs, "redis: lock_ttl must be > 0")
	}

	// S3
	if c.S3.Enabled || c.Sync.Archive {
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}
	if c.Sync.Archive && !c.S3.Enabled {
		errs = append(errs, "sync: archive requires s3.enabled")
	}

	// Sync
	needsSync := c.Mode == "sync" || (c.Mode == "full" && c.Sync.Enabled)
	if needsSync {
		if c.Sync.Interval.Duration <= 0 {
			errs = append(errs, "sync: interval must be > 0")
		}
		if c.Sync.Concurrency < 1 {
			errs = append(errs, "sync: concurrency must be >= 1")
		}
		if c.Sync.BatchSize < 0 {
			errs = append(errs, "sync: batch_size must be >= 0")
		}
	}
	for _, raw := range c.Sync.Tracked {
		if _, err := domain.ParsePositionKey(raw); err != nil {
			errs = append(errs, fmt.Sprintf("sync: tracked position %q: %v", raw, err))
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
