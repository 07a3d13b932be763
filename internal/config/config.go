// Package config defines the top-level configuration for the settlement
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYSETTLE_* environment variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Storage  StorageConfig  `toml:"storage"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Key      KeyConfig      `toml:"key"`
	Client   ClientConfig   `toml:"client"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig holds the settlement policy. Amounts are in base units.
type EngineConfig struct {
	Admin             string   `toml:"admin"`
	TeamWallet        string   `toml:"team_wallet"`
	MinBet            uint64   `toml:"min_bet"`
	FeeBps            uint64   `toml:"fee_bps"`
	FeeDelay          duration `toml:"fee_delay"`
	CreationFee       uint64   `toml:"creation_fee"`
	TransferOverhead  uint64   `toml:"transfer_overhead"`
	MaxPriceAge       duration `toml:"max_price_age"`
	TieBreak          string   `toml:"tie_break"`
	EmptyWinnerPolicy string   `toml:"empty_winner_policy"`
	LockTTL           duration `toml:"lock_ttl"`
}

// StorageConfig selects the ledger backend.
type StorageConfig struct {
	// Backend is "memory" or "postgres". The postgres backend also uses
	// Redis for locks, caches and the event bus.
	Backend string `toml:"backend"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN             string   `toml:"dsn"`
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	Database        string   `toml:"database"`
	User            string   `toml:"user"`
	Password        string   `toml:"password"`
	SSLMode         string   `toml:"ssl_mode"`
	PoolMaxConns    int      `toml:"pool_max_conns"`
	PoolMinConns    int      `toml:"pool_min_conns"`
	MaxConnLifetime duration `toml:"max_conn_lifetime"`
	RunMigrations   bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr           string   `toml:"addr"`
	Password       string   `toml:"password"`
	DB             int      `toml:"db"`
	PoolSize       int      `toml:"pool_size"`
	MaxRetries     int      `toml:"max_retries"`
	TLSEnabled     bool     `toml:"tls_enabled"`
	MarketCacheTTL duration `toml:"market_cache_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig schedules the copy of settled markets to S3.
type ArchiveConfig struct {
	Enabled   bool     `toml:"enabled"`
	Cron      string   `toml:"cron"`
	Retention duration `toml:"retention"`
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
	Port         int      `toml:"port"`
	CORSOrigins  []string `toml:"cors_origins"`
	MaxClockSkew duration `toml:"max_clock_skew"`
	ReplayTTL    duration `toml:"replay_ttl"`
	RateLimit    int      `toml:"rate_limit"`
	RateWindow   duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// KeyConfig locates the signing key used by settlectl. PrivateKey wins over
// KeyFile.
type KeyConfig struct {
	PrivateKey string `toml:"private_key"`
	KeyFile    string `toml:"key_file"`
	Password   string `toml:"password"`
}

// ClientConfig points settlectl at a server.
type ClientConfig struct {
	APIURL string `toml:"api_url"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			MinBet:            100_000,
			FeeBps:            500,
			FeeDelay:          duration{7 * 24 * time.Hour},
			CreationFee:       100_000_000,
			TransferOverhead:  5_000,
			MaxPriceAge:       duration{60 * time.Second},
			TieBreak:          "gte",
			EmptyWinnerPolicy: "refund",
			LockTTL:           duration{10 * time.Second},
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "polysettle",
			User:            "postgres",
			SSLMode:         "disable",
			PoolMaxConns:    10,
			PoolMinConns:    2,
			MaxConnLifetime: duration{time.Hour},
			RunMigrations:   true,
		},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			PoolSize:       20,
			MaxRetries:     3,
			MarketCacheTTL: duration{30 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polysettle-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:   false,
			Cron:      "0 3 * * *",
			Retention: duration{30 * 24 * time.Hour},
		},
		Server: ServerConfig{
			Port:         8080,
			CORSOrigins:  []string{"http://localhost:3000"},
			MaxClockSkew: duration{60 * time.Second},
			ReplayTTL:    duration{2 * time.Minute},
			RateLimit:    120,
			RateWindow:   duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"market_created", "market_resolved", "fee_withdrawn"},
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Client: ClientConfig{
			APIURL: "http://localhost:8080",
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"archive": true,
	"migrate": true,
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

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, archive, migrate)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if !common.IsHexAddress(c.Engine.Admin) {
		errs = append(errs, fmt.Sprintf("engine: admin must be a hex address, got %q", c.Engine.Admin))
	}
	if !common.IsHexAddress(c.Engine.TeamWallet) {
		errs = append(errs, fmt.Sprintf("engine: team_wallet must be a hex address, got %q", c.Engine.TeamWallet))
	}
	if c.Engine.MinBet == 0 {
		errs = append(errs, "engine: min_bet must be > 0")
	}
	if c.Engine.FeeBps > 10_000 {
		errs = append(errs, fmt.Sprintf("engine: fee_bps must be <= 10000, got %d", c.Engine.FeeBps))
	}
	if c.Engine.MaxPriceAge.Duration <= 0 {
		errs = append(errs, "engine: max_price_age must be > 0")
	}
	if c.Engine.TieBreak != "gte" && c.Engine.TieBreak != "gt" {
		errs = append(errs, fmt.Sprintf("engine: tie_break must be gte or gt, got %q", c.Engine.TieBreak))
	}
	if c.Engine.EmptyWinnerPolicy != "refund" && c.Engine.EmptyWinnerPolicy != "forfeit" {
		errs = append(errs, fmt.Sprintf("engine: empty_winner_policy must be refund or forfeit, got %q", c.Engine.EmptyWinnerPolicy))
	}
	if c.Engine.LockTTL.Duration <= 0 {
		errs = append(errs, "engine: lock_ttl must be > 0")
	}

	// Storage
	switch c.Storage.Backend {
	case "memory":
		if mode == "migrate" || mode == "archive" {
			errs = append(errs, fmt.Sprintf("storage: mode %s requires the postgres backend", mode))
		}
	case "postgres":
		errs = append(errs, c.validatePostgres()...)
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: memory, postgres)", c.Storage.Backend))
	}

	// Archive
	if c.Archive.Enabled || mode == "archive" {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.Archive.Retention.Duration < 0 {
			errs = append(errs, "archive: retention must be >= 0")
		}
	}
	if c.Archive.Enabled {
		if _, err := cron.ParseStandard(c.Archive.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("archive: invalid cron %q: %v", c.Archive.Cron, err))
		}
	}

	// Server
	if mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.MaxClockSkew.Duration <= 0 {
			errs = append(errs, "server: max_clock_skew must be > 0")
		}
		if c.Server.ReplayTTL.Duration < 2*c.Server.MaxClockSkew.Duration {
			errs = append(errs, "server: replay_ttl must be at least twice max_clock_skew")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validatePostgres() []string {
	var errs []string
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
	return errs
}
