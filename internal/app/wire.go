package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/polysettle/internal/blob/s3"
	"github.com/alanyoungcy/polysettle/internal/cache/redis"
	"github.com/alanyoungcy/polysettle/internal/config"
	"github.com/alanyoungcy/polysettle/internal/domain"
	"github.com/alanyoungcy/polysettle/internal/engine"
	"github.com/alanyoungcy/polysettle/internal/notify"
	"github.com/alanyoungcy/polysettle/internal/oracle"
	"github.com/alanyoungcy/polysettle/internal/server/handler"
	"github.com/alanyoungcy/polysettle/internal/store/memory"
	"github.com/alanyoungcy/polysettle/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Ledger and logs
	Ledger        domain.Ledger
	ArchiveSource domain.ArchiveSource
	AuditStore    domain.AuditStore

	// Prices: PriceCache is written by publication, Prices is read by the
	// engine.
	PriceCache domain.PriceCache
	Prices     domain.PriceSource

	// Coordination
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter     domain.BlobWriter
	BlobReader     domain.BlobReader
	Archiver       domain.Archiver
	ArchiveBrowser domain.ArchiveBrowser

	// Postgres is set for the postgres backend; migrate mode uses it.
	Postgres *postgres.Client

	// Notifications
	Notifier *notify.Notifier

	// HealthChecks probe every external dependency.
	HealthChecks map[string]handler.HealthCheck
}

// needsRedis returns true when the mode serves traffic against shared state.
func needsRedis(cfg *config.Config) bool {
	return cfg.Storage.Backend == "postgres" && strings.ToLower(cfg.Mode) == "serve"
}

// needsS3 returns true when the mode writes the archive.
func needsS3(cfg *config.Config) bool {
	mode := strings.ToLower(cfg.Mode)
	return mode == "archive" || (mode == "serve" && cfg.Archive.Enabled)
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{HealthChecks: make(map[string]handler.HealthCheck)}

	switch cfg.Storage.Backend {
	case "memory":
		ledger := memory.NewLedger()
		prices := oracle.NewStaticSource()
		deps.Ledger = ledger
		deps.ArchiveSource = ledger
		deps.AuditStore = memory.NewAuditStore()
		deps.PriceCache = prices
		deps.Prices = prices
		deps.LockManager = memory.NewLockManager()
		deps.SignalBus = memory.NewSignalBus()
		logger.WarnContext(ctx, "wire: memory backend, state is lost on restart")

	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:             cfg.Postgres.DSN,
			Host:            cfg.Postgres.Host,
			Port:            cfg.Postgres.Port,
			Database:        cfg.Postgres.Database,
			User:            cfg.Postgres.User,
			Password:        cfg.Postgres.Password,
			SSLMode:         cfg.Postgres.SSLMode,
			MaxConns:        cfg.Postgres.PoolMaxConns,
			MinConns:        cfg.Postgres.PoolMinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime.Duration,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)
		deps.Postgres = pgClient
		deps.HealthChecks["postgres"] = pgClient.Ping

		// Run migrations if enabled. Migrate mode applies them itself.
		if cfg.Postgres.RunMigrations && strings.ToLower(cfg.Mode) != "migrate" {
			applied, err := pgClient.RunMigrations(ctx)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
			if len(applied) > 0 {
				logger.InfoContext(ctx, "wire: migrations applied", slog.Any("files", applied))
			}
		}

		pool := pgClient.Pool()
		ledger := postgres.NewLedger(pool)
		deps.Ledger = ledger
		deps.ArchiveSource = ledger
		deps.AuditStore = postgres.NewAuditStore(pool)

	default:
		return nil, nil, fmt.Errorf("wire: unknown storage backend %q", cfg.Storage.Backend)
	}

	// --- Redis (shared coordination for the postgres backend) ---
	if needsRedis(cfg) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("wire: close redis", slog.String("error", err.Error()))
			}
		})
		deps.HealthChecks["redis"] = redisClient.Ping

		priceCache := redis.NewPriceCache(redisClient)
		deps.PriceCache = priceCache
		deps.Prices = oracle.NewCachedSource(priceCache)
		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.MarketCacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	} else if deps.SignalBus == nil {
		// Batch modes publish nothing; keep the interfaces satisfied.
		prices := oracle.NewStaticSource()
		deps.PriceCache = prices
		deps.Prices = prices
		deps.LockManager = memory.NewLockManager()
		deps.SignalBus = memory.NewSignalBus()
	}

	// --- S3 blob storage (only for modes that archive) ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.HealthChecks["s3"] = s3Client.Health

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		archiver := s3blob.NewArchiver(deps.ArchiveSource, deps.BlobWriter, deps.BlobReader, deps.AuditStore)
		deps.Archiver = archiver
		deps.ArchiveBrowser = archiver
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// PolicyFromConfig builds the engine policy from the [engine] section.
func PolicyFromConfig(cfg config.EngineConfig) (engine.Policy, error) {
	var errs []error
	if !common.IsHexAddress(cfg.Admin) {
		errs = append(errs, fmt.Errorf("admin %q is not a hex address", cfg.Admin))
	}
	if !common.IsHexAddress(cfg.TeamWallet) {
		errs = append(errs, fmt.Errorf("team_wallet %q is not a hex address", cfg.TeamWallet))
	}
	if err := errors.Join(errs...); err != nil {
		return engine.Policy{}, fmt.Errorf("app: engine policy: %w", err)
	}

	p := engine.Policy{
		Admin:            common.HexToAddress(cfg.Admin),
		TeamWallet:       common.HexToAddress(cfg.TeamWallet),
		MinBet:           cfg.MinBet,
		FeeBps:           cfg.FeeBps,
		FeeDelay:         cfg.FeeDelay.Duration,
		CreationFee:      cfg.CreationFee,
		TransferOverhead: cfg.TransferOverhead,
		MaxPriceAge:      cfg.MaxPriceAge.Duration,
		TieBreak:         engine.TieBreak(cfg.TieBreak),
		EmptyWinner:      engine.EmptyWinnerPolicy(cfg.EmptyWinnerPolicy),
	}
	if err := p.Validate(); err != nil {
		return engine.Policy{}, fmt.Errorf("app: engine policy: %w", err)
	}
	return p, nil
}
