package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polysettle/internal/engine"
	"github.com/alanyoungcy/polysettle/internal/instrumentation"
	"github.com/alanyoungcy/polysettle/internal/pipeline"
	"github.com/alanyoungcy/polysettle/internal/server"
	"github.com/alanyoungcy/polysettle/internal/server/handler"
	"github.com/alanyoungcy/polysettle/internal/server/middleware"
	"github.com/alanyoungcy/polysettle/internal/server/ws"
	"github.com/alanyoungcy/polysettle/internal/service"
)

// replayCleanupInterval is how often expired request signatures are dropped.
const replayCleanupInterval = time.Minute

// ServeMode runs the HTTP API, the websocket hub, the replay guard janitor
// and, when enabled, the archive schedule until ctx is cancelled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting serve mode")

	policy, err := PolicyFromConfig(a.cfg.Engine)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := instrumentation.NewMetrics(reg)

	eng := engine.New(deps.Ledger, deps.Prices, nil, policy)
	settlement := service.NewSettlementService(service.SettlementDeps{
		Engine:   eng,
		Locks:    deps.LockManager,
		Bus:      deps.SignalBus,
		Audit:    deps.AuditStore,
		Prices:   deps.PriceCache,
		Cache:    deps.MarketCache,
		Notifier: deps.Notifier,
		Metrics:  metrics,
		LockTTL:  a.cfg.Engine.LockTTL.Duration,
	}, a.logger)
	reads := service.NewMarketService(eng, deps.MarketCache, deps.AuditStore, deps.PriceCache, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(deps.SignalBus, metrics, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	replay := middleware.NewReplayGuard(a.cfg.Server.ReplayTTL.Duration)
	g.Go(func() error {
		return replay.Run(ctx, replayCleanupInterval)
	})

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.Retention.Duration, a.logger).WithMetrics(metrics)
		g.Go(func() error {
			return archiver.RunCron(ctx, a.cfg.Archive.Cron)
		})
	}

	var gatherer prometheus.Gatherer
	if a.cfg.Metrics.Enabled {
		gatherer = reg
	}
	var archive *handler.ArchiveHandler
	if deps.ArchiveBrowser != nil {
		archive = handler.NewArchiveHandler(deps.ArchiveBrowser, a.logger)
	}

	srv := server.NewServer(server.Config{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		MaxClockSkew: a.cfg.Server.MaxClockSkew.Duration,
		RateLimit:    a.cfg.Server.RateLimit,
		RateWindow:   a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Oracles:   handler.NewOracleHandler(settlement, reads, a.logger),
		Markets:   handler.NewMarketHandler(settlement, reads, a.logger),
		Positions: handler.NewPositionHandler(settlement, reads, a.logger),
		Accounts:  handler.NewAccountHandler(settlement, reads, a.logger),
		Query:     handler.NewQueryHandler(reads, a.logger),
		Archive:   archive,
	}, server.Deps{
		Replay:   replay,
		Limiter:  deps.RateLimiter,
		Metrics:  metrics,
		Gatherer: gatherer,
		Hub:      hub,
	}, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// ArchiveMode performs one archive run and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting archive mode")
	if deps.Archiver == nil {
		return errors.New("app: archive mode: no archiver configured")
	}

	archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.Retention.Duration, a.logger)
	n, err := archiver.Run(ctx)
	if err != nil {
		return fmt.Errorf("app: archive mode: %w", err)
	}
	a.logger.InfoContext(ctx, "app: archive mode finished", slog.Int64("markets_archived", n))
	return nil
}

// MigrateMode applies pending Postgres migrations and exits.
func (a *App) MigrateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting migrate mode")
	if deps.Postgres == nil {
		return errors.New("app: migrate mode: postgres backend is not configured")
	}

	applied, err := deps.Postgres.RunMigrations(ctx)
	if err != nil {
		return fmt.Errorf("app: migrate mode: %w", err)
	}
	if len(applied) == 0 {
		a.logger.InfoContext(ctx, "app: schema is up to date")
		return nil
	}
	a.logger.InfoContext(ctx, "app: migrations applied", slog.Any("files", applied))
	return nil
}
