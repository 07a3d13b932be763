// Package server exposes the settlement service over HTTP and websockets.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/polysettle/internal/domain"
	"github.com/alanyoungcy/polysettle/internal/instrumentation"
	"github.com/alanyoungcy/polysettle/internal/server/handler"
	"github.com/alanyoungcy/polysettle/internal/server/middleware"
	"github.com/alanyoungcy/polysettle/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr         string
	CORSOrigins  []string
	MaxClockSkew time.Duration
	RateLimit    int
	RateWindow   time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Oracles   *handler.OracleHandler
	Markets   *handler.MarketHandler
	Positions *handler.PositionHandler
	Accounts  *handler.AccountHandler
	Query     *handler.QueryHandler
	// Archive is nil when no archive store is configured.
	Archive *handler.ArchiveHandler
}

// Deps are the optional collaborators of the middleware chain.
type Deps struct {
	Replay   *middleware.ReplayGuard
	Limiter  domain.RateLimiter
	Metrics  *instrumentation.Metrics
	Gatherer prometheus.Gatherer
	Hub      *ws.Hub
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain.
func NewServer(cfg Config, handlers Handlers, deps Deps, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           NewHandler(cfg, handlers, deps, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed and wrapped http.Handler.
func NewHandler(cfg Config, handlers Handlers, deps Deps, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	signed := middleware.Signature(middleware.SignatureConfig{
		MaxClockSkew: cfg.MaxClockSkew,
		Replay:       deps.Replay,
	})
	post := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, signed(h))
	}

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	// Reads.
	mux.HandleFunc("GET /api/quote", handlers.Query.Quote)
	mux.HandleFunc("GET /api/address/oracle", handlers.Query.OracleAddress)
	mux.HandleFunc("GET /api/address/market", handlers.Query.MarketAddress)
	mux.HandleFunc("GET /api/address/position", handlers.Query.PositionAddress)
	mux.HandleFunc("GET /api/oracles/{address}", handlers.Oracles.Get)
	mux.HandleFunc("GET /api/oracles/{reference}/price", handlers.Oracles.GetPrice)
	mux.HandleFunc("GET /api/markets/{address}", handlers.Markets.Get)
	mux.HandleFunc("GET /api/markets/{address}/positions/{user}", handlers.Positions.Get)
	mux.HandleFunc("GET /api/accounts/{owner}", handlers.Accounts.Get)
	mux.HandleFunc("GET /api/audit", handlers.Query.Audit)
	if handlers.Archive != nil {
		mux.HandleFunc("GET /api/archive", handlers.Archive.List)
		mux.HandleFunc("GET /api/archive/{month}", handlers.Archive.Get)
	}

	// Signed transitions.
	post("POST /api/oracles", handlers.Oracles.Register)
	post("PUT /api/oracles/{reference}/price", handlers.Oracles.PublishPrice)
	post("POST /api/markets", handlers.Markets.Create)
	post("POST /api/markets/{address}/positions", handlers.Positions.Enroll)
	post("POST /api/markets/{address}/bets", handlers.Positions.Bet)
	post("POST /api/markets/{address}/resolve", handlers.Markets.Resolve)
	post("POST /api/markets/{address}/claim", handlers.Positions.Claim)
	post("POST /api/markets/{address}/fee", handlers.Markets.WithdrawFee)
	post("POST /api/accounts/{owner}/fund", handlers.Accounts.Fund)

	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	h = middleware.Logging(logger, deps.Metrics)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
