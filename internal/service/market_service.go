package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polysettle/internal/domain"
	"github.com/alanyoungcy/polysettle/internal/engine"
)

// QuoteResult is the share preview for a bet amount.
type QuoteResult struct {
	Amount   uint64 `json:"amount"`
	Shares   uint64 `json:"shares"`
	Required uint64 `json:"required"`
}

// MarketService serves read-only lookups of markets, positions, bindings,
// balances and the audit log.
type MarketService struct {
	engine *engine.Engine
	cache  domain.MarketCache
	audit  domain.AuditStore
	prices domain.PriceCache
	logger *slog.Logger
}

// NewMarketService creates a MarketService. cache may be nil.
func NewMarketService(
	eng *engine.Engine,
	cache domain.MarketCache,
	audit domain.AuditStore,
	prices domain.PriceCache,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		engine: eng,
		cache:  cache,
		audit:  audit,
		prices: prices,
		logger: logger,
	}
}

// GetMarket retrieves a market, checking the cache first and falling back to
// the ledger on a miss.
func (s *MarketService) GetMarket(ctx context.Context, addr domain.Address) (domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, addr); err == nil {
			return m, nil
		}
	}

	m, err := s.engine.Market(ctx, addr)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get market: %w", err)
	}

	// Back-fill cache; log but do not fail on cache write errors.
	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, m); cacheErr != nil {
			s.logger.WarnContext(ctx, "market_service: cache set failed",
				slog.String("market", addr.Hex()),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return m, nil
}

// GetPosition returns user's position in market.
func (s *MarketService) GetPosition(ctx context.Context, market domain.Address, user common.Address) (domain.Position, error) {
	p, err := s.engine.Position(ctx, market, user)
	if err != nil {
		return domain.Position{}, fmt.Errorf("market_service: get position: %w", err)
	}
	return p, nil
}

// GetOracle returns an oracle binding.
func (s *MarketService) GetOracle(ctx context.Context, addr domain.Address) (domain.OracleBinding, error) {
	o, err := s.engine.Oracle(ctx, addr)
	if err != nil {
		return domain.OracleBinding{}, fmt.Errorf("market_service: get oracle: %w", err)
	}
	return o, nil
}

// GetPrice returns the latest published reading for reference.
func (s *MarketService) GetPrice(ctx context.Context, reference string) (domain.Price, error) {
	p, err := s.prices.GetPrice(ctx, reference)
	if err != nil {
		return domain.Price{}, fmt.Errorf("market_service: get price: %w", err)
	}
	return p, nil
}

// Balance returns owner's available balance.
func (s *MarketService) Balance(ctx context.Context, owner common.Address) (uint64, error) {
	b, err := s.engine.Balance(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("market_service: balance: %w", err)
	}
	return b, nil
}

// Quote previews the shares a bet of amount would receive.
func (s *MarketService) Quote(amount uint64) (QuoteResult, error) {
	shares, required, err := s.engine.Quote(amount)
	if err != nil {
		return QuoteResult{}, fmt.Errorf("market_service: quote: %w", err)
	}
	return QuoteResult{Amount: amount, Shares: shares, Required: required}, nil
}

// ListAudit returns audit entries newest first.
func (s *MarketService) ListAudit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	entries, err := s.audit.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list audit: %w", err)
	}
	return entries, nil
}
