package handler

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polysettle/internal/domain"
	"github.com/alanyoungcy/polysettle/internal/engine"
	"github.com/alanyoungcy/polysettle/internal/service"
)

// SettlementService defines the state transitions the handlers invoke. It is
// declared locally so the handler package does not depend on the concrete
// service implementation.
type SettlementService interface {
	RegisterOracle(ctx context.Context, caller common.Address, reference string) (domain.OracleBinding, error)
	PublishPrice(ctx context.Context, caller common.Address, reference string, value int64, expo int32) (domain.Price, error)
	CreateMarket(ctx context.Context, caller common.Address, params engine.CreateMarketParams) (domain.Market, error)
	EnrollPosition(ctx context.Context, caller common.Address, market domain.Address) (domain.Position, error)
	PlaceBet(ctx context.Context, caller common.Address, market domain.Address, amount uint64, outcome domain.Outcome) (engine.BetReceipt, error)
	ResolveMarket(ctx context.Context, caller common.Address, market domain.Address) (domain.Market, error)
	ClaimWinnings(ctx context.Context, caller common.Address, market domain.Address) (engine.ClaimReceipt, error)
	WithdrawFee(ctx context.Context, caller common.Address, market domain.Address) (engine.FeeReceipt, error)
	Fund(ctx context.Context, caller, owner common.Address, amount uint64) (uint64, error)
}

// ReadService defines the lookups the handlers serve.
type ReadService interface {
	GetMarket(ctx context.Context, addr domain.Address) (domain.Market, error)
	GetPosition(ctx context.Context, market domain.Address, user common.Address) (domain.Position, error)
	GetOracle(ctx context.Context, addr domain.Address) (domain.OracleBinding, error)
	GetPrice(ctx context.Context, reference string) (domain.Price, error)
	Balance(ctx context.Context, owner common.Address) (uint64, error)
	Quote(amount uint64) (service.QuoteResult, error)
	ListAudit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

var (
	_ SettlementService = (*service.SettlementService)(nil)
	_ ReadService       = (*service.MarketService)(nil)
)
