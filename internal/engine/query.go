package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polysettle/internal/address"
	"github.com/alanyoungcy/polysettle/internal/curve"
	"github.com/alanyoungcy/polysettle/internal/domain"
)

// Market returns the market stored at addr.
func (e *Engine) Market(ctx context.Context, addr domain.Address) (domain.Market, error) {
	var m domain.Market
	err := e.ledger.View(ctx, func(tx domain.LedgerTx) error {
		var err error
		m, err = tx.GetMarket(ctx, addr)
		return notFoundAs(err, domain.ErrMarketNotFound)
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: market %s: %w", addr, err)
	}
	return m, nil
}

// Position returns user's position in market.
func (e *Engine) Position(ctx context.Context, market domain.Address, user common.Address) (domain.Position, error) {
	addr := address.Position(market, user)
	var p domain.Position
	err := e.ledger.View(ctx, func(tx domain.LedgerTx) error {
		var err error
		p, err = tx.GetPosition(ctx, addr)
		return notFoundAs(err, domain.ErrPositionNotFound)
	})
	if err != nil {
		return domain.Position{}, fmt.Errorf("engine: position %s: %w", addr, err)
	}
	return p, nil
}

// Oracle returns the binding stored at addr.
func (e *Engine) Oracle(ctx context.Context, addr domain.Address) (domain.OracleBinding, error) {
	var o domain.OracleBinding
	err := e.ledger.View(ctx, func(tx domain.LedgerTx) error {
		var err error
		o, err = tx.GetOracle(ctx, addr)
		return notFoundAs(err, domain.ErrOracleNotFound)
	})
	if err != nil {
		return domain.OracleBinding{}, fmt.Errorf("engine: oracle %s: %w", addr, err)
	}
	return o, nil
}

// Balance returns owner's available balance. Unknown owners hold zero.
func (e *Engine) Balance(ctx context.Context, owner common.Address) (uint64, error) {
	var bal uint64
	err := e.ledger.View(ctx, func(tx domain.LedgerTx) error {
		var err error
		bal, err = tx.Balance(ctx, owner)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("engine: balance %s: %w", owner.Hex(), err)
	}
	return bal, nil
}

// Quote reports the shares a bet of amount would receive and the amount the
// caller needs available to place it.
func (e *Engine) Quote(amount uint64) (shares, required uint64, err error) {
	shares, err = curve.Shares(amount)
	if err != nil {
		return 0, 0, fmt.Errorf("engine: quote %d: %w", amount, err)
	}
	return shares, amount + e.policy.TransferOverhead, nil
}
