package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polysettle/internal/address"
	"github.com/alanyoungcy/polysettle/internal/domain"
)

// CreateMarketParams are the inputs to CreateMarket.
type CreateMarketParams struct {
	Symbol   string
	Oracle   domain.Address
	Duration time.Duration
}

// CreateMarket opens a market bound to an oracle the caller registered. The
// reference price is captured now and the creation fee is moved from the
// caller to the team wallet.
func (e *Engine) CreateMarket(ctx context.Context, caller common.Address, params CreateMarketParams) (domain.Market, error) {
	if err := e.requireAdmin(caller); err != nil {
		return domain.Market{}, fmt.Errorf("engine: create market: %w", err)
	}
	if len(params.Symbol) == 0 || len(params.Symbol) > maxSymbolLen {
		return domain.Market{}, fmt.Errorf("engine: create market: symbol must be 1..%d bytes: %w",
			maxSymbolLen, domain.ErrInvalidInput)
	}
	if params.Duration < time.Second {
		return domain.Market{}, fmt.Errorf("engine: create market: duration %s: %w", params.Duration, domain.ErrInvalidInput)
	}

	addr, err := address.Market(caller, params.Symbol)
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: create market: %w: %w", err, domain.ErrInvalidInput)
	}

	now := e.clock.Now()
	var market domain.Market
	err = e.ledger.Update(ctx, func(tx domain.LedgerTx) error {
		binding, err := tx.GetOracle(ctx, params.Oracle)
		if err != nil {
			return notFoundAs(err, domain.ErrOracleNotFound)
		}
		if binding.Owner != caller {
			return fmt.Errorf("oracle %s belongs to %s: %w", binding.Address, binding.Owner.Hex(), domain.ErrUnauthorized)
		}

		if _, err := tx.GetMarket(ctx, addr); err == nil {
			return fmt.Errorf("market %s: %w", addr, domain.ErrDuplicateAddress)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		price, err := e.freshPrice(ctx, binding.Reference, now)
		if err != nil {
			return err
		}

		if e.policy.CreationFee > 0 {
			if err := debit(ctx, tx, caller, e.policy.CreationFee); err != nil {
				return err
			}
			if err := credit(ctx, tx, e.policy.TeamWallet, e.policy.CreationFee); err != nil {
				return err
			}
		}

		market = domain.Market{
			Address:         addr,
			Authority:       caller,
			Symbol:          params.Symbol,
			Oracle:          binding.Address,
			OracleReference: binding.Reference,
			ReferencePrice:  price,
			CreatedAt:       now,
			Duration:        params.Duration,
		}
		return tx.InsertMarket(ctx, market)
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: create market %q: %w", params.Symbol, err)
	}
	return market, nil
}

// ResolveMarket settles the market against the oracle once its window has
// elapsed. Only the market authority may resolve.
func (e *Engine) ResolveMarket(ctx context.Context, caller common.Address, marketAddr domain.Address) (domain.Market, error) {
	now := e.clock.Now()
	var market domain.Market
	err := e.ledger.Update(ctx, func(tx domain.LedgerTx) error {
		m, err := tx.GetMarket(ctx, marketAddr)
		if err != nil {
			return notFoundAs(err, domain.ErrMarketNotFound)
		}
		if m.Authority != caller {
			return fmt.Errorf("caller %s is not the market authority: %w", caller.Hex(), domain.ErrUnauthorized)
		}
		if !now.After(m.ClosesAt()) {
			return fmt.Errorf("window closes %s: %w", m.ClosesAt().Format(time.RFC3339), domain.ErrMarketNotReady)
		}
		if m.Resolved {
			return domain.ErrAlreadyResolved
		}

		final, err := e.freshPrice(ctx, m.OracleReference, now)
		if err != nil {
			return err
		}

		outcome := outcomeFor(final, m.ReferencePrice, e.policy.TieBreak)
		m.Resolved = true
		m.WinningOutcome = &outcome
		m.ResolvedAt = &now
		m.FinalPrice = &final
		if err := tx.UpdateMarket(ctx, m); err != nil {
			return err
		}
		market = m
		return nil
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: resolve market %s: %w", marketAddr, err)
	}
	return market, nil
}
