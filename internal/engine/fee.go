package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polysettle/internal/domain"
)

// FeeReceipt describes a completed fee withdrawal.
type FeeReceipt struct {
	Market domain.Market  `json:"market"`
	Amount uint64         `json:"amount"`
	Wallet common.Address `json:"wallet"`
}

// WithdrawFee releases the operator fee of a resolved market to the team
// wallet once FeeDelay has passed since resolution.
func (e *Engine) WithdrawFee(ctx context.Context, caller common.Address, marketAddr domain.Address) (FeeReceipt, error) {
	now := e.clock.Now()
	var receipt FeeReceipt
	err := e.ledger.Update(ctx, func(tx domain.LedgerTx) error {
		m, err := tx.GetMarket(ctx, marketAddr)
		if err != nil {
			return notFoundAs(err, domain.ErrMarketNotFound)
		}
		if m.Authority != caller {
			return fmt.Errorf("caller %s is not the market authority: %w", caller.Hex(), domain.ErrUnauthorized)
		}
		if !m.Resolved || m.ResolvedAt == nil {
			return domain.ErrNotResolved
		}
		unlock := m.ResolvedAt.Add(e.policy.FeeDelay)
		if now.Before(unlock) {
			return fmt.Errorf("fee unlocks %s: %w", unlock.Format(time.RFC3339), domain.ErrTimelockNotExpired)
		}
		if m.FeeWithdrawn {
			return domain.ErrAlreadyWithdrawn
		}

		fee, err := Fee(m.TotalFunds, e.policy.FeeBps)
		if err != nil {
			return err
		}
		if fee > m.Pool {
			return fmt.Errorf("fee %d exceeds pool %d: %w", fee, m.Pool, domain.ErrPoolExhausted)
		}
		if err := credit(ctx, tx, e.policy.TeamWallet, fee); err != nil {
			return err
		}
		m.Pool -= fee
		m.FeeWithdrawn = true
		if err := tx.UpdateMarket(ctx, m); err != nil {
			return err
		}

		receipt = FeeReceipt{Market: m, Amount: fee, Wallet: e.policy.TeamWallet}
		return nil
	})
	if err != nil {
		return FeeReceipt{}, fmt.Errorf("engine: withdraw fee from %s: %w", marketAddr, err)
	}
	return receipt, nil
}

// Fund credits owner's available balance. Only the privileged identity may
// mint balance.
func (e *Engine) Fund(ctx context.Context, caller, owner common.Address, amount uint64) (uint64, error) {
	if err := e.requireAdmin(caller); err != nil {
		return 0, fmt.Errorf("engine: fund: %w", err)
	}
	if amount == 0 {
		return 0, fmt.Errorf("engine: fund: zero amount: %w", domain.ErrInvalidAmount)
	}

	var balance uint64
	err := e.ledger.Update(ctx, func(tx domain.LedgerTx) error {
		if err := credit(ctx, tx, owner, amount); err != nil {
			return err
		}
		b, err := tx.Balance(ctx, owner)
		balance = b
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("engine: fund %s: %w", owner.Hex(), err)
	}
	return balance, nil
}
