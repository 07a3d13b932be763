package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polysettle/internal/address"
	"github.com/alanyoungcy/polysettle/internal/curve"
	"github.com/alanyoungcy/polysettle/internal/domain"
)

// BetReceipt describes an accepted bet.
type BetReceipt struct {
	Position domain.Position `json:"position"`
	Market   domain.Market   `json:"market"`
	Outcome  domain.Outcome  `json:"outcome"`
	Amount   uint64          `json:"amount"`
	Shares   uint64          `json:"shares"`
}

// ClaimReceipt describes a closed position.
type ClaimReceipt struct {
	Position domain.Position `json:"position"`
	Market   domain.Market   `json:"market"`
	Payout   uint64          `json:"payout"`
}

// EnrollPosition creates the caller's position in an existing market.
func (e *Engine) EnrollPosition(ctx context.Context, caller common.Address, marketAddr domain.Address) (domain.Position, error) {
	pos := domain.Position{
		Address:   address.Position(marketAddr, caller),
		Market:    marketAddr,
		User:      caller,
		CreatedAt: e.clock.Now(),
	}
	err := e.ledger.Update(ctx, func(tx domain.LedgerTx) error {
		if _, err := tx.GetMarket(ctx, marketAddr); err != nil {
			return notFoundAs(err, domain.ErrMarketNotFound)
		}
		return tx.InsertPosition(ctx, pos)
	})
	if err != nil {
		return domain.Position{}, fmt.Errorf("engine: enroll position in %s: %w", marketAddr, err)
	}
	return pos, nil
}

// PlaceBet escrows amount from the caller into the market and issues shares
// on one side to the caller's position.
func (e *Engine) PlaceBet(ctx context.Context, caller common.Address, marketAddr domain.Address, amount uint64, outcome domain.Outcome) (BetReceipt, error) {
	if !outcome.Valid() {
		return BetReceipt{}, fmt.Errorf("engine: place bet: outcome %q: %w", outcome, domain.ErrInvalidInput)
	}

	now := e.clock.Now()
	posAddr := address.Position(marketAddr, caller)
	var receipt BetReceipt
	err := e.ledger.Update(ctx, func(tx domain.LedgerTx) error {
		pos, err := tx.GetPosition(ctx, posAddr)
		if err != nil {
			return notFoundAs(err, domain.ErrPositionNotFound)
		}
		if pos.User != caller {
			return fmt.Errorf("position %s belongs to %s: %w", posAddr, pos.User.Hex(), domain.ErrUnauthorized)
		}
		if amount < e.policy.MinBet {
			return fmt.Errorf("amount %d below %d: %w", amount, e.policy.MinBet, domain.ErrBetTooLow)
		}

		m, err := tx.GetMarket(ctx, marketAddr)
		if err != nil {
			return notFoundAs(err, domain.ErrMarketNotFound)
		}
		if m.Resolved {
			return domain.ErrMarketResolved
		}
		if now.After(m.ClosesAt()) {
			return domain.ErrBettingClosed
		}

		if amount > math.MaxUint64-e.policy.TransferOverhead {
			return fmt.Errorf("amount %d: %w", amount, domain.ErrInvalidAmount)
		}
		bal, err := tx.Balance(ctx, caller)
		if err != nil {
			return err
		}
		if bal < amount+e.policy.TransferOverhead {
			return fmt.Errorf("%s holds %d, bet needs %d plus %d overhead: %w",
				caller.Hex(), bal, amount, e.policy.TransferOverhead, domain.ErrInsufficientFunds)
		}

		shares, err := curve.Shares(amount)
		if err != nil {
			return err
		}
		if m.TotalFunds > math.MaxUint64-amount || m.SideShares(outcome) > math.MaxUint64-shares {
			return fmt.Errorf("market totals overflow: %w", domain.ErrInvalidAmount)
		}

		if err := tx.SetBalance(ctx, caller, bal-amount); err != nil {
			return err
		}
		m.Pool += amount
		m.TotalFunds += amount
		pos.Staked += amount
		if outcome == domain.OutcomeYes {
			m.TotalYesShares += shares
			pos.YesShares += shares
		} else {
			m.TotalNoShares += shares
			pos.NoShares += shares
		}
		if err := tx.UpdateMarket(ctx, m); err != nil {
			return err
		}
		if err := tx.UpdatePosition(ctx, pos); err != nil {
			return err
		}

		receipt = BetReceipt{Position: pos, Market: m, Outcome: outcome, Amount: amount, Shares: shares}
		return nil
	})
	if err != nil {
		return BetReceipt{}, fmt.Errorf("engine: place bet in %s: %w", marketAddr, err)
	}
	return receipt, nil
}

// ClaimWinnings closes the caller's position in a resolved market and pays
// its share of the distributable pot. Losing positions close with no payout.
func (e *Engine) ClaimWinnings(ctx context.Context, caller common.Address, marketAddr domain.Address) (ClaimReceipt, error) {
	posAddr := address.Position(marketAddr, caller)
	var receipt ClaimReceipt
	err := e.ledger.Update(ctx, func(tx domain.LedgerTx) error {
		pos, err := tx.GetPosition(ctx, posAddr)
		if err != nil {
			return notFoundAs(err, domain.ErrPositionNotFound)
		}
		if pos.User != caller {
			return fmt.Errorf("position %s belongs to %s: %w", posAddr, pos.User.Hex(), domain.ErrUnauthorized)
		}

		m, err := tx.GetMarket(ctx, marketAddr)
		if err != nil {
			return notFoundAs(err, domain.ErrMarketNotFound)
		}
		if !m.Resolved {
			return domain.ErrNotResolved
		}
		if pos.Claimed {
			return domain.ErrAlreadyClaimed
		}

		payout, err := Payout(m, pos, e.policy.FeeBps, e.policy.EmptyWinner)
		if err != nil {
			return err
		}
		if payout > m.Pool {
			return fmt.Errorf("payout %d exceeds pool %d: %w", payout, m.Pool, domain.ErrPoolExhausted)
		}

		if payout > 0 {
			if err := credit(ctx, tx, caller, payout); err != nil {
				return err
			}
			m.Pool -= payout
			m.PaidOut += payout
			if err := tx.UpdateMarket(ctx, m); err != nil {
				return err
			}
		}

		pos.YesShares = 0
		pos.NoShares = 0
		pos.Claimed = true
		pos.Payout = payout
		if err := tx.UpdatePosition(ctx, pos); err != nil {
			return err
		}

		receipt = ClaimReceipt{Position: pos, Market: m, Payout: payout}
		return nil
	})
	if err != nil {
		return ClaimReceipt{}, fmt.Errorf("engine: claim winnings in %s: %w", marketAddr, err)
	}
	return receipt, nil
}
