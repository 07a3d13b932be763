package engine

import (
	"fmt"

	"github.com/cockroachdb/apd/v3"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/polysettle/internal/domain"
)

// mulDiv returns floor(x*y/d) with a 256-bit intermediate product.
func mulDiv(x, y, d uint64) (uint64, error) {
	if d == 0 {
		return 0, fmt.Errorf("%d*%d/0: division by zero: %w", x, y, domain.ErrInvalidState)
	}
	z, overflow := new(uint256.Int).MulDivOverflow(uint256.NewInt(x), uint256.NewInt(y), uint256.NewInt(d))
	if overflow || !z.IsUint64() {
		return 0, fmt.Errorf("%d*%d/%d overflows: %w", x, y, d, domain.ErrInvalidAmount)
	}
	return z.Uint64(), nil
}

// Fee is the operator's share of a market's funds.
func Fee(totalFunds, feeBps uint64) (uint64, error) {
	return mulDiv(totalFunds, feeBps, bpsDenominator)
}

// Distributable is the pot paid out to positions.
func Distributable(totalFunds, feeBps uint64) (uint64, error) {
	fee, err := Fee(totalFunds, feeBps)
	if err != nil {
		return 0, err
	}
	return totalFunds - fee, nil
}

// Payout computes what a claim on pos pays out of a resolved market m.
func Payout(m domain.Market, pos domain.Position, feeBps uint64, empty EmptyWinnerPolicy) (uint64, error) {
	if !m.Resolved || m.WinningOutcome == nil {
		return 0, domain.ErrNotResolved
	}
	pot, err := Distributable(m.TotalFunds, feeBps)
	if err != nil {
		return 0, err
	}

	winning := *m.WinningOutcome
	totalWinning := m.SideShares(winning)
	if totalWinning == 0 {
		if empty != EmptyWinnerRefund || m.TotalFunds == 0 {
			return 0, nil
		}
		return mulDiv(pos.Staked, pot, m.TotalFunds)
	}
	return mulDiv(pos.Shares(winning), pot, totalWinning)
}

// ComparePrices returns -1, 0 or +1 as a is below, equal to or above b,
// comparing the exact decimal values a.Value*10^a.Expo.
func ComparePrices(a, b domain.Price) int {
	return apd.New(a.Value, a.Expo).Cmp(apd.New(b.Value, b.Expo))
}

// outcomeFor resolves final against reference under the tie-break rule.
func outcomeFor(final, reference domain.Price, tie TieBreak) domain.Outcome {
	c := ComparePrices(final, reference)
	if c > 0 || (c == 0 && tie == TieBreakAtOrAbove) {
		return domain.OutcomeYes
	}
	return domain.OutcomeNo
}
