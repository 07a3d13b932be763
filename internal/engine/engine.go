// Package engine is the settlement state machine: oracle bindings, market
// lifecycle, the position ledger, resolution, payouts and the fee timelock.
//
// Every operation runs as one domain.Ledger transaction and evaluates all of
// its preconditions before writing, so a failed call leaves no trace.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polysettle/internal/address"
	"github.com/alanyoungcy/polysettle/internal/domain"
)

// TieBreak selects how a resolution price equal to the reference resolves.
type TieBreak string

const (
	// TieBreakAtOrAbove resolves Yes when final >= reference.
	TieBreakAtOrAbove TieBreak = "gte"
	// TieBreakStrictlyAbove resolves Yes only when final > reference.
	TieBreakStrictlyAbove TieBreak = "gt"
)

// EmptyWinnerPolicy decides payouts when nobody holds winning shares.
type EmptyWinnerPolicy string

const (
	// EmptyWinnerRefund returns the distributable pot pro rata to stake.
	EmptyWinnerRefund EmptyWinnerPolicy = "refund"
	// EmptyWinnerForfeit pays nothing; the pot stays in the market.
	EmptyWinnerForfeit EmptyWinnerPolicy = "forfeit"
)

// Policy holds the engine's fixed configuration.
type Policy struct {
	Admin            common.Address
	TeamWallet       common.Address
	MinBet           uint64
	FeeBps           uint64
	FeeDelay         time.Duration
	CreationFee      uint64
	TransferOverhead uint64
	MaxPriceAge      time.Duration
	TieBreak         TieBreak
	EmptyWinner      EmptyWinnerPolicy
}

const (
	DefaultMinBet           uint64 = 100_000
	DefaultFeeBps           uint64 = 500
	DefaultFeeDelay                = 7 * 24 * time.Hour
	DefaultCreationFee      uint64 = 100_000_000
	DefaultTransferOverhead uint64 = 5_000
	DefaultMaxPriceAge             = 60 * time.Second

	bpsDenominator uint64 = 10_000
	maxSymbolLen           = 32
)

// MaxReferenceLen bounds an oracle price reference. The reference seeds the
// binding address, so it shares the seed limit.
const MaxReferenceLen = address.MaxSeedLen

// DefaultPolicy returns the standard constants with the given identities.
func DefaultPolicy(admin, teamWallet common.Address) Policy {
	return Policy{
		Admin:            admin,
		TeamWallet:       teamWallet,
		MinBet:           DefaultMinBet,
		FeeBps:           DefaultFeeBps,
		FeeDelay:         DefaultFeeDelay,
		CreationFee:      DefaultCreationFee,
		TransferOverhead: DefaultTransferOverhead,
		MaxPriceAge:      DefaultMaxPriceAge,
		TieBreak:         TieBreakAtOrAbove,
		EmptyWinner:      EmptyWinnerRefund,
	}
}

// Validate checks the policy for values the engine cannot operate with.
func (p Policy) Validate() error {
	var errs []error
	if p.Admin == (common.Address{}) {
		errs = append(errs, errors.New("admin identity is required"))
	}
	if p.TeamWallet == (common.Address{}) {
		errs = append(errs, errors.New("team wallet is required"))
	}
	if p.MinBet == 0 {
		errs = append(errs, errors.New("min bet must be positive"))
	}
	if p.FeeBps > bpsDenominator {
		errs = append(errs, fmt.Errorf("fee bps %d exceeds %d", p.FeeBps, bpsDenominator))
	}
	switch p.TieBreak {
	case TieBreakAtOrAbove, TieBreakStrictlyAbove:
	default:
		errs = append(errs, fmt.Errorf("unknown tie break %q", p.TieBreak))
	}
	switch p.EmptyWinner {
	case EmptyWinnerRefund, EmptyWinnerForfeit:
	default:
		errs = append(errs, fmt.Errorf("unknown empty winner policy %q", p.EmptyWinner))
	}
	return errors.Join(errs...)
}

// Engine applies settlement transitions to a ledger.
type Engine struct {
	ledger domain.Ledger
	prices domain.PriceSource
	clock  domain.Clock
	policy Policy
}

// New creates an Engine. A nil clock uses domain.SystemClock.
func New(ledger domain.Ledger, prices domain.PriceSource, clock domain.Clock, policy Policy) *Engine {
	if clock == nil {
		clock = domain.SystemClock
	}
	return &Engine{
		ledger: ledger,
		prices: prices,
		clock:  clock,
		policy: policy,
	}
}

// Policy returns the engine's configuration.
func (e *Engine) Policy() Policy {
	return e.policy
}

func (e *Engine) requireAdmin(caller common.Address) error {
	if caller != e.policy.Admin {
		return fmt.Errorf("caller %s is not the privileged identity: %w", caller.Hex(), domain.ErrUnauthorized)
	}
	return nil
}

// freshPrice reads the oracle and rejects readings older than MaxPriceAge.
func (e *Engine) freshPrice(ctx context.Context, reference string, now time.Time) (domain.Price, error) {
	price, err := e.prices.Latest(ctx, reference)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Price{}, fmt.Errorf("reference %q: %w", reference, domain.ErrPriceNotAvailable)
		}
		return domain.Price{}, fmt.Errorf("read price %q: %w", reference, err)
	}
	if e.policy.MaxPriceAge > 0 && now.Sub(price.PublishedAt) > e.policy.MaxPriceAge {
		return domain.Price{}, fmt.Errorf("reference %q published %s: %w",
			reference, price.PublishedAt.Format(time.RFC3339), domain.ErrStalePrice)
	}
	return price, nil
}

func debit(ctx context.Context, tx domain.LedgerTx, owner common.Address, amount uint64) error {
	bal, err := tx.Balance(ctx, owner)
	if err != nil {
		return err
	}
	if bal < amount {
		return fmt.Errorf("%s holds %d, needs %d: %w", owner.Hex(), bal, amount, domain.ErrInsufficientFunds)
	}
	return tx.SetBalance(ctx, owner, bal-amount)
}

func credit(ctx context.Context, tx domain.LedgerTx, owner common.Address, amount uint64) error {
	bal, err := tx.Balance(ctx, owner)
	if err != nil {
		return err
	}
	if bal > math.MaxUint64-amount {
		return fmt.Errorf("balance of %s overflows: %w", owner.Hex(), domain.ErrInvalidAmount)
	}
	return tx.SetBalance(ctx, owner, bal+amount)
}

// notFoundAs replaces a generic not-found error with a specific one.
func notFoundAs(err, specific error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return specific
	}
	return err
}
