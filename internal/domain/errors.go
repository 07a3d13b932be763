package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the settlement engine wraps exactly one
// of these, so callers can branch with errors.Is on the kind alone.
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not found")
	ErrDuplicateAddress   = errors.New("address already occupied")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInvalidState       = errors.New("invalid state")
	ErrTimelockNotExpired = errors.New("timelock not expired")

	ErrLockHeld    = errors.New("lock already held")
	ErrRateLimited = errors.New("rate limited")
)

// Specific failures, each wrapping its kind.
var (
	ErrBetTooLow         = fmt.Errorf("bet below minimum: %w", ErrInvalidAmount)
	ErrMarketResolved    = fmt.Errorf("market resolved: %w", ErrInvalidState)
	ErrBettingClosed     = fmt.Errorf("betting window closed: %w", ErrInvalidState)
	ErrMarketNotReady    = fmt.Errorf("market window not elapsed: %w", ErrInvalidState)
	ErrAlreadyResolved   = fmt.Errorf("market already resolved: %w", ErrInvalidState)
	ErrNotResolved       = fmt.Errorf("market not resolved: %w", ErrInvalidState)
	ErrAlreadyClaimed    = fmt.Errorf("position already claimed: %w", ErrInvalidState)
	ErrAlreadyWithdrawn  = fmt.Errorf("fee already withdrawn: %w", ErrInvalidState)
	ErrStalePrice        = fmt.Errorf("oracle price too old: %w", ErrInvalidState)
	ErrPoolExhausted     = fmt.Errorf("market pool cannot cover transfer: %w", ErrInvalidState)
	ErrMarketNotFound    = fmt.Errorf("market: %w", ErrNotFound)
	ErrPositionNotFound  = fmt.Errorf("position: %w", ErrNotFound)
	ErrOracleNotFound    = fmt.Errorf("oracle binding: %w", ErrNotFound)
	ErrPriceNotAvailable = fmt.Errorf("oracle price: %w", ErrNotFound)
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrUnauthorized, "unauthorized"},
	{ErrNotFound, "not_found"},
	{ErrDuplicateAddress, "duplicate_address"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrInvalidInput, "invalid_input"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrTimelockNotExpired, "timelock_not_expired"},
	{ErrInvalidState, "invalid_state"},
	{ErrLockHeld, "lock_held"},
	{ErrRateLimited, "rate_limited"},
}

// Kind names the error kind err wraps, "" for nil and "internal" for
// errors outside the taxonomy.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}

// ErrorForKind returns the sentinel named by kind, or nil when kind is not
// part of the taxonomy.
func ErrorForKind(kind string) error {
	for _, k := range kinds {
		if k.name == kind {
			return k.err
		}
	}
	return nil
}
