// Package curve implements the share-issuance bonding curve
//
//	shares(amount) = round((amount / Base) ^ Exponent * Base)
//
// in decimal arithmetic so every replica computes the same integer.
package curve

import (
	"fmt"
	"strconv"

	"github.com/cockroachdb/apd/v3"

	"github.com/alanyoungcy/polysettle/internal/domain"
)

const (
	// Base is the fixed-point scale of amounts and shares (six decimals).
	Base = 1_000_000
	// Precision is the number of significant digits carried through Pow.
	Precision = 34
)

var (
	base     = apd.New(Base, 0)
	exponent = apd.New(11, -1) // 1.1
)

func newContext() *apd.Context {
	ctx := apd.BaseContext.WithPrecision(Precision)
	ctx.Rounding = apd.RoundHalfUp
	return ctx
}

// Shares returns the number of shares issued for a stake of amount minimal
// units. It fails with domain.ErrInvalidAmount if the result does not fit in
// a uint64.
func Shares(amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, nil
	}

	ctx := newContext()
	x, _, err := apd.NewFromString(strconv.FormatUint(amount, 10))
	if err != nil {
		return 0, fmt.Errorf("curve: parse amount %d: %w", amount, err)
	}

	var d apd.Decimal
	if _, err := ctx.Quo(&d, x, base); err != nil {
		return 0, fmt.Errorf("curve: scale amount %d: %w", amount, err)
	}
	if _, err := ctx.Pow(&d, &d, exponent); err != nil {
		return 0, fmt.Errorf("curve: pow amount %d: %w", amount, err)
	}
	if _, err := ctx.Mul(&d, &d, base); err != nil {
		return 0, fmt.Errorf("curve: rescale amount %d: %w", amount, err)
	}
	if _, err := ctx.RoundToIntegralValue(&d, &d); err != nil {
		return 0, fmt.Errorf("curve: round amount %d: %w", amount, err)
	}

	shares, err := strconv.ParseUint(d.Text('f'), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("curve: %d shares overflow: %w", amount, domain.ErrInvalidAmount)
	}
	return shares, nil
}

// MustShares is Shares for amounts known to be in range. It panics on
// overflow and exists for tests and constant tables.
func MustShares(amount uint64) uint64 {
	s, err := Shares(amount)
	if err != nil {
		panic(err)
	}
	return s
}
