package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// LedgerTx is the view of account state available inside one transition.
// Get* return an error wrapping ErrNotFound for missing records and Insert*
// return one wrapping ErrDuplicateAddress when the address is occupied.
type LedgerTx interface {
	GetOracle(ctx context.Context, addr Address) (OracleBinding, error)
	InsertOracle(ctx context.Context, o OracleBinding) error

	GetMarket(ctx context.Context, addr Address) (Market, error)
	InsertMarket(ctx context.Context, m Market) error
	UpdateMarket(ctx context.Context, m Market) error

	GetPosition(ctx context.Context, addr Address) (Position, error)
	InsertPosition(ctx context.Context, p Position) error
	UpdatePosition(ctx context.Context, p Position) error

	Balance(ctx context.Context, owner common.Address) (uint64, error)
	SetBalance(ctx context.Context, owner common.Address, amount uint64) error
}

// Ledger runs transitions atomically. If fn returns an error none of its
// writes become visible.
type Ledger interface {
	Update(ctx context.Context, fn func(tx LedgerTx) error) error
	View(ctx context.Context, fn func(tx LedgerTx) error) error
}

// SettledMarket is a resolved market together with its positions, the unit
// written to cold storage.
type SettledMarket struct {
	Market    Market     `json:"market"`
	Positions []Position `json:"positions"`
}

// ArchiveSource lists settled markets for archival. It is a scan, not an
// index used by any transition.
type ArchiveSource interface {
	ListSettledBefore(ctx context.Context, before time.Time) ([]SettledMarket, error)
}
