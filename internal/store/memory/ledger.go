// Package memory implements the domain store interfaces in process memory.
// It backs tests and single-node development deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polysettle/internal/domain"
)

type state struct {
	oracles   map[domain.Address]domain.OracleBinding
	markets   map[domain.Address]domain.Market
	positions map[domain.Address]domain.Position
	balances  map[common.Address]uint64
}

func newState() state {
	return state{
		oracles:   make(map[domain.Address]domain.OracleBinding),
		markets:   make(map[domain.Address]domain.Market),
		positions: make(map[domain.Address]domain.Position),
		balances:  make(map[common.Address]uint64),
	}
}

// Ledger implements domain.Ledger. Update transactions are serialized and
// stage their writes in an overlay that is merged only on success.
type Ledger struct {
	mu    sync.RWMutex
	state state
}

// NewLedger returns an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{state: newState()}
}

// Update runs fn with exclusive access and commits its writes if it returns nil.
func (l *Ledger) Update(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &ledgerTx{base: &l.state, staged: newState(), writable: true}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// View runs fn against a consistent snapshot. Writes are rejected.
func (l *Ledger) View(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fn(&ledgerTx{base: &l.state, staged: newState()})
}

// ListSettledBefore implements domain.ArchiveSource.
func (l *Ledger) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.SettledMarket, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []domain.SettledMarket
	for _, m := range l.state.markets {
		if !m.Resolved || m.ResolvedAt == nil || !m.ResolvedAt.Before(before) {
			continue
		}
		settled := domain.SettledMarket{Market: m}
		for _, p := range l.state.positions {
			if p.Market == m.Address {
				settled.Positions = append(settled.Positions, p)
			}
		}
		sort.Slice(settled.Positions, func(i, j int) bool {
			return settled.Positions[i].CreatedAt.Before(settled.Positions[j].CreatedAt)
		})
		out = append(out, settled)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Market.ResolvedAt.Before(*out[j].Market.ResolvedAt)
	})
	return out, nil
}

type ledgerTx struct {
	base     *state
	staged   state
	writable bool
}

func (tx *ledgerTx) commit() {
	for k, v := range tx.staged.oracles {
		tx.base.oracles[k] = v
	}
	for k, v := range tx.staged.markets {
		tx.base.markets[k] = v
	}
	for k, v := range tx.staged.positions {
		tx.base.positions[k] = v
	}
	for k, v := range tx.staged.balances {
		tx.base.balances[k] = v
	}
}

func (tx *ledgerTx) checkWritable() error {
	if !tx.writable {
		return fmt.Errorf("memory: write in read-only transaction: %w", domain.ErrInvalidState)
	}
	return nil
}

func (tx *ledgerTx) GetOracle(_ context.Context, addr domain.Address) (domain.OracleBinding, error) {
	if o, ok := tx.staged.oracles[addr]; ok {
		return o, nil
	}
	if o, ok := tx.base.oracles[addr]; ok {
		return o, nil
	}
	return domain.OracleBinding{}, fmt.Errorf("memory: oracle %s: %w", addr, domain.ErrNotFound)
}

func (tx *ledgerTx) InsertOracle(ctx context.Context, o domain.OracleBinding) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	if _, err := tx.GetOracle(ctx, o.Address); err == nil {
		return fmt.Errorf("memory: oracle %s: %w", o.Address, domain.ErrDuplicateAddress)
	}
	tx.staged.oracles[o.Address] = o
	return nil
}

func (tx *ledgerTx) GetMarket(_ context.Context, addr domain.Address) (domain.Market, error) {
	if m, ok := tx.staged.markets[addr]; ok {
		return m, nil
	}
	if m, ok := tx.base.markets[addr]; ok {
		return m, nil
	}
	return domain.Market{}, fmt.Errorf("memory: market %s: %w", addr, domain.ErrNotFound)
}

func (tx *ledgerTx) InsertMarket(ctx context.Context, m domain.Market) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	if _, err := tx.GetMarket(ctx, m.Address); err == nil {
		return fmt.Errorf("memory: market %s: %w", m.Address, domain.ErrDuplicateAddress)
	}
	tx.staged.markets[m.Address] = m
	return nil
}

func (tx *ledgerTx) UpdateMarket(ctx context.Context, m domain.Market) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	if _, err := tx.GetMarket(ctx, m.Address); err != nil {
		return err
	}
	tx.staged.markets[m.Address] = m
	return nil
}

func (tx *ledgerTx) GetPosition(_ context.Context, addr domain.Address) (domain.Position, error) {
	if p, ok := tx.staged.positions[addr]; ok {
		return p, nil
	}
	if p, ok := tx.base.positions[addr]; ok {
		return p, nil
	}
	return domain.Position{}, fmt.Errorf("memory: position %s: %w", addr, domain.ErrNotFound)
}

func (tx *ledgerTx) InsertPosition(ctx context.Context, p domain.Position) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	if _, err := tx.GetPosition(ctx, p.Address); err == nil {
		return fmt.Errorf("memory: position %s: %w", p.Address, domain.ErrDuplicateAddress)
	}
	tx.staged.positions[p.Address] = p
	return nil
}

func (tx *ledgerTx) UpdatePosition(ctx context.Context, p domain.Position) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	if _, err := tx.GetPosition(ctx, p.Address); err != nil {
		return err
	}
	tx.staged.positions[p.Address] = p
	return nil
}

func (tx *ledgerTx) Balance(_ context.Context, owner common.Address) (uint64, error) {
	if b, ok := tx.staged.balances[owner]; ok {
		return b, nil
	}
	return tx.base.balances[owner], nil
}

func (tx *ledgerTx) SetBalance(_ context.Context, owner common.Address, amount uint64) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	tx.staged.balances[owner] = amount
	return nil
}

// Compile-time interface checks.
var (
	_ domain.Ledger        = (*Ledger)(nil)
	_ domain.ArchiveSource = (*Ledger)(nil)
)
