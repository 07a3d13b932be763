package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polysettle/internal/address"
	"github.com/alanyoungcy/polysettle/internal/domain"
)

// RegisterOracle binds a price feed reference to the privileged identity.
func (e *Engine) RegisterOracle(ctx context.Context, caller common.Address, reference string) (domain.OracleBinding, error) {
	if err := e.requireAdmin(caller); err != nil {
		return domain.OracleBinding{}, fmt.Errorf("engine: register oracle: %w", err)
	}
	if len(reference) == 0 || len(reference) > MaxReferenceLen {
		return domain.OracleBinding{}, fmt.Errorf("engine: register oracle: reference must be 1..%d bytes: %w",
			MaxReferenceLen, domain.ErrInvalidInput)
	}

	addr, err := address.Oracle(caller, reference)
	if err != nil {
		return domain.OracleBinding{}, fmt.Errorf("engine: register oracle: %w: %w", err, domain.ErrInvalidInput)
	}

	binding := domain.OracleBinding{
		Address:   addr,
		Owner:     caller,
		Reference: reference,
		CreatedAt: e.clock.Now(),
	}
	err = e.ledger.Update(ctx, func(tx domain.LedgerTx) error {
		return tx.InsertOracle(ctx, binding)
	})
	if err != nil {
		return domain.OracleBinding{}, fmt.Errorf("engine: register oracle: %w", err)
	}
	return binding, nil
}
