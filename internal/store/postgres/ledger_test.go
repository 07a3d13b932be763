package postgres

import (
	"context"
	"crypto/rand"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polysettle/internal/domain"
)

// testLedger connects to POLYSETTLE_TEST_POSTGRES_DSN and migrates it. Tests
// use random addresses so they can share one database across runs.
func testLedger(t *testing.T) *Ledger {
	t.Helper()
	dsn := os.Getenv("POLYSETTLE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POLYSETTLE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn, MaxConns: 16})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	_, err = c.RunMigrations(ctx)
	require.NoError(t, err)
	return NewLedger(c.Pool())
}

func randomAddress(t *testing.T) domain.Address {
	t.Helper()
	var a domain.Address
	_, err := rand.Read(a[:])
	require.NoError(t, err)
	return a
}

func randomOwner(t *testing.T) common.Address {
	t.Helper()
	var b [common.AddressLength]byte
	_, err := rand.Read(b[:])
	require.NoError(t, err)
	return common.BytesToAddress(b[:])
}

func TestLedgerRollsBackOnError(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()
	owner := randomOwner(t)
	oracle := domain.OracleBinding{
		Address:   randomAddress(t),
		Owner:     owner,
		Reference: "SOL/USD",
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	boom := errors.New("boom")

	err := l.Update(ctx, func(tx domain.LedgerTx) error {
		require.NoError(t, tx.InsertOracle(ctx, oracle))
		require.NoError(t, tx.SetBalance(ctx, owner, 500))
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, l.View(ctx, func(tx domain.LedgerTx) error {
		_, err := tx.GetOracle(ctx, oracle.Address)
		require.ErrorIs(t, err, domain.ErrNotFound)
		bal, err := tx.Balance(ctx, owner)
		require.NoError(t, err)
		require.Zero(t, bal)
		return nil
	}))
}

func TestLedgerInsertDuplicate(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()
	oracle := domain.OracleBinding{
		Address:   randomAddress(t),
		Owner:     randomOwner(t),
		Reference: "BONK/USD",
		CreatedAt: time.Now().UTC(),
	}
	market := domain.Market{
		Address:         randomAddress(t),
		Authority:       oracle.Owner,
		Symbol:          "BONK-1H",
		Oracle:          oracle.Address,
		OracleReference: oracle.Reference,
		ReferencePrice:  domain.Price{Value: 2_150, Expo: -8, PublishedAt: time.Now().UTC()},
		CreatedAt:       time.Now().UTC(),
		Duration:        time.Hour,
	}

	require.NoError(t, l.Update(ctx, func(tx domain.LedgerTx) error {
		if err := tx.InsertOracle(ctx, oracle); err != nil {
			return err
		}
		return tx.InsertMarket(ctx, market)
	}))

	err := l.Update(ctx, func(tx domain.LedgerTx) error { return tx.InsertOracle(ctx, oracle) })
	require.ErrorIs(t, err, domain.ErrDuplicateAddress)
	err = l.Update(ctx, func(tx domain.LedgerTx) error { return tx.InsertMarket(ctx, market) })
	require.ErrorIs(t, err, domain.ErrDuplicateAddress)

	require.NoError(t, l.View(ctx, func(tx domain.LedgerTx) error {
		got, err := tx.GetMarket(ctx, market.Address)
		require.NoError(t, err)
		require.Equal(t, "BONK-1H", got.Symbol)
		require.Equal(t, time.Hour, got.Duration)
		return nil
	}))
}

func TestLedgerNotFound(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()
	missing := randomAddress(t)

	require.NoError(t, l.View(ctx, func(tx domain.LedgerTx) error {
		_, err := tx.GetOracle(ctx, missing)
		require.ErrorIs(t, err, domain.ErrNotFound)
		_, err = tx.GetMarket(ctx, missing)
		require.ErrorIs(t, err, domain.ErrNotFound)
		_, err = tx.GetPosition(ctx, missing)
		require.ErrorIs(t, err, domain.ErrNotFound)
		return nil
	}))

	err := l.Update(ctx, func(tx domain.LedgerTx) error {
		return tx.UpdatePosition(ctx, domain.Position{Address: missing})
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
	err = l.Update(ctx, func(tx domain.LedgerTx) error {
		return tx.UpdateMarket(ctx, domain.Market{Address: missing})
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLedgerConcurrentFirstCredit(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()
	team := randomOwner(t)
	const (
		writers = 8
		credit  = uint64(100_000_000)
	)

	var g errgroup.Group
	for range writers {
		g.Go(func() error {
			return l.Update(ctx, func(tx domain.LedgerTx) error {
				bal, err := tx.Balance(ctx, team)
				if err != nil {
					return err
				}
				return tx.SetBalance(ctx, team, bal+credit)
			})
		})
	}
	require.NoError(t, g.Wait())

	require.NoError(t, l.View(ctx, func(tx domain.LedgerTx) error {
		bal, err := tx.Balance(ctx, team)
		require.NoError(t, err)
		require.Equal(t, writers*credit, bal)
		return nil
	}))
}
