package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polysettle/internal/domain"
)

// Ledger implements domain.Ledger on PostgreSQL. Update runs at READ
// COMMITTED with row locks taken by every read, so two transitions touching
// the same market or balance serialize on the database.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger creates a Ledger backed by the given connection pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Update runs fn in a read-write transaction, committing only if fn succeeds.
func (l *Ledger) Update(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	return pgx.BeginTxFunc(ctx, l.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(&ledgerTx{tx: tx, lock: true})
	})
}

// View runs fn in a read-only transaction.
func (l *Ledger) View(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	return pgx.BeginTxFunc(ctx, l.pool, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	}, func(tx pgx.Tx) error {
		return fn(&ledgerTx{tx: tx})
	})
}

const marketColumns = `
	address, authority, symbol, oracle, oracle_reference,
	reference_value, reference_expo, reference_published_at,
	final_value, final_expo, final_published_at,
	created_at, duration_ns, resolved, winning_outcome, resolved_at,
	total_yes_shares::text, total_no_shares::text, total_funds::text,
	pool::text, paid_out::text, fee_withdrawn`

const positionColumns = `
	address, market, owner, yes_shares::text, no_shares::text,
	staked::text, claimed, payout::text, created_at`

// ListSettledBefore implements domain.ArchiveSource.
func (l *Ledger) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.SettledMarket, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets
		 WHERE resolved AND resolved_at < $1
		 ORDER BY resolved_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled markets: %w", err)
	}
	markets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Market, error) {
		return scanMarket(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan settled markets: %w", err)
	}

	out := make([]domain.SettledMarket, 0, len(markets))
	for _, m := range markets {
		rows, err := l.pool.Query(ctx,
			`SELECT `+positionColumns+` FROM positions WHERE market = $1 ORDER BY created_at`,
			m.Address.Bytes())
		if err != nil {
			return nil, fmt.Errorf("postgres: list positions of %s: %w", m.Address, err)
		}
		positions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Position, error) {
			return scanPosition(row)
		})
		if err != nil {
			return nil, fmt.Errorf("postgres: scan positions of %s: %w", m.Address, err)
		}
		out = append(out, domain.SettledMarket{Market: m, Positions: positions})
	}
	return out, nil
}

type ledgerTx struct {
	tx   pgx.Tx
	lock bool
}

func (t *ledgerTx) forUpdate() string {
	if t.lock {
		return " FOR UPDATE"
	}
	return ""
}

func (t *ledgerTx) GetOracle(ctx context.Context, addr domain.Address) (domain.OracleBinding, error) {
	var (
		o     domain.OracleBinding
		raw   []byte
		owner []byte
	)
	err := t.tx.QueryRow(ctx,
		`SELECT address, owner, reference, created_at FROM oracle_bindings WHERE address = $1`,
		addr.Bytes(),
	).Scan(&raw, &owner, &o.Reference, &o.CreatedAt)
	if err != nil {
		return domain.OracleBinding{}, notFound(err, "oracle", addr)
	}
	o.Address = toAddress(raw)
	o.Owner = common.BytesToAddress(owner)
	return o, nil
}

func (t *ledgerTx) InsertOracle(ctx context.Context, o domain.OracleBinding) error {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO oracle_bindings (address, owner, reference, created_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT (address) DO NOTHING`,
		o.Address.Bytes(), o.Owner.Bytes(), o.Reference, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert oracle %s: %w", o.Address, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: oracle %s: %w", o.Address, domain.ErrDuplicateAddress)
	}
	return nil
}

func (t *ledgerTx) GetMarket(ctx context.Context, addr domain.Address) (domain.Market, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE address = $1`+t.forUpdate(),
		addr.Bytes())
	m, err := scanMarket(row)
	if err != nil {
		return domain.Market{}, notFound(err, "market", addr)
	}
	return m, nil
}

func (t *ledgerTx) InsertMarket(ctx context.Context, m domain.Market) error {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO markets (
			address, authority, symbol, oracle, oracle_reference,
			reference_value, reference_expo, reference_published_at,
			created_at, duration_ns
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (address) DO NOTHING`,
		m.Address.Bytes(), m.Authority.Bytes(), m.Symbol, m.Oracle.Bytes(), m.OracleReference,
		m.ReferencePrice.Value, m.ReferencePrice.Expo, m.ReferencePrice.PublishedAt,
		m.CreatedAt, int64(m.Duration),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert market %s: %w", m.Address, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: market %s: %w", m.Address, domain.ErrDuplicateAddress)
	}
	return nil
}

func (t *ledgerTx) UpdateMarket(ctx context.Context, m domain.Market) error {
	var (
		finalValue *int64
		finalExpo  *int32
		finalAt    *time.Time
		winning    *string
	)
	if m.FinalPrice != nil {
		finalValue, finalExpo, finalAt = &m.FinalPrice.Value, &m.FinalPrice.Expo, &m.FinalPrice.PublishedAt
	}
	if m.WinningOutcome != nil {
		w := string(*m.WinningOutcome)
		winning = &w
	}

	tag, err := t.tx.Exec(ctx, `
		UPDATE markets SET
			final_value        = $2,
			final_expo         = $3,
			final_published_at = $4,
			resolved           = $5,
			winning_outcome    = $6,
			resolved_at        = $7,
			total_yes_shares   = $8::numeric,
			total_no_shares    = $9::numeric,
			total_funds        = $10::numeric,
			pool               = $11::numeric,
			paid_out           = $12::numeric,
			fee_withdrawn      = $13
		WHERE address = $1`,
		m.Address.Bytes(),
		finalValue, finalExpo, finalAt,
		m.Resolved, winning, m.ResolvedAt,
		numeric(m.TotalYesShares), numeric(m.TotalNoShares), numeric(m.TotalFunds),
		numeric(m.Pool), numeric(m.PaidOut), m.FeeWithdrawn,
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.Address, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: market %s: %w", m.Address, domain.ErrNotFound)
	}
	return nil
}

func (t *ledgerTx) GetPosition(ctx context.Context, addr domain.Address) (domain.Position, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE address = $1`+t.forUpdate(),
		addr.Bytes())
	p, err := scanPosition(row)
	if err != nil {
		return domain.Position{}, notFound(err, "position", addr)
	}
	return p, nil
}

func (t *ledgerTx) InsertPosition(ctx context.Context, p domain.Position) error {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO positions (address, market, owner, created_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT (address) DO NOTHING`,
		p.Address.Bytes(), p.Market.Bytes(), p.User.Bytes(), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert position %s: %w", p.Address, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: position %s: %w", p.Address, domain.ErrDuplicateAddress)
	}
	return nil
}

func (t *ledgerTx) UpdatePosition(ctx context.Context, p domain.Position) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE positions SET
			yes_shares = $2::numeric,
			no_shares  = $3::numeric,
			staked     = $4::numeric,
			claimed    = $5,
			payout     = $6::numeric
		WHERE address = $1`,
		p.Address.Bytes(),
		numeric(p.YesShares), numeric(p.NoShares), numeric(p.Staked),
		p.Claimed, numeric(p.Payout),
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.Address, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: position %s: %w", p.Address, domain.ErrNotFound)
	}
	return nil
}

// Balance reads owner's balance. Inside Update a zero row is created first
// so FOR UPDATE always has a row to lock; otherwise two transactions
// crediting a new owner would both start from zero.
func (t *ledgerTx) Balance(ctx context.Context, owner common.Address) (uint64, error) {
	if t.lock {
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO balances (owner) VALUES ($1) ON CONFLICT (owner) DO NOTHING`,
			owner.Bytes()); err != nil {
			return 0, fmt.Errorf("postgres: ensure balance %s: %w", owner.Hex(), err)
		}
	}
	var amount string
	err := t.tx.QueryRow(ctx,
		`SELECT amount::text FROM balances WHERE owner = $1`+t.forUpdate(),
		owner.Bytes(),
	).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: balance %s: %w", owner.Hex(), err)
	}
	return parseUint(amount)
}

func (t *ledgerTx) SetBalance(ctx context.Context, owner common.Address, amount uint64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO balances (owner, amount, updated_at) VALUES ($1, $2::numeric, NOW())
		ON CONFLICT (owner) DO UPDATE SET amount = EXCLUDED.amount, updated_at = NOW()`,
		owner.Bytes(), numeric(amount))
	if err != nil {
		return fmt.Errorf("postgres: set balance %s: %w", owner.Hex(), err)
	}
	return nil
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m                          domain.Market
		addr, authority, oracleAddr []byte
		finalValue                 *int64
		finalExpo                  *int32
		finalAt                    *time.Time
		durationNS                 int64
		winning                    *string
		yes, no, funds, pool, paid string
	)
	err := row.Scan(
		&addr, &authority, &m.Symbol, &oracleAddr, &m.OracleReference,
		&m.ReferencePrice.Value, &m.ReferencePrice.Expo, &m.ReferencePrice.PublishedAt,
		&finalValue, &finalExpo, &finalAt,
		&m.CreatedAt, &durationNS, &m.Resolved, &winning, &m.ResolvedAt,
		&yes, &no, &funds, &pool, &paid, &m.FeeWithdrawn,
	)
	if err != nil {
		return domain.Market{}, err
	}

	m.Address = toAddress(addr)
	m.Authority = common.BytesToAddress(authority)
	m.Oracle = toAddress(oracleAddr)
	m.Duration = time.Duration(durationNS)
	if finalValue != nil && finalExpo != nil && finalAt != nil {
		m.FinalPrice = &domain.Price{Value: *finalValue, Expo: *finalExpo, PublishedAt: *finalAt}
	}
	if winning != nil {
		o := domain.Outcome(*winning)
		m.WinningOutcome = &o
	}

	for _, f := range []struct {
		dst *uint64
		src string
	}{
		{&m.TotalYesShares, yes},
		{&m.TotalNoShares, no},
		{&m.TotalFunds, funds},
		{&m.Pool, pool},
		{&m.PaidOut, paid},
	} {
		if *f.dst, err = parseUint(f.src); err != nil {
			return domain.Market{}, err
		}
	}
	return m, nil
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p                       domain.Position
		addr, market, owner     []byte
		yes, no, staked, payout string
	)
	err := row.Scan(&addr, &market, &owner, &yes, &no, &staked, &p.Claimed, &payout, &p.CreatedAt)
	if err != nil {
		return domain.Position{}, err
	}
	p.Address = toAddress(addr)
	p.Market = toAddress(market)
	p.User = common.BytesToAddress(owner)

	for _, f := range []struct {
		dst *uint64
		src string
	}{
		{&p.YesShares, yes},
		{&p.NoShares, no},
		{&p.Staked, staked},
		{&p.Payout, payout},
	} {
		if *f.dst, err = parseUint(f.src); err != nil {
			return domain.Position{}, err
		}
	}
	return p, nil
}

func toAddress(b []byte) domain.Address {
	var a domain.Address
	copy(a[:], b)
	return a
}

func numeric(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("postgres: numeric %q out of range: %w", s, err)
	}
	return v, nil
}

func notFound(err error, kind string, addr domain.Address) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: %s %s: %w", kind, addr, domain.ErrNotFound)
	}
	return fmt.Errorf("postgres: get %s %s: %w", kind, addr, err)
}

var (
	_ domain.Ledger        = (*Ledger)(nil)
	_ domain.ArchiveSource = (*Ledger)(nil)
)
