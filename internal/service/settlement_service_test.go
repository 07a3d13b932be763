package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polysettle/internal/domain"
	"github.com/alanyoungcy/polysettle/internal/engine"
	"github.com/alanyoungcy/polysettle/internal/instrumentation"
	"github.com/alanyoungcy/polysettle/internal/notify"
	"github.com/alanyoungcy/polysettle/internal/oracle"
	"github.com/alanyoungcy/polysettle/internal/store/memory"
)

const testRef = "BONK/USD"

var (
	admin = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	team  = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	alice = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type recordingSender struct {
	mu     sync.Mutex
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return nil
}

func (r *recordingSender) Name() string { return "recording" }

type failingBus struct{ domain.SignalBus }

func (failingBus) Publish(context.Context, string, []byte) error {
	return errors.New("bus down")
}

func (failingBus) StreamAppend(context.Context, string, []byte) error {
	return errors.New("bus down")
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	now     time.Time
	prices  *oracle.StaticSource
	locks   *memory.LockManager
	bus     *memory.SignalBus
	audit   *memory.AuditStore
	sender  *recordingSender
	metrics *instrumentation.Metrics
	svc     *SettlementService
	reads   *MarketService
}

func newHarness(t *testing.T, bus domain.SignalBus) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		ctx:     context.Background(),
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		prices:  oracle.NewStaticSource(),
		locks:   memory.NewLockManager(),
		bus:     memory.NewSignalBus(),
		audit:   memory.NewAuditStore(),
		sender:  &recordingSender{},
		metrics: instrumentation.NewMetrics(prometheus.NewRegistry()),
	}
	if bus == nil {
		bus = h.bus
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := domain.ClockFunc(func() time.Time { return h.now })
	eng := engine.New(memory.NewLedger(), h.prices, clock, engine.DefaultPolicy(admin, team))

	h.svc = NewSettlementService(SettlementDeps{
		Engine:   eng,
		Locks:    h.locks,
		Bus:      bus,
		Audit:    h.audit,
		Prices:   h.prices,
		Notifier: notify.NewNotifier([]notify.Sender{h.sender}, []string{"market_resolved"}, logger),
		Metrics:  h.metrics,
		Clock:    clock,
	}, logger)
	h.reads = NewMarketService(eng, nil, h.audit, h.prices, logger)
	return h
}

// openMarket publishes a price, registers the oracle and opens a one-hour
// market.
func (h *harness) openMarket() domain.Market {
	_, err := h.svc.PublishPrice(h.ctx, admin, testRef, 150, -2)
	require.NoError(h.t, err)
	binding, err := h.svc.RegisterOracle(h.ctx, admin, testRef)
	require.NoError(h.t, err)
	_, err = h.svc.Fund(h.ctx, admin, admin, engine.DefaultCreationFee)
	require.NoError(h.t, err)
	m, err := h.svc.CreateMarket(h.ctx, admin, engine.CreateMarketParams{
		Symbol:   "BONK",
		Oracle:   binding.Address,
		Duration: time.Hour,
	})
	require.NoError(h.t, err)
	return m
}

func TestSettlementLifecyclePublishesEvents(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()

	all, err := h.bus.Subscribe(ctx, domain.ChannelSettlement)
	require.NoError(t, err)

	m := h.openMarket()
	perMarket, err := h.bus.Subscribe(ctx, domain.MarketChannel(m.Address))
	require.NoError(t, err)

	for _, u := range []common.Address{alice, bob} {
		_, err := h.svc.Fund(h.ctx, admin, u, 200_000_000)
		require.NoError(t, err)
		_, err = h.svc.EnrollPosition(h.ctx, u, m.Address)
		require.NoError(t, err)
	}
	r, err := h.svc.PlaceBet(h.ctx, alice, m.Address, 100_000_000, domain.OutcomeYes)
	require.NoError(t, err)
	require.Equal(t, uint64(158_489_319), r.Shares)
	_, err = h.svc.PlaceBet(h.ctx, bob, m.Address, 100_000_000, domain.OutcomeNo)
	require.NoError(t, err)

	h.now = m.ClosesAt().Add(time.Second)
	_, err = h.svc.PublishPrice(h.ctx, admin, testRef, 200, -2)
	require.NoError(t, err)
	resolved, err := h.svc.ResolveMarket(h.ctx, admin, m.Address)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeYes, *resolved.WinningOutcome)

	claim, err := h.svc.ClaimWinnings(h.ctx, alice, m.Address)
	require.NoError(t, err)
	require.Equal(t, uint64(190_000_000), claim.Payout)

	h.now = h.now.Add(engine.DefaultFeeDelay)
	fee, err := h.svc.WithdrawFee(h.ctx, admin, m.Address)
	require.NoError(t, err)
	require.Equal(t, uint64(10_000_000), fee.Amount)

	var types []domain.EventType
	for len(types) < 12 {
		select {
		case raw := <-all:
			var ev domain.Event
			require.NoError(t, json.Unmarshal(raw, &ev))
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("only received %v", types)
		}
	}
	require.Contains(t, types, domain.EventMarketResolved)
	require.Contains(t, types, domain.EventFeeWithdrawn)
	require.NotContains(t, types, domain.EventPricePublished, "prices go to their own channel")

	select {
	case raw := <-perMarket:
		var ev domain.Event
		require.NoError(t, json.Unmarshal(raw, &ev))
		require.Equal(t, domain.EventPositionEnrolled, ev.Type)
		require.Equal(t, m.Address, *ev.Market)
	case <-time.After(time.Second):
		t.Fatal("no per-market event")
	}

	logged, err := h.bus.StreamRead(h.ctx, domain.StreamSettlement, "0", 100)
	require.NoError(t, err)
	require.Len(t, logged, 14)

	entries, err := h.reads.ListAudit(h.ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Equal(t, string(domain.EventFeeWithdrawn), entries[0].Event)
	require.Equal(t, m.Address.Hex(), entries[0].Detail["market"])

	require.Equal(t, []string{"Market resolved"}, h.sender.titles)
	require.Equal(t, 2.0, testutil.ToFloat64(h.metrics.TransitionsTotal.WithLabelValues("place_bet", "ok")))
	require.Equal(t, 200_000_000.0, testutil.ToFloat64(h.metrics.BetVolume))
	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.MarketsSettled))
}

func TestRejectedTransitionPublishesNothing(t *testing.T) {
	h := newHarness(t, nil)
	m := h.openMarket()
	before, err := h.bus.StreamRead(h.ctx, domain.StreamSettlement, "0", 100)
	require.NoError(t, err)

	_, err = h.svc.PlaceBet(h.ctx, alice, m.Address, 100_000_000, domain.OutcomeYes)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.svc.ResolveMarket(h.ctx, alice, m.Address)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	after, err := h.bus.StreamRead(h.ctx, domain.StreamSettlement, "0", 100)
	require.NoError(t, err)
	require.Equal(t, len(before), len(after))
	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.TransitionsTotal.WithLabelValues("place_bet", "not_found")))
	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.TransitionsTotal.WithLabelValues("resolve_market", "unauthorized")))
}

func TestHeldMarketLockFailsFast(t *testing.T) {
	h := newHarness(t, nil)
	m := h.openMarket()
	_, err := h.svc.Fund(h.ctx, admin, alice, 200_000_000)
	require.NoError(t, err)

	unlock, err := h.locks.Acquire(h.ctx, marketKey(m.Address), time.Minute)
	require.NoError(t, err)

	_, err = h.svc.EnrollPosition(h.ctx, alice, m.Address)
	require.ErrorIs(t, err, domain.ErrLockHeld)
	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.LockContention))

	unlock()
	_, err = h.svc.EnrollPosition(h.ctx, alice, m.Address)
	require.NoError(t, err)
}

func TestPublicationFailureDoesNotFailTransition(t *testing.T) {
	h := newHarness(t, failingBus{})
	h.now = h.now.Add(time.Minute)

	balance, err := h.svc.Fund(h.ctx, admin, alice, 5_000_000)
	require.NoError(t, err)
	require.Equal(t, uint64(5_000_000), balance)

	got, err := h.reads.Balance(h.ctx, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(5_000_000), got)
	require.Equal(t, 2.0, testutil.ToFloat64(h.metrics.ErrorsTotal.WithLabelValues("publish", "internal")))

	entries, err := h.audit.List(h.ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestPublishPrice(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()
	prices, err := h.bus.Subscribe(ctx, domain.PriceChannel(testRef))
	require.NoError(t, err)

	_, err = h.svc.PublishPrice(h.ctx, alice, testRef, 1, 0)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = h.svc.PublishPrice(h.ctx, admin, "", 1, 0)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = h.svc.PublishPrice(h.ctx, admin, strings.Repeat("x", engine.MaxReferenceLen+1), 1, 0)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = h.svc.PublishPrice(h.ctx, admin, strings.Repeat("x", engine.MaxReferenceLen), 1, 0)
	require.NoError(t, err)

	p, err := h.svc.PublishPrice(h.ctx, admin, testRef, 12345, -4)
	require.NoError(t, err)
	require.Equal(t, h.now, p.PublishedAt)

	cached, err := h.reads.GetPrice(h.ctx, testRef)
	require.NoError(t, err)
	require.Equal(t, int64(12345), cached.Value)

	select {
	case raw := <-prices:
		var ev domain.Event
		require.NoError(t, json.Unmarshal(raw, &ev))
		require.Equal(t, domain.EventPricePublished, ev.Type)
		require.Equal(t, 12345.0, ev.Data["value"])
	case <-time.After(time.Second):
		t.Fatal("no price event")
	}
}

func TestMarketServiceReads(t *testing.T) {
	h := newHarness(t, nil)
	m := h.openMarket()

	got, err := h.reads.GetMarket(h.ctx, m.Address)
	require.NoError(t, err)
	require.Equal(t, "BONK", got.Symbol)

	_, err = h.reads.GetMarket(h.ctx, domain.Address{1})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.reads.GetPosition(h.ctx, m.Address, alice)
	require.ErrorIs(t, err, domain.ErrNotFound)

	binding, err := h.reads.GetOracle(h.ctx, m.Oracle)
	require.NoError(t, err)
	require.Equal(t, testRef, binding.Reference)

	q, err := h.reads.Quote(1_000_000)
	require.NoError(t, err)
	require.Equal(t, QuoteResult{Amount: 1_000_000, Shares: 1_000_000, Required: 1_005_000}, q)
}
