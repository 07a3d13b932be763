package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polysettle/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return &Client{rdb: rdb}, mr
}

func TestPriceCache(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	pc := NewPriceCache(c)

	_, err := pc.GetPrice(ctx, "BONK/USD")
	require.ErrorIs(t, err, domain.ErrNotFound)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, pc.SetPrice(ctx, "BONK/USD", domain.Price{Value: -1234, Expo: -8, PublishedAt: at}))

	got, err := pc.GetPrice(ctx, "BONK/USD")
	require.NoError(t, err)
	require.Equal(t, int64(-1234), got.Value)
	require.Equal(t, int32(-8), got.Expo)
	require.True(t, at.Equal(got.PublishedAt))
}

func TestMarketCache(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	mc := NewMarketCache(c, time.Minute)

	m := domain.Market{Address: domain.Address{0xaa}, Symbol: "BONK", TotalFunds: 42, Duration: time.Hour}
	_, err := mc.Get(ctx, m.Address)
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, mc.Set(ctx, m))
	got, err := mc.Get(ctx, m.Address)
	require.NoError(t, err)
	require.Equal(t, m.Symbol, got.Symbol)
	require.Equal(t, uint64(42), got.TotalFunds)
	require.Equal(t, time.Hour, got.Duration)

	mr.FastForward(2 * time.Minute)
	_, err = mc.Get(ctx, m.Address)
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, mc.Set(ctx, m))
	require.NoError(t, mc.Invalidate(ctx, m.Address))
	_, err = mc.Get(ctx, m.Address)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLockManager(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(ctx, "market:aa", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "market:aa", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	unlock2, err := lm.Acquire(ctx, "market:aa", time.Second)
	require.NoError(t, err)

	// An expired holder must not release its successor's lock.
	mr.FastForward(2 * time.Second)
	unlock3, err := lm.Acquire(ctx, "market:aa", time.Minute)
	require.NoError(t, err)
	unlock2()
	_, err = lm.Acquire(ctx, "market:aa", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)
	unlock3()
}

func TestRateLimiter(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	rl := NewRateLimiter(c)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "caller", 3, time.Second)
		require.NoError(t, err)
		require.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "caller", 3, time.Second)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = rl.Allow(ctx, "other", 3, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(1100 * time.Millisecond)
	ok, err = rl.Allow(ctx, "caller", 3, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSignalBusStream(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	sb := NewSignalBus(c)

	msgs, err := sb.StreamRead(ctx, domain.StreamSettlement, "0", 10)
	require.NoError(t, err)
	require.Empty(t, msgs)

	require.NoError(t, sb.StreamAppend(ctx, domain.StreamSettlement, []byte(`{"type":"bet_placed"}`)))
	require.NoError(t, sb.StreamAppend(ctx, domain.StreamSettlement, []byte(`{"type":"market_resolved"}`)))

	msgs, err = sb.StreamRead(ctx, domain.StreamSettlement, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.JSONEq(t, `{"type":"bet_placed"}`, string(msgs[0].Payload))

	rest, err := sb.StreamRead(ctx, domain.StreamSettlement, msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, msgs[1].ID, rest[0].ID)
}

func TestSignalBusPubSub(t *testing.T) {
	c, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sb := NewSignalBus(c)

	ch, err := sb.Subscribe(ctx, "ch:market:*")
	require.NoError(t, err)

	require.NoError(t, sb.Publish(ctx, domain.MarketChannel(domain.Address{0x01}), []byte("hello")))
	select {
	case got := <-ch:
		require.Equal(t, "hello", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, 2*time.Second, 10*time.Millisecond)
}
