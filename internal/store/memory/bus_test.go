package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan []byte) string {
	t.Helper()
	select {
	case msg := <-ch:
		return string(msg)
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return ""
	}
}

func TestSignalBusPublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewSignalBus()

	exact, err := bus.Subscribe(ctx, "ch:settlement")
	require.NoError(t, err)
	pattern, err := bus.Subscribe(ctx, "ch:market:*")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "ch:settlement", []byte("a")))
	require.NoError(t, bus.Publish(ctx, "ch:market:0x01", []byte("b")))
	require.NoError(t, bus.Publish(ctx, "ch:price:BONK", []byte("c")))

	require.Equal(t, "a", receive(t, exact))
	require.Equal(t, "b", receive(t, pattern))
	select {
	case msg := <-pattern:
		t.Fatalf("unexpected message %q", msg)
	default:
	}

	prices, err := bus.Subscribe(ctx, "ch:price:*")
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, "ch:price:BONK/USD", []byte("d")))
	require.Equal(t, "d", receive(t, prices))
}

func TestSignalBusSubscriptionClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewSignalBus()
	ch, err := bus.Subscribe(ctx, "ch:settlement")
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	// Publishing after the subscriber left must not panic.
	require.NoError(t, bus.Publish(context.Background(), "ch:settlement", []byte("x")))
}

func TestSignalBusStream(t *testing.T) {
	ctx := context.Background()
	bus := NewSignalBus()

	msgs, err := bus.StreamRead(ctx, "settlement:log", "0", 10)
	require.NoError(t, err)
	require.Empty(t, msgs)

	for _, p := range []string{"one", "two", "three"} {
		require.NoError(t, bus.StreamAppend(ctx, "settlement:log", []byte(p)))
	}

	msgs, err = bus.StreamRead(ctx, "settlement:log", "0", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "one", string(msgs[0].Payload))

	rest, err := bus.StreamRead(ctx, "settlement:log", msgs[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, "three", string(rest[0].Payload))

	_, err = bus.StreamRead(ctx, "settlement:log", "bogus", 10)
	require.Error(t, err)
}
