package domain

import (
	"context"
	"time"
)

// PriceCache stores the latest published reading per oracle reference.
type PriceCache interface {
	SetPrice(ctx context.Context, reference string, price Price) error
	GetPrice(ctx context.Context, reference string) (Price, error)
}

// MarketCache provides fast read-through lookups of market snapshots.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, addr Address) (Market, error)
	Invalidate(ctx context.Context, addr Address) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides non-blocking exclusive locks. Acquire returns
// ErrLockHeld when another holder owns key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
