package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polysettle/internal/domain"
)

const defaultMarketTTL = 5 * time.Minute

// MarketCache implements domain.MarketCache with JSON snapshots stored at
// "market:{address}".
type MarketCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewMarketCache creates a MarketCache backed by the given Client. A
// non-positive ttl uses five minutes.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = defaultMarketTTL
	}
	return &MarketCache{rdb: c.Underlying(), ttl: ttl}
}

func marketKey(addr domain.Address) string { return "market:" + addr.Hex() }

// Set stores a snapshot of market.
func (mc *MarketCache) Set(ctx context.Context, market domain.Market) error {
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", market.Address, err)
	}
	if err := mc.rdb.Set(ctx, marketKey(market.Address), data, mc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set market %s: %w", market.Address, err)
	}
	return nil
}

// Get returns the cached snapshot for addr, or an error wrapping
// domain.ErrNotFound on a miss.
func (mc *MarketCache) Get(ctx context.Context, addr domain.Address) (domain.Market, error) {
	data, err := mc.rdb.Get(ctx, marketKey(addr)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, fmt.Errorf("redis: market %s: %w", addr, domain.ErrNotFound)
		}
		return domain.Market{}, fmt.Errorf("redis: get market %s: %w", addr, err)
	}

	var market domain.Market
	if err := json.Unmarshal(data, &market); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %s: %w", addr, err)
	}
	return market, nil
}

// Invalidate drops the snapshot for addr.
func (mc *MarketCache) Invalidate(ctx context.Context, addr domain.Address) error {
	if err := mc.rdb.Del(ctx, marketKey(addr)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", addr, err)
	}
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)
