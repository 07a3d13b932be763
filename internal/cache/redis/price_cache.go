package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polysettle/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each oracle
// reference is stored at "price:{reference}" with fields "value", "expo" and
// "ts" (Unix nanoseconds of publication).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(reference string) string {
	return "price:" + reference
}

// SetPrice stores the latest reading for reference.
func (pc *PriceCache) SetPrice(ctx context.Context, reference string, price domain.Price) error {
	fields := map[string]any{
		"value": strconv.FormatInt(price.Value, 10),
		"expo":  strconv.FormatInt(int64(price.Expo), 10),
		"ts":    strconv.FormatInt(price.PublishedAt.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(reference), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", reference, err)
	}
	return nil
}

// GetPrice returns the latest reading for reference, or an error wrapping
// domain.ErrNotFound when nothing has been published.
func (pc *PriceCache) GetPrice(ctx context.Context, reference string) (domain.Price, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(reference)).Result()
	if err != nil {
		return domain.Price{}, fmt.Errorf("redis: get price %s: %w", reference, err)
	}
	if len(vals) == 0 {
		return domain.Price{}, fmt.Errorf("redis: price %s: %w", reference, domain.ErrNotFound)
	}

	value, err := strconv.ParseInt(vals["value"], 10, 64)
	if err != nil {
		return domain.Price{}, fmt.Errorf("redis: parse price value %s: %w", reference, err)
	}
	expo, err := strconv.ParseInt(vals["expo"], 10, 32)
	if err != nil {
		return domain.Price{}, fmt.Errorf("redis: parse price expo %s: %w", reference, err)
	}
	ts, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.Price{}, fmt.Errorf("redis: parse price ts %s: %w", reference, err)
	}

	return domain.Price{
		Value:       value,
		Expo:        int32(expo),
		PublishedAt: time.Unix(0, ts).UTC(),
	}, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
