// Package oracle provides the price sources markets resolve against.
package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/polysettle/internal/domain"
)

// CachedSource reads the latest published price from a domain.PriceCache.
type CachedSource struct {
	cache domain.PriceCache
}

// NewCachedSource wraps cache as a domain.PriceSource.
func NewCachedSource(cache domain.PriceCache) *CachedSource {
	return &CachedSource{cache: cache}
}

// Latest returns the cached reading for reference.
func (s *CachedSource) Latest(ctx context.Context, reference string) (domain.Price, error) {
	p, err := s.cache.GetPrice(ctx, reference)
	if err != nil {
		return domain.Price{}, fmt.Errorf("oracle: latest %q: %w", reference, err)
	}
	return p, nil
}

// StaticSource holds prices in memory. It doubles as a domain.PriceCache so
// the same publication path works without Redis.
type StaticSource struct {
	mu     sync.RWMutex
	prices map[string]domain.Price
}

// NewStaticSource returns an empty StaticSource.
func NewStaticSource() *StaticSource {
	return &StaticSource{prices: make(map[string]domain.Price)}
}

// Latest implements domain.PriceSource.
func (s *StaticSource) Latest(ctx context.Context, reference string) (domain.Price, error) {
	return s.GetPrice(ctx, reference)
}

// SetPrice implements domain.PriceCache.
func (s *StaticSource) SetPrice(_ context.Context, reference string, price domain.Price) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[reference] = price
	return nil
}

// GetPrice implements domain.PriceCache.
func (s *StaticSource) GetPrice(_ context.Context, reference string) (domain.Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[reference]
	if !ok {
		return domain.Price{}, fmt.Errorf("oracle: price %q: %w", reference, domain.ErrNotFound)
	}
	return p, nil
}

var (
	_ domain.PriceSource = (*CachedSource)(nil)
	_ domain.PriceSource = (*StaticSource)(nil)
	_ domain.PriceCache  = (*StaticSource)(nil)
)
