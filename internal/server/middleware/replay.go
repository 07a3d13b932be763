package middleware

import (
	"context"
	"sync"
	"time"
)

// ReplayGuard remembers signed requests so each one is accepted only once
// within ttl. It is safe for concurrent use.
type ReplayGuard struct {
	seen  map[string]time.Time
	ttl   time.Duration
	mu    sync.Mutex
	nowFn func() time.Time
}

// NewReplayGuard creates a ReplayGuard that rejects a key seen within ttl.
func NewReplayGuard(ttl time.Duration) *ReplayGuard {
	return &ReplayGuard{
		seen:  make(map[string]time.Time),
		ttl:   ttl,
		nowFn: time.Now,
	}
}

// Seen reports whether key was recorded within the TTL window. An unseen or
// expired key is recorded and false is returned.
func (g *ReplayGuard) Seen(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFn()
	if last, ok := g.seen[key]; ok && now.Sub(last) < g.ttl {
		return true
	}
	g.seen[key] = now
	return false
}

// Cleanup removes expired entries.
func (g *ReplayGuard) Cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFn()
	for sig, ts := range g.seen {
		if now.Sub(ts) >= g.ttl {
			delete(g.seen, sig)
		}
	}
}

// Run calls Cleanup every interval until ctx is cancelled.
func (g *ReplayGuard) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.Cleanup()
		}
	}
}

func (g *ReplayGuard) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
