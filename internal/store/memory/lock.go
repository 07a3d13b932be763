package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/polysettle/internal/domain"
)

// LockManager is a process-local domain.LockManager with TTL expiry.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]lease
	seq   uint64
	nowFn func() time.Time
}

type lease struct {
	token   uint64
	expires time.Time
}

// NewLockManager returns an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]lease), nowFn: time.Now}
}

// Acquire takes key for ttl or fails with domain.ErrLockHeld. It never waits.
func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.nowFn()
	if l, ok := lm.held[key]; ok && now.Before(l.expires) {
		return nil, domain.ErrLockHeld
	}
	lm.seq++
	token := lm.seq
	lm.held[key] = lease{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if l, ok := lm.held[key]; ok && l.token == token {
				delete(lm.held, key)
			}
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
