// Package memory provides in-process implementations of the cache
// interfaces for single-replica runs and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/lotengine/internal/domain"
)

type lease struct {
	token   uint64
	expires time.Time
}

// LockManager is a domain.LockManager whose locks expire after their TTL,
// like their Redis counterparts.
type LockManager struct {
	mu      sync.Mutex
	held    map[string]lease
	next    uint64
	nowFunc func() time.Time
}

// NewLockManager returns an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]lease), nowFunc: time.Now}
}

// Acquire takes key for ttl or returns domain.ErrLockHeld.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.nowFunc()
	if cur, ok := lm.held[key]; ok && now.Before(cur.expires) {
		return nil, domain.ErrLockHeld
	}
	lm.next++
	token := lm.next
	lm.held[key] = lease{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if cur, ok := lm.held[key]; ok && cur.token == token {
				delete(lm.held, key)
			}
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
