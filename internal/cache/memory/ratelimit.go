package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/lotengine/internal/domain"
)

// RateLimiter is an in-process sliding-window domain.RateLimiter. It keeps
// one timestamp per admitted request, so it suits single-replica runs only.
type RateLimiter struct {
	mu      sync.Mutex
	hits    map[string][]time.Time
	nowFunc func() time.Time
}

// NewRateLimiter returns an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{hits: make(map[string][]time.Time), nowFunc: time.Now}
}

// Allow counts one request against key unless limit requests already
// landed within the trailing window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.nowFunc()
	cutoff := now.Add(-window)
	kept := rl.hits[key][:0]
	for _, t := range rl.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		rl.hits[key] = kept
		return false, nil
	}
	rl.hits[key] = append(kept, now)
	return true, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
