package domain

import (
	"context"
	"time"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	// Acquire returns ErrLockHeld immediately if another holder has key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub fan-out to live clients.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Bus channels.
const (
	ChannelEvents    = "events"
	ChannelLotUpdate = "lot_update"
	// ChannelSweep carries sweep requests from API replicas to workers.
	ChannelSweep = "lifecycle_sweep"
)
