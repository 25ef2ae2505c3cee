package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/alanyoungcy/lotengine/internal/domain"
)

// openTestClient connects to LOTENGINE_TEST_REDIS_ADDR under a fresh key
// prefix. Tests are skipped when the variable is unset.
func openTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("LOTENGINE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LOTENGINE_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{Addr: addr, KeyPrefix: "lotengine-test:" + uuid.NewString() + ":"})
	assert.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLockManager_Exclusive(t *testing.T) {
	lm := NewLockManager(openTestClient(t))
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "lot:1", time.Minute)
	assert.NoError(t, err)

	_, err = lm.Acquire(ctx, "lot:1", time.Minute)
	check.True(t, errors.Is(err, domain.ErrLockHeld))

	other, err := lm.Acquire(ctx, "lot:2", time.Minute)
	assert.NoError(t, err)
	other()

	unlock()
	unlock()

	again, err := lm.Acquire(ctx, "lot:1", time.Minute)
	assert.NoError(t, err)
	again()
}

func TestLockManager_StaleUnlockKeepsNewHolder(t *testing.T) {
	lm := NewLockManager(openTestClient(t))
	ctx := context.Background()

	stale, err := lm.Acquire(ctx, "lot:1", 50*time.Millisecond)
	assert.NoError(t, err)
	time.Sleep(150 * time.Millisecond)

	current, err := lm.Acquire(ctx, "lot:1", time.Minute)
	assert.NoError(t, err)
	defer current()

	// The first holder's TTL lapsed; its unlock carries the old token.
	stale()

	_, err = lm.Acquire(ctx, "lot:1", time.Minute)
	check.True(t, errors.Is(err, domain.ErrLockHeld))
}

func TestLockManager_PrefixIsolation(t *testing.T) {
	a := NewLockManager(openTestClient(t))
	b := NewLockManager(openTestClient(t))
	ctx := context.Background()

	unlock, err := a.Acquire(ctx, "lot:1", time.Minute)
	assert.NoError(t, err)
	defer unlock()

	other, err := b.Acquire(ctx, "lot:1", time.Minute)
	assert.NoError(t, err)
	other()
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	rl := NewRateLimiter(openTestClient(t))
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "bid:alice", 3, time.Minute)
		assert.NoError(t, err)
		check.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "bid:alice", 3, time.Minute)
	assert.NoError(t, err)
	check.False(t, ok)

	// Keys are counted separately.
	ok, err = rl.Allow(ctx, "bid:bob", 3, time.Minute)
	assert.NoError(t, err)
	check.True(t, ok)

	// Denied requests are not recorded, so the window frees up one
	// minute after the first admitted request.
	now = now.Add(30 * time.Second)
	ok, err = rl.Allow(ctx, "bid:alice", 3, time.Minute)
	assert.NoError(t, err)
	check.False(t, ok)

	now = now.Add(31 * time.Second)
	ok, err = rl.Allow(ctx, "bid:alice", 3, time.Minute)
	assert.NoError(t, err)
	check.True(t, ok)
}

func TestSignalBus_PublishSubscribe(t *testing.T) {
	c := openTestClient(t)
	bus := NewSignalBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := bus.Subscribe(ctx, domain.ChannelLotUpdate)
	assert.NoError(t, err)

	assert.NoError(t, bus.Publish(ctx, domain.ChannelLotUpdate, []byte(`{"lot_id":"lot-1"}`)))

	select {
	case msg := <-sub:
		check.Equal(t, `{"lot_id":"lot-1"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}

	cancel()
	select {
	case _, ok := <-sub:
		check.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed after cancel")
	}
}
