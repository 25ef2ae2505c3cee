package service

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/lotengine/internal/cache/memory"
	"github.com/alanyoungcy/lotengine/internal/domain"
	memstore "github.com/alanyoungcy/lotengine/internal/store/memory"
)

// auctionEnd is T in the soft-close scenarios.
var auctionEnd = time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *clock { return &clock{now: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type harness struct {
	store *memstore.Store
	locks *memory.LockManager
	bus   *memory.Bus
	clock *clock
	bids  *BidService
}

func newHarness(t *testing.T, policy domain.EndPolicy) *harness {
	t.Helper()
	c := newClock(auctionEnd.Add(-time.Hour))
	store := memstore.New().WithClock(c.Now)
	locks := memory.NewLockManager()
	bus := memory.NewBus()
	bids := NewBidService(store, locks, bus, BidConfig{EndPolicy: policy}, discardLogger()).WithClock(c.Now)
	return &harness{store: store, locks: locks, bus: bus, clock: c, bids: bids}
}

// seedLot creates a LIVE auction ending at auctionEnd with a single lot.
func (h *harness) seedLot(lotID string, startingCents int64, reserveCents *int64) domain.Lot {
	auctionID := "auction-" + lotID
	h.store.PutAuction(domain.Auction{
		ID:                  auctionID,
		Title:               "Spring Ceramics",
		Status:              domain.AuctionLive,
		StartsAt:            auctionEnd.Add(-24 * time.Hour),
		EndsAt:              auctionEnd,
		SoftCloseWindowSec:  120,
		SoftCloseExtendSec:  120,
		FixedIncrementCents: 500,
		Published:           true,
	})
	l := domain.Lot{
		ID:               lotID,
		AuctionID:        auctionID,
		Title:            "Celadon bowl",
		StartingBidCents: startingCents,
		ReserveCents:     reserveCents,
	}
	h.store.PutLot(l)
	got, _ := h.store.GetLot(context.Background(), lotID)
	return got
}

func cents(v int64) *int64 { return &v }
