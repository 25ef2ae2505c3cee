package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/alanyoungcy/lotengine/internal/domain"
	memstore "github.com/alanyoungcy/lotengine/internal/store/memory"
)

func newLifecycle(h *harness, policy domain.EndPolicy) *LifecycleController {
	return NewLifecycleController(h.store, h.locks, h.store, LifecycleConfig{EndPolicy: policy}, discardLogger()).
		WithClock(h.clock.Now)
}

func eventsOfType(store interface{ Events() []domain.Event }, typ domain.EventType) []domain.Event {
	var out []domain.Event
	for _, e := range store.Events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func TestSweepStartsPreviewAuction(t *testing.T) {
	h := newHarness(t, domain.EndPolicyExtended)
	h.store.PutAuction(domain.Auction{
		ID:        "a1",
		Status:    domain.AuctionPreview,
		StartsAt:  auctionEnd.Add(-time.Hour),
		EndsAt:    auctionEnd,
		Published: true,
	})
	lc := newLifecycle(h, domain.EndPolicyExtended)
	ctx := context.Background()

	h.clock.Set(auctionEnd.Add(-2 * time.Hour))
	rep, err := lc.Sweep(ctx)
	assert.NoError(t, err)
	check.Equal(t, 0, len(rep.Started))

	h.clock.Set(auctionEnd.Add(-time.Hour))
	rep, err = lc.Sweep(ctx)
	assert.NoError(t, err)
	check.Equal(t, []string{"a1"}, rep.Started)

	a, _ := h.store.GetAuction(ctx, "a1")
	check.Equal(t, domain.AuctionLive, a.Status)
	check.Equal(t, 1, len(eventsOfType(h.store, domain.EventAuctionStarted)))

	rep, err = lc.Sweep(ctx)
	assert.NoError(t, err)
	check.Equal(t, 0, len(rep.Started))
	check.Equal(t, 1, len(eventsOfType(h.store, domain.EventAuctionStarted)))
}

func TestSweepIgnoresDraftAndUnpublished(t *testing.T) {
	h := newHarness(t, domain.EndPolicyExtended)
	h.store.PutAuction(domain.Auction{ID: "draft", Status: domain.AuctionDraft, StartsAt: auctionEnd.Add(-time.Hour), EndsAt: auctionEnd, Published: true})
	h.store.PutAuction(domain.Auction{ID: "hidden", Status: domain.AuctionPreview, StartsAt: auctionEnd.Add(-time.Hour), EndsAt: auctionEnd})
	lc := newLifecycle(h, domain.EndPolicyExtended)

	h.clock.Set(auctionEnd.Add(time.Hour))
	rep, err := lc.Sweep(context.Background())
	assert.NoError(t, err)
	check.Equal(t, 0, len(rep.Started))
	check.Equal(t, 0, len(rep.Ended))

	a, _ := h.store.GetAuction(context.Background(), "draft")
	check.Equal(t, domain.AuctionDraft, a.Status)
}

func TestSweepEndsAuctionAndEmitsLotWonOnce(t *testing.T) {
	h := newHarness(t, domain.EndPolicyExtended)
	ctx := context.Background()

	h.store.PutAuction(domain.Auction{
		ID:                  "a1",
		Status:              domain.AuctionLive,
		StartsAt:            auctionEnd.Add(-24 * time.Hour),
		EndsAt:              auctionEnd,
		SoftCloseWindowSec:  120,
		SoftCloseExtendSec:  120,
		FixedIncrementCents: 500,
		Published:           true,
	})
	h.store.PutLot(domain.Lot{ID: "met", AuctionID: "a1", StartingBidCents: 12000, ReserveCents: cents(8000)})
	h.store.PutLot(domain.Lot{ID: "unmet", AuctionID: "a1", StartingBidCents: 8000, ReserveCents: cents(9000)})
	h.store.PutLot(domain.Lot{ID: "nobids", AuctionID: "a1", StartingBidCents: 1000})

	winning, err := h.bids.PlaceBid(ctx, "met", "alice", 12500)
	assert.NoError(t, err)
	_, err = h.bids.PlaceBid(ctx, "unmet", "bob", 8500)
	assert.NoError(t, err)

	unmet, _ := h.store.GetLot(ctx, "unmet")
	check.False(t, unmet.ReserveMet)

	lc := newLifecycle(h, domain.EndPolicyExtended)
	h.clock.Set(auctionEnd.Add(time.Second))
	rep, err := lc.Sweep(ctx)
	assert.NoError(t, err)
	check.Equal(t, []string{"a1"}, rep.Ended)
	check.Equal(t, 1, rep.LotsWon)

	a, _ := h.store.GetAuction(ctx, "a1")
	check.Equal(t, domain.AuctionEnded, a.Status)
	assert.NotNil(t, a.ActualEndedAt)
	check.Equal(t, auctionEnd.Add(time.Second), *a.ActualEndedAt)

	met, _ := h.store.GetLot(ctx, "met")
	check.True(t, met.Sold)
	check.True(t, met.ReserveMet)
	unmet, _ = h.store.GetLot(ctx, "unmet")
	check.False(t, unmet.Sold)

	won := eventsOfType(h.store, domain.EventLotWon)
	assert.Equal(t, 1, len(won))
	var lw domain.LotWonEvent
	assert.NoError(t, won[0].Decode(&lw))
	check.Equal(t, domain.LotWonEvent{
		LotID:        "met",
		AuctionID:    "a1",
		WinnerID:     "alice",
		WinningBidID: winning.Bid.ID,
		AmountCents:  12500,
	}, lw)
	check.Equal(t, 1, len(eventsOfType(h.store, domain.EventAuctionEnded)))

	// A repeated sweep is a no-op.
	h.clock.Set(auctionEnd.Add(2 * time.Minute))
	rep, err = lc.Sweep(ctx)
	assert.NoError(t, err)
	check.Equal(t, 0, len(rep.Ended))
	check.Equal(t, 1, len(eventsOfType(h.store, domain.EventLotWon)))
	check.Equal(t, 1, len(eventsOfType(h.store, domain.EventAuctionEnded)))
}

func TestSweepPreviewPastEndStartsThenEnds(t *testing.T) {
	h := newHarness(t, domain.EndPolicyExtended)
	h.store.PutAuction(domain.Auction{
		ID:        "a1",
		Status:    domain.AuctionPreview,
		StartsAt:  auctionEnd.Add(-time.Hour),
		EndsAt:    auctionEnd,
		Published: true,
	})
	lc := newLifecycle(h, domain.EndPolicyExtended)

	h.clock.Set(auctionEnd.Add(time.Hour))
	rep, err := lc.Sweep(context.Background())
	assert.NoError(t, err)
	check.Equal(t, []string{"a1"}, rep.Started)
	check.Equal(t, []string{"a1"}, rep.Ended)
}

// snapshotRepo answers unlocked lot listings from a snapshot taken before
// the last bid committed, the view a sweep gets when it reads without
// waiting on the bid's row lock.
type snapshotRepo struct {
	*memstore.Store
	before []domain.Lot
}

type snapshotTx struct {
	domain.Tx
	before []domain.Lot
}

func (t snapshotTx) ListLots(context.Context, string) ([]domain.Lot, error) {
	return t.before, nil
}

func (r *snapshotRepo) WithTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	return r.Store.WithTx(ctx, func(tx domain.Tx) error {
		return fn(snapshotTx{Tx: tx, before: r.before})
	})
}

func TestSweepSeesBidCommittedAtClose(t *testing.T) {
	h := newHarness(t, domain.EndPolicyNominal)
	h.seedLot("lot-1", 3500, cents(4000))
	ctx := context.Background()

	before, err := h.store.ListLots(ctx, "auction-lot-1")
	assert.NoError(t, err)

	h.clock.Set(auctionEnd.Add(-time.Second))
	res, err := h.bids.PlaceBid(ctx, "lot-1", "alice", 4000)
	assert.NoError(t, err)

	repo := &snapshotRepo{Store: h.store, before: before}
	lc := NewLifecycleController(repo, h.locks, h.store, LifecycleConfig{EndPolicy: domain.EndPolicyNominal}, discardLogger()).
		WithClock(h.clock.Now)

	h.clock.Set(auctionEnd.Add(time.Second))
	rep, err := lc.Sweep(ctx)
	assert.NoError(t, err)
	check.Equal(t, []string{"auction-lot-1"}, rep.Ended)
	check.Equal(t, 1, rep.LotsWon)

	lot, _ := h.store.GetLot(ctx, "lot-1")
	check.True(t, lot.Sold)

	won := eventsOfType(h.store, domain.EventLotWon)
	assert.Equal(t, 1, len(won))
	var lw domain.LotWonEvent
	assert.NoError(t, won[0].Decode(&lw))
	check.Equal(t, "alice", lw.WinnerID)
	check.Equal(t, res.Bid.ID, lw.WinningBidID)
	check.Equal(t, int64(4000), lw.AmountCents)
}

// extendedLot places a bid at T-60s so the lot's deadline moves to T+60s.
func extendedLot(t *testing.T, h *harness) {
	t.Helper()
	h.seedLot("lot-1", 3500, nil)
	h.clock.Set(auctionEnd.Add(-60 * time.Second))
	res, err := h.bids.PlaceBid(context.Background(), "lot-1", "alice", 4000)
	assert.NoError(t, err)
	assert.Equal(t, auctionEnd.Add(60*time.Second), res.EffectiveEndTime)
}

func TestEndPolicyExtendedKeepsExtendedLotOpen(t *testing.T) {
	h := newHarness(t, domain.EndPolicyExtended)
	extendedLot(t, h)
	lc := newLifecycle(h, domain.EndPolicyExtended)
	ctx := context.Background()

	h.clock.Set(auctionEnd.Add(30 * time.Second))
	rep, err := lc.Sweep(ctx)
	assert.NoError(t, err)
	check.Equal(t, 0, len(rep.Ended))

	res, err := h.bids.PlaceBid(ctx, "lot-1", "bob", 4500)
	assert.NoError(t, err)
	check.Equal(t, auctionEnd.Add(150*time.Second), res.EffectiveEndTime)

	h.clock.Set(auctionEnd.Add(150 * time.Second))
	rep, err = lc.Sweep(ctx)
	assert.NoError(t, err)
	check.Equal(t, []string{"auction-lot-1"}, rep.Ended)

	won := eventsOfType(h.store, domain.EventLotWon)
	assert.Equal(t, 1, len(won))
	var lw domain.LotWonEvent
	assert.NoError(t, won[0].Decode(&lw))
	check.Equal(t, "bob", lw.WinnerID)
	check.Equal(t, int64(4500), lw.AmountCents)
}

func TestEndPolicyNominalTruncatesExtension(t *testing.T) {
	h := newHarness(t, domain.EndPolicyNominal)
	extendedLot(t, h)
	lc := newLifecycle(h, domain.EndPolicyNominal)
	ctx := context.Background()

	h.clock.Set(auctionEnd.Add(30 * time.Second))
	_, err := h.bids.PlaceBid(ctx, "lot-1", "bob", 4500)
	check.True(t, errors.Is(err, domain.ErrAuctionNotLive))

	rep, err := lc.Sweep(ctx)
	assert.NoError(t, err)
	check.Equal(t, []string{"auction-lot-1"}, rep.Ended)

	won := eventsOfType(h.store, domain.EventLotWon)
	assert.Equal(t, 1, len(won))
	var lw domain.LotWonEvent
	assert.NoError(t, won[0].Decode(&lw))
	check.Equal(t, "alice", lw.WinnerID)
}

func TestLifecycleTickSkipsWhenLockHeld(t *testing.T) {
	h := newHarness(t, domain.EndPolicyExtended)
	h.store.PutAuction(domain.Auction{
		ID:        "a1",
		Status:    domain.AuctionPreview,
		StartsAt:  auctionEnd.Add(-time.Hour),
		EndsAt:    auctionEnd,
		Published: true,
	})
	lc := newLifecycle(h, domain.EndPolicyExtended)
	ctx := context.Background()

	unlock, err := h.locks.Acquire(ctx, sweepLockKey, time.Minute)
	assert.NoError(t, err)
	lc.tick(ctx)
	a, _ := h.store.GetAuction(ctx, "a1")
	check.Equal(t, domain.AuctionPreview, a.Status)

	unlock()
	lc.tick(ctx)
	a, _ = h.store.GetAuction(ctx, "a1")
	check.Equal(t, domain.AuctionLive, a.Status)
}

func TestLifecycleTriggerCoalesces(t *testing.T) {
	h := newHarness(t, domain.EndPolicyExtended)
	lc := newLifecycle(h, domain.EndPolicyExtended)

	check.True(t, lc.Trigger())
	check.False(t, lc.Trigger())
}

func TestLifecycleRunSweepsOnTrigger(t *testing.T) {
	h := newHarness(t, domain.EndPolicyExtended)
	lc := NewLifecycleController(h.store, h.locks, nil, LifecycleConfig{Interval: time.Hour}, discardLogger()).
		WithClock(h.clock.Now)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- lc.Run(ctx) }()

	h.store.PutAuction(domain.Auction{
		ID:        "a1",
		Status:    domain.AuctionPreview,
		StartsAt:  auctionEnd.Add(-2 * time.Hour),
		EndsAt:    auctionEnd,
		Published: true,
	})
	lc.Trigger()

	deadline := time.Now().Add(2 * time.Second)
	for {
		a, _ := h.store.GetAuction(ctx, "a1")
		if a.Status == domain.AuctionLive {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("triggered sweep did not run")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	check.True(t, errors.Is(<-done, context.Canceled))
}
