package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/alanyoungcy/lotengine/internal/domain"
)

type recordingNotifier struct {
	mu      sync.Mutex
	outbid  []domain.OutbidNotify
	winners []domain.WinnerNotify
	ended   []domain.AuctionEndedEvent
}

func (n *recordingNotifier) Outbid(_ context.Context, p domain.OutbidNotify) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outbid = append(n.outbid, p)
	return nil
}

func (n *recordingNotifier) Winner(_ context.Context, p domain.WinnerNotify) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.winners = append(n.winners, p)
	return nil
}

func (n *recordingNotifier) AuctionEnded(_ context.Context, p domain.AuctionEndedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ended = append(n.ended, p)
	return nil
}

type archiveFunc func(ctx context.Context, auctionID string) (int64, error)

func (f archiveFunc) ArchiveAuction(ctx context.Context, auctionID string) (int64, error) {
	return f(ctx, auctionID)
}

func TestDispatcherEndToEnd(t *testing.T) {
	h := newHarness(t, domain.EndPolicyExtended)
	ctx := context.Background()
	h.seedLot("lot-1", 3500, cents(4000))

	_, err := h.bids.PlaceBid(ctx, "lot-1", "bob", 4000)
	assert.NoError(t, err)
	_, err = h.bids.PlaceBid(ctx, "lot-1", "alice", 4500)
	assert.NoError(t, err)

	h.clock.Set(auctionEnd.Add(time.Second))
	_, err = newLifecycle(h, domain.EndPolicyExtended).Sweep(ctx)
	assert.NoError(t, err)

	notifier := &recordingNotifier{}
	var archived []string
	d := NewDispatcher(h.store, h.locks, h.bus, DispatchConfig{}, discardLogger())
	d.Handle(domain.EventLotWon, SettleHandler(newSettlement(h, newGateway())))
	d.Handle(domain.EventAuctionEnded, ArchiveHandler(archiveFunc(func(_ context.Context, id string) (int64, error) {
		archived = append(archived, id)
		return 3, nil
	})))
	RegisterNotifier(d, notifier)

	// Outbid, LotWon and AuctionEnded; settlement queues WinnerNotify.
	n, err := d.DispatchOnce(ctx)
	assert.NoError(t, err)
	check.Equal(t, 3, n)

	n, err = d.DispatchOnce(ctx)
	assert.NoError(t, err)
	check.Equal(t, 1, n)

	n, err = d.DispatchOnce(ctx)
	assert.NoError(t, err)
	check.Equal(t, 0, n)

	assert.Equal(t, 1, len(notifier.outbid))
	check.Equal(t, "bob", notifier.outbid[0].UserID)
	check.Equal(t, int64(5000), notifier.outbid[0].NewMinBidCents)

	assert.Equal(t, 1, len(notifier.winners))
	check.Equal(t, "alice", notifier.winners[0].UserID)
	check.Equal(t, domain.PaymentSucceeded, notifier.winners[0].PaymentStatus)

	assert.Equal(t, 1, len(notifier.ended))
	check.Equal(t, 1, notifier.ended[0].LotsSold)
	check.Equal(t, []string{"auction-lot-1"}, archived)

	for _, e := range h.store.Events() {
		check.Equal(t, domain.EventDelivered, e.State)
	}
}

func TestDispatcherRetriesThenParks(t *testing.T) {
	h := newHarness(t, domain.EndPolicyExtended)
	ctx := context.Background()
	ev, err := domain.NewEvent(domain.EventAuctionEnded, domain.AuctionEndedKey("a1"), domain.AuctionEndedEvent{AuctionID: "a1"}, h.clock.Now())
	assert.NoError(t, err)
	ev.ID = "ev-1"
	assert.NoError(t, h.store.EnqueueEvent(ctx, ev))

	calls := 0
	d := NewDispatcher(h.store, h.locks, nil, DispatchConfig{MaxAttempts: 2}, discardLogger())
	d.Handle(domain.EventAuctionEnded, func(context.Context, domain.Event) error {
		calls++
		return errors.New("s3: put: connection reset")
	})

	for i := 0; i < 3; i++ {
		n, err := d.DispatchOnce(ctx)
		assert.NoError(t, err)
		check.Equal(t, 0, n)
	}
	check.Equal(t, 2, calls)

	events := h.store.Events()
	assert.Equal(t, 1, len(events))
	check.Equal(t, domain.EventParked, events[0].State)
	check.Equal(t, 2, events[0].Attempts)
	check.Equal(t, "s3: put: connection reset", events[0].LastError)
}

func TestDispatcherPublishesToBus(t *testing.T) {
	h := newHarness(t, domain.EndPolicyExtended)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := h.bus.Subscribe(ctx, domain.ChannelEvents)
	assert.NoError(t, err)

	ev, err := domain.NewEvent(domain.EventAuctionStarted, domain.AuctionStartedKey("a1"), domain.AuctionStartedEvent{AuctionID: "a1"}, h.clock.Now())
	assert.NoError(t, err)
	ev.ID = "ev-1"
	assert.NoError(t, h.store.EnqueueEvent(ctx, ev))

	d := NewDispatcher(h.store, h.locks, h.bus, DispatchConfig{}, discardLogger())
	n, err := d.DispatchOnce(ctx)
	assert.NoError(t, err)
	check.Equal(t, 1, n)

	select {
	case msg := <-sub:
		var got struct {
			Type    domain.EventType           `json:"type"`
			Payload domain.AuctionStartedEvent `json:"payload"`
		}
		assert.NoError(t, json.Unmarshal(msg, &got))
		check.Equal(t, domain.EventAuctionStarted, got.Type)
		check.Equal(t, "a1", got.Payload.AuctionID)
	case <-time.After(time.Second):
		t.Fatal("event not published")
	}
}
