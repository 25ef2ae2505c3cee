package postgres

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

// openTestRepo connects to LOTENGINE_TEST_DATABASE_URL, migrates and
// returns a repository. Tests are skipped when the variable is unset.
func openTestRepo(t *testing.T) (*Repository, *Client) {
	t.Helper()
	dsn := os.Getenv("LOTENGINE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("LOTENGINE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	client, err := New(ctx, ClientConfig{DSN: dsn, MaxConns: 8})
	assert.NoError(t, err)
	t.Cleanup(client.Close)
	assert.NoError(t, client.RunMigrations(ctx))
	return NewRepository(client.Pool()), client
}

func seedLot(t *testing.T, client *Client) (domain.Auction, domain.Lot) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	a := domain.Auction{
		ID:                  "auc-" + uuid.NewString(),
		Status:              domain.AuctionLive,
		StartsAt:            now.Add(-time.Hour),
		EndsAt:              now.Add(time.Hour),
		SoftCloseWindowSec:  120,
		SoftCloseExtendSec:  120,
		FixedIncrementCents: 500,
		Published:           true,
	}
	_, err := client.Pool().Exec(ctx, `INSERT INTO auctions
		(id, status, starts_at, ends_at, soft_close_window_sec, soft_close_extend_sec, fixed_increment_cents, published)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, string(a.Status), a.StartsAt, a.EndsAt, a.SoftCloseWindowSec, a.SoftCloseExtendSec, a.FixedIncrementCents, a.Published)
	assert.NoError(t, err)

	l := domain.Lot{ID: "lot-" + uuid.NewString(), AuctionID: a.ID, StartingBidCents: 1000, EffectiveEndTime: a.EndsAt}
	_, err = client.Pool().Exec(ctx, `INSERT INTO lots (id, auction_id, starting_bid_cents, effective_end_time)
		VALUES ($1, $2, $3, $4)`, l.ID, l.AuctionID, l.StartingBidCents, l.EffectiveEndTime)
	assert.NoError(t, err)
	return a, l
}

func TestRepository_UpdateLotVersionCheck(t *testing.T) {
	repo, client := openTestRepo(t)
	ctx := context.Background()
	_, l := seedLot(t, client)

	amount := int64(1500)
	var updated domain.Lot
	err := repo.WithTx(ctx, func(tx domain.Tx) error {
		cur, err := tx.GetLotForUpdate(ctx, l.ID)
		if err != nil {
			return err
		}
		cur.CurrentBidCents = &amount
		updated, err = tx.UpdateLot(ctx, cur)
		return err
	})
	assert.NoError(t, err)
	check.Equal(t, int64(1), updated.Version)
	check.Equal(t, amount, *updated.CurrentBidCents)

	// A writer holding the old version loses.
	stale := l
	stale.CurrentBidCents = &amount
	_, err = repo.UpdateLot(ctx, stale)
	check.True(t, errors.Is(err, domain.ErrConflict))

	stale.ID = "missing-" + uuid.NewString()
	_, err = repo.UpdateLot(ctx, stale)
	check.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRepository_ListLotsForUpdateWaitsForBid(t *testing.T) {
	repo, client := openTestRepo(t)
	ctx := context.Background()
	a, l := seedLot(t, client)

	amount := int64(2500)
	locked := make(chan struct{})
	release := make(chan struct{})
	bidErr := make(chan error, 1)
	go func() {
		bidErr <- repo.WithTx(ctx, func(tx domain.Tx) error {
			cur, err := tx.GetLotForUpdate(ctx, l.ID)
			if err != nil {
				close(locked)
				return err
			}
			cur.CurrentBidCents = &amount
			cur.ReserveMet = true
			if _, err := tx.UpdateLot(ctx, cur); err != nil {
				close(locked)
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	swept := make(chan []domain.Lot, 1)
	sweepErr := make(chan error, 1)
	go func() {
		sweepErr <- repo.WithTx(ctx, func(tx domain.Tx) error {
			lots, err := tx.ListLotsForUpdate(ctx, a.ID)
			if err != nil {
				return err
			}
			swept <- lots
			return nil
		})
	}()

	select {
	case <-swept:
		close(release)
		t.Fatal("lot listing did not wait for the bid's row lock")
	case <-time.After(200 * time.Millisecond):
	}
	close(release)
	assert.NoError(t, <-bidErr)

	select {
	case lots := <-swept:
		assert.Equal(t, 1, len(lots))
		assert.NotNil(t, lots[0].CurrentBidCents)
		check.Equal(t, amount, *lots[0].CurrentBidCents)
		check.True(t, lots[0].ReserveMet)
		check.Equal(t, int64(1), lots[0].Version)
	case <-time.After(5 * time.Second):
		t.Fatal("lot listing never returned")
	}
	assert.NoError(t, <-sweepErr)
}

func TestRepository_OneLeadingBidPerLot(t *testing.T) {
	repo, client := openTestRepo(t)
	ctx := context.Background()
	_, l := seedLot(t, client)

	now := time.Now().UTC()
	first := domain.Bid{ID: uuid.NewString(), LotID: l.ID, UserID: "alice", AmountCents: 1500, Status: domain.BidLeading, IsLeading: true, PlacedAt: now}
	assert.NoError(t, repo.InsertBid(ctx, first))

	second := first
	second.ID = uuid.NewString()
	err := repo.InsertBid(ctx, second)
	check.True(t, errors.Is(err, domain.ErrConflict))

	err = repo.InsertBid(ctx, first)
	check.True(t, errors.Is(err, domain.ErrAlreadyExists))

	lead, err := repo.GetLeadingBid(ctx, l.ID)
	assert.NoError(t, err)
	check.Equal(t, first.ID, lead.ID)
}

func TestRepository_OrderUniquePerLot(t *testing.T) {
	repo, client := openTestRepo(t)
	ctx := context.Background()
	a, l := seedLot(t, client)

	now := time.Now().UTC()
	bid := domain.Bid{ID: uuid.NewString(), LotID: l.ID, UserID: "alice", AmountCents: 5000, Status: domain.BidLeading, IsLeading: true, PlacedAt: now}
	assert.NoError(t, repo.InsertBid(ctx, bid))

	order := domain.Order{
		ID: uuid.NewString(), LotID: l.ID, UserID: "alice", WinningBidID: bid.ID,
		FinalPriceCents: 5000, ShippingCents: 1500, TaxCents: 520, TotalCents: 7020,
		Status: domain.OrderStatusPending, PaymentStatus: domain.PaymentPending,
		CreatedAt: now, UpdatedAt: now,
	}
	assert.NoError(t, repo.InsertOrder(ctx, order))

	dup := order
	dup.ID = uuid.NewString()
	check.True(t, errors.Is(repo.InsertOrder(ctx, dup), domain.ErrAlreadyExists))

	order.PaymentStatus = domain.PaymentSucceeded
	order.Status = domain.OrderStatusPaid
	order.PaymentRef = "cap_1"
	order.PaidAt = &now
	assert.NoError(t, repo.UpdateOrder(ctx, order))

	got, err := repo.GetOrderByLot(ctx, l.ID)
	assert.NoError(t, err)
	check.Equal(t, domain.PaymentSucceeded, got.PaymentStatus)
	check.Equal(t, "cap_1", got.PaymentRef)

	orders, err := repo.ListOrdersByAuction(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, 1, len(orders))
}

func TestRepository_DuplicateOrderInTxCommits(t *testing.T) {
	repo, client := openTestRepo(t)
	ctx := context.Background()
	_, l := seedLot(t, client)

	now := time.Now().UTC()
	bid := domain.Bid{ID: uuid.NewString(), LotID: l.ID, UserID: "alice", AmountCents: 5000, Status: domain.BidLeading, IsLeading: true, PlacedAt: now}
	assert.NoError(t, repo.InsertBid(ctx, bid))

	order := domain.Order{
		ID: uuid.NewString(), LotID: l.ID, UserID: "alice", WinningBidID: bid.ID,
		FinalPriceCents: 5000, ShippingCents: 1500, TaxCents: 520, TotalCents: 7020,
		Status: domain.OrderStatusPending, PaymentStatus: domain.PaymentPending,
		CreatedAt: now, UpdatedAt: now,
	}
	assert.NoError(t, repo.InsertOrder(ctx, order))

	// The duplicate is absorbed and later statements in the same
	// transaction still run and commit.
	dup := order
	dup.ID = uuid.NewString()
	err := repo.WithTx(ctx, func(tx domain.Tx) error {
		if err := tx.InsertOrder(ctx, dup); !errors.Is(err, domain.ErrAlreadyExists) {
			return err
		}
		b, err := tx.GetBid(ctx, bid.ID)
		if err != nil {
			return err
		}
		b.Status = domain.BidWon
		return tx.UpdateBid(ctx, b)
	})
	assert.NoError(t, err)

	got, err := repo.GetBid(ctx, bid.ID)
	assert.NoError(t, err)
	check.Equal(t, domain.BidWon, got.Status)

	o, err := repo.GetOrderByLot(ctx, l.ID)
	assert.NoError(t, err)
	check.Equal(t, order.ID, o.ID)
}

func TestRepository_OutboxDedupAndDelivery(t *testing.T) {
	repo, client := openTestRepo(t)
	ctx := context.Background()
	_, l := seedLot(t, client)

	now := time.Now().UTC()
	ev, err := domain.NewEvent(domain.EventLotWon, domain.LotWonKey(l.ID), domain.LotWonEvent{LotID: l.ID}, now)
	assert.NoError(t, err)
	ev.ID = uuid.NewString()
	assert.NoError(t, repo.EnqueueEvent(ctx, ev))

	again := ev
	again.ID = uuid.NewString()
	check.True(t, errors.Is(repo.EnqueueEvent(ctx, again), domain.ErrAlreadyExists))

	assert.NoError(t, repo.MarkEventFailed(ctx, ev.ID, "boom", false))
	pending, err := repo.PendingEvents(ctx, 1000)
	assert.NoError(t, err)
	found := false
	for _, p := range pending {
		if p.ID == ev.ID {
			found = true
			check.Equal(t, 1, p.Attempts)
			check.Equal(t, "boom", p.LastError)
		}
	}
	check.True(t, found)

	assert.NoError(t, repo.MarkEventDelivered(ctx, ev.ID, now))
	pending, err = repo.PendingEvents(ctx, 1000)
	assert.NoError(t, err)
	for _, p := range pending {
		check.NotEqual(t, ev.ID, p.ID)
	}
}

func TestAuditStore_LogAndList(t *testing.T) {
	_, client := openTestRepo(t)
	ctx := context.Background()
	store := NewAuditStore(client.Pool())

	marker := uuid.NewString()
	assert.NoError(t, store.Log(ctx, "order_settled", map[string]any{"marker": marker}))

	since := time.Now().Add(-time.Minute)
	entries, err := store.List(ctx, domain.ListOpts{Limit: 50, Since: &since})
	assert.NoError(t, err)
	found := false
	for _, e := range entries {
		if e.Detail["marker"] == marker {
			found = true
			check.Equal(t, "order_settled", e.Event)
		}
	}
	check.True(t, found)
}
