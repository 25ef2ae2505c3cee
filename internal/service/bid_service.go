package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/lotengine/internal/domain"
	"github.com/alanyoungcy/lotengine/internal/softclose"
)

// lockPollInterval is how often a bid waiting on a busy lot retries the lock.
const lockPollInterval = 50 * time.Millisecond

// BidConfig holds the tunables for bid admission.
type BidConfig struct {
	// LockTTL bounds how long a crashed holder can block a lot.
	LockTTL time.Duration
	// LockWait is how long a bid waits for a busy lot before giving up with
	// ErrLotBusy.
	LockWait  time.Duration
	EndPolicy domain.EndPolicy
}

// BidResult is the outcome of an admitted bid.
type BidResult struct {
	Bid                domain.Bid `json:"bid"`
	NewCurrentBidCents int64      `json:"new_current_bid"`
	MinNextBidCents    int64      `json:"min_next_bid"`
	EffectiveEndTime   time.Time  `json:"effective_end_time"`
	Extended           bool       `json:"extended"`
}

// BidService admits bids against lots. Admission for a single lot is
// serialized by a per-lot lock, and the lot write inside the transaction is
// additionally guarded by the lot's version.
type BidService struct {
	repo    domain.Repository
	locks   domain.LockManager
	bus     domain.SignalBus
	cfg     BidConfig
	nowFunc func() time.Time
	logger  *slog.Logger
}

// NewBidService creates a BidService. bus may be nil.
func NewBidService(
	repo domain.Repository,
	locks domain.LockManager,
	bus domain.SignalBus,
	cfg BidConfig,
	logger *slog.Logger,
) *BidService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 2 * time.Second
	}
	if cfg.EndPolicy == "" {
		cfg.EndPolicy = domain.EndPolicyExtended
	}
	return &BidService{
		repo:    repo,
		locks:   locks,
		bus:     bus,
		cfg:     cfg,
		nowFunc: time.Now,
		logger:  logger.With(slog.String("component", "bid_service")),
	}
}

// WithClock replaces the service clock. Used by tests.
func (s *BidService) WithClock(now func() time.Time) *BidService {
	s.nowFunc = now
	return s
}

// PlaceBid admits amountCents from userID on lotID, or rejects it without
// side effects.
func (s *BidService) PlaceBid(ctx context.Context, lotID, userID string, amountCents int64) (BidResult, error) {
	if userID == "" {
		return BidResult{}, domain.ErrUnauthenticated
	}
	if amountCents <= 0 {
		return BidResult{}, domain.ErrInvalidAmount
	}

	unlock, err := s.lockLot(ctx, lotID)
	if err != nil {
		return BidResult{}, err
	}
	defer unlock()

	var (
		res      BidResult
		outbidBy string
	)
	err = s.repo.WithTx(ctx, func(tx domain.Tx) error {
		lot, auction, err := s.loadLot(ctx, tx, lotID, true)
		if err != nil {
			return err
		}

		now := s.nowFunc().UTC()
		if !domain.LotOpen(auction, lot, now, s.cfg.EndPolicy) {
			return domain.ErrAuctionNotLive
		}
		if minNext := lot.MinNextBidCents(auction.FixedIncrementCents); amountCents < minNext {
			return &domain.BidTooLowError{MinNextBidCents: minNext}
		}

		prev, err := tx.GetLeadingBid(ctx, lotID)
		hasPrev := err == nil
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("bid_service: leading bid for lot %s: %w", lotID, err)
		}
		if hasPrev {
			prev.Status = domain.BidOutbid
			prev.IsLeading = false
			if err := tx.UpdateBid(ctx, prev); err != nil {
				return fmt.Errorf("bid_service: outbid %s: %w", prev.ID, err)
			}
		}

		bid := domain.Bid{
			ID:          uuid.NewString(),
			LotID:       lotID,
			UserID:      userID,
			AmountCents: amountCents,
			Status:      domain.BidLeading,
			IsLeading:   true,
			PlacedAt:    now,
		}
		if err := tx.InsertBid(ctx, bid); err != nil {
			return fmt.Errorf("bid_service: insert bid: %w", err)
		}

		amount := amountCents
		lot.CurrentBidCents = &amount
		lot.ReserveMet = lot.MeetsReserve(amountCents)
		end, moved := softclose.Next(lot.EffectiveEnd(auction), auction.EndsAt, now,
			auction.SoftCloseWindow(), auction.SoftCloseExtend())
		lot.EffectiveEndTime = end
		if moved {
			lot.Extended = true
		}
		updated, err := tx.UpdateLot(ctx, lot)
		if err != nil {
			return fmt.Errorf("bid_service: update lot %s: %w", lotID, err)
		}

		minNext := updated.MinNextBidCents(auction.FixedIncrementCents)
		if hasPrev && prev.UserID != userID {
			ev, err := domain.NewEvent(domain.EventOutbidNotify, domain.OutbidNotifyKey(prev.ID), domain.OutbidNotify{
				UserID:         prev.UserID,
				LotID:          lotID,
				NewMinBidCents: minNext,
				AuctionEndsAt:  updated.EffectiveEndTime,
			}, now)
			if err != nil {
				return err
			}
			ev.ID = uuid.NewString()
			if err := tx.EnqueueEvent(ctx, ev); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
				return fmt.Errorf("bid_service: enqueue outbid notify: %w", err)
			}
			outbidBy = prev.UserID
		}

		res = BidResult{
			Bid:                bid,
			NewCurrentBidCents: amountCents,
			MinNextBidCents:    minNext,
			EffectiveEndTime:   updated.EffectiveEndTime,
			Extended:           moved,
		}
		return nil
	})
	if errors.Is(err, domain.ErrConflict) {
		return BidResult{}, s.conflict(ctx, lotID)
	}
	if err != nil {
		return BidResult{}, err
	}

	s.logger.InfoContext(ctx, "bid admitted",
		slog.String("lot_id", lotID),
		slog.String("bid_id", res.Bid.ID),
		slog.String("user_id", userID),
		slog.Int64("amount_cents", amountCents),
		slog.Bool("extended", res.Extended),
		slog.String("outbid_user_id", outbidBy),
	)
	s.publishLotUpdate(ctx, lotID, res)
	return res, nil
}

// MinNextBid returns the smallest amount PlaceBid would currently admit on
// lotID.
func (s *BidService) MinNextBid(ctx context.Context, lotID string) (int64, error) {
	lot, auction, err := s.loadLot(ctx, s.repo, lotID, false)
	if err != nil {
		return 0, err
	}
	return lot.MinNextBidCents(auction.FixedIncrementCents), nil
}

// lockLot takes the per-lot admission lock, polling until LockWait elapses.
func (s *BidService) lockLot(ctx context.Context, lotID string) (func(), error) {
	deadline := time.NewTimer(s.cfg.LockWait)
	defer deadline.Stop()

	for {
		unlock, err := s.locks.Acquire(ctx, "lot:"+lotID, s.cfg.LockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("bid_service: lock lot %s: %w", lotID, err)
		}

		poll := time.NewTimer(lockPollInterval)
		select {
		case <-ctx.Done():
			poll.Stop()
			return nil, ctx.Err()
		case <-deadline.C:
			poll.Stop()
			s.logger.WarnContext(ctx, "lot lock wait exceeded", slog.String("lot_id", lotID))
			return nil, domain.ErrLotBusy
		case <-poll.C:
		}
	}
}

// conflict turns a lost race into BID_TOO_LOW priced against the bid that
// won it.
func (s *BidService) conflict(ctx context.Context, lotID string) error {
	lot, auction, err := s.loadLot(ctx, s.repo, lotID, false)
	if err != nil {
		return err
	}
	return &domain.BidTooLowError{MinNextBidCents: lot.MinNextBidCents(auction.FixedIncrementCents)}
}

func (s *BidService) loadLot(ctx context.Context, tx domain.Tx, lotID string, forUpdate bool) (domain.Lot, domain.Auction, error) {
	get := tx.GetLot
	if forUpdate {
		get = tx.GetLotForUpdate
	}
	lot, err := get(ctx, lotID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Lot{}, domain.Auction{}, domain.ErrLotNotFound
	}
	if err != nil {
		return domain.Lot{}, domain.Auction{}, fmt.Errorf("bid_service: get lot %s: %w", lotID, err)
	}
	auction, err := tx.GetAuction(ctx, lot.AuctionID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Lot{}, domain.Auction{}, domain.ErrLotNotFound
	}
	if err != nil {
		return domain.Lot{}, domain.Auction{}, fmt.Errorf("bid_service: get auction %s: %w", lot.AuctionID, err)
	}
	return lot, auction, nil
}

func (s *BidService) publishLotUpdate(ctx context.Context, lotID string, res BidResult) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"lot_id":             lotID,
		"current_bid_cents":  res.NewCurrentBidCents,
		"min_next_bid_cents": res.MinNextBidCents,
		"effective_end_time": res.EffectiveEndTime,
		"extended":           res.Extended,
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelLotUpdate, payload); err != nil {
		s.logger.WarnContext(ctx, "lot update publish failed",
			slog.String("lot_id", lotID),
			slog.String("error", err.Error()),
		)
	}
}
