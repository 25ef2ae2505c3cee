package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/lotengine/internal/domain"
)

const sweepLockKey = "lifecycle:sweep"

// LifecycleConfig holds the tunables for the lifecycle sweep.
type LifecycleConfig struct {
	Interval  time.Duration
	LockTTL   time.Duration
	EndPolicy domain.EndPolicy
}

// SweepReport summarises one sweep.
type SweepReport struct {
	Started []string `json:"started"`
	Ended   []string `json:"ended"`
	LotsWon int      `json:"lots_won"`
	Failed  int      `json:"failed"`
}

// LifecycleController is the single authority that persists auction status
// transitions. It moves published auctions PREVIEW -> LIVE -> ENDED and, on
// end, marks won lots sold and writes one LotWon per lot to the outbox.
type LifecycleController struct {
	repo    domain.Repository
	locks   domain.LockManager
	audit   domain.AuditStore
	cfg     LifecycleConfig
	trigger chan struct{}
	nowFunc func() time.Time
	logger  *slog.Logger
}

// NewLifecycleController creates a LifecycleController. audit may be nil.
func NewLifecycleController(
	repo domain.Repository,
	locks domain.LockManager,
	audit domain.AuditStore,
	cfg LifecycleConfig,
	logger *slog.Logger,
) *LifecycleController {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if cfg.EndPolicy == "" {
		cfg.EndPolicy = domain.EndPolicyExtended
	}
	return &LifecycleController{
		repo:    repo,
		locks:   locks,
		audit:   audit,
		cfg:     cfg,
		trigger: make(chan struct{}, 1),
		nowFunc: time.Now,
		logger:  logger.With(slog.String("component", "lifecycle")),
	}
}

// WithClock replaces the controller clock. Used by tests.
func (c *LifecycleController) WithClock(now func() time.Time) *LifecycleController {
	c.nowFunc = now
	return c
}

// Trigger requests a sweep ahead of the next tick. It never blocks; a
// request made while one is already queued is coalesced into it.
func (c *LifecycleController) Trigger() bool {
	select {
	case c.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run sweeps on every tick and on Trigger until ctx is cancelled.
func (c *LifecycleController) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.logger.InfoContext(ctx, "lifecycle controller started",
		slog.Duration("interval", c.cfg.Interval),
		slog.String("end_policy", string(c.cfg.EndPolicy)),
	)
	c.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.tick(ctx)
		case <-c.trigger:
			c.tick(ctx)
		}
	}
}

func (c *LifecycleController) tick(ctx context.Context) {
	unlock, err := c.locks.Acquire(ctx, sweepLockKey, c.cfg.LockTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		c.logger.DebugContext(ctx, "sweep skipped, another replica holds the lock")
		return
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "sweep lock failed", slog.String("error", err.Error()))
		return
	}
	defer unlock()

	rep, err := c.Sweep(ctx)
	if err != nil {
		c.logger.ErrorContext(ctx, "sweep incomplete", slog.String("error", err.Error()))
	}
	if len(rep.Started) > 0 || len(rep.Ended) > 0 {
		c.logger.InfoContext(ctx, "sweep complete",
			slog.Int("started", len(rep.Started)),
			slog.Int("ended", len(rep.Ended)),
			slog.Int("lots_won", rep.LotsWon),
			slog.Int("failed", rep.Failed),
		)
	}
}

// Sweep applies every due transition once. Each auction is handled in its
// own transaction that re-reads its status, so a sweep interrupted partway
// is completed by the next one and repeating a sweep changes nothing.
func (c *LifecycleController) Sweep(ctx context.Context) (SweepReport, error) {
	var rep SweepReport
	auctions, err := c.repo.ListSweepable(ctx)
	if err != nil {
		return rep, fmt.Errorf("lifecycle: list sweepable: %w", err)
	}

	var errs []error
	for _, a := range auctions {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := c.advance(ctx, a.ID, &rep); err != nil {
			rep.Failed++
			errs = append(errs, err)
			c.logger.WarnContext(ctx, "auction transition failed",
				slog.String("auction_id", a.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return rep, errors.Join(errs...)
}

func (c *LifecycleController) advance(ctx context.Context, auctionID string, rep *SweepReport) error {
	var (
		started, ended bool
		won            int
		endedAt        time.Time
	)
	err := c.repo.WithTx(ctx, func(tx domain.Tx) error {
		started, ended, won = false, false, 0

		a, err := tx.GetAuction(ctx, auctionID)
		if err != nil {
			return fmt.Errorf("lifecycle: get auction %s: %w", auctionID, err)
		}
		if !a.Published || a.Status == domain.AuctionDraft || a.Status == domain.AuctionEnded {
			return nil
		}
		// Bids lock their lot row, so holding every lot row orders this
		// sweep strictly before or after any in-flight bid.
		lots, err := tx.ListLotsForUpdate(ctx, auctionID)
		if err != nil {
			return fmt.Errorf("lifecycle: lock lots %s: %w", auctionID, err)
		}

		now := c.nowFunc().UTC()
		target := a.StatusUnder(c.cfg.EndPolicy, lots, now)

		if a.Status == domain.AuctionPreview && target != domain.AuctionPreview {
			a.Status = domain.AuctionLive
			if err := tx.UpdateAuction(ctx, a); err != nil {
				return fmt.Errorf("lifecycle: start auction %s: %w", auctionID, err)
			}
			if err := c.enqueue(ctx, tx, domain.EventAuctionStarted, domain.AuctionStartedKey(auctionID),
				domain.AuctionStartedEvent{AuctionID: auctionID}, now); err != nil {
				return err
			}
			started = true
		}

		if a.Status == domain.AuctionLive && target == domain.AuctionEnded {
			if won, err = c.end(ctx, tx, a, lots, now); err != nil {
				return err
			}
			ended = true
			endedAt = now
		}
		return nil
	})
	if err != nil {
		return err
	}

	if started {
		rep.Started = append(rep.Started, auctionID)
		c.logger.InfoContext(ctx, "auction started", slog.String("auction_id", auctionID))
		c.auditLog(ctx, "auction_started", map[string]any{"auction_id": auctionID})
	}
	if ended {
		rep.Ended = append(rep.Ended, auctionID)
		rep.LotsWon += won
		c.logger.InfoContext(ctx, "auction ended",
			slog.String("auction_id", auctionID),
			slog.Int("lots_won", won),
		)
		c.auditLog(ctx, "auction_ended", map[string]any{
			"auction_id": auctionID,
			"ended_at":   endedAt,
			"lots_won":   won,
		})
	}
	return nil
}

// end closes a LIVE auction and settles the fate of each lot: a lot whose
// leading bid met the reserve is sold and gets exactly one LotWon.
func (c *LifecycleController) end(ctx context.Context, tx domain.Tx, a domain.Auction, lots []domain.Lot, now time.Time) (int, error) {
	a.Status = domain.AuctionEnded
	a.ActualEndedAt = &now
	if err := tx.UpdateAuction(ctx, a); err != nil {
		return 0, fmt.Errorf("lifecycle: end auction %s: %w", a.ID, err)
	}

	won := 0
	for _, l := range lots {
		if !l.HasBids() || !l.ReserveMet || l.Sold {
			continue
		}
		lead, err := tx.GetLeadingBid(ctx, l.ID)
		if err != nil {
			return 0, fmt.Errorf("lifecycle: leading bid for lot %s: %w", l.ID, err)
		}
		l.Sold = true
		if _, err := tx.UpdateLot(ctx, l); err != nil {
			return 0, fmt.Errorf("lifecycle: mark lot %s sold: %w", l.ID, err)
		}
		if err := c.enqueue(ctx, tx, domain.EventLotWon, domain.LotWonKey(l.ID), domain.LotWonEvent{
			LotID:        l.ID,
			AuctionID:    a.ID,
			WinnerID:     lead.UserID,
			WinningBidID: lead.ID,
			AmountCents:  lead.AmountCents,
		}, now); err != nil {
			return 0, err
		}
		won++
	}

	err := c.enqueue(ctx, tx, domain.EventAuctionEnded, domain.AuctionEndedKey(a.ID), domain.AuctionEndedEvent{
		AuctionID: a.ID,
		EndedAt:   now,
		LotsSold:  won,
	}, now)
	return won, err
}

// enqueue writes an event to the outbox. An event whose key is already
// present was emitted by an earlier sweep and is skipped.
func (c *LifecycleController) enqueue(ctx context.Context, tx domain.Tx, typ domain.EventType, key string, payload any, now time.Time) error {
	ev, err := domain.NewEvent(typ, key, payload, now)
	if err != nil {
		return err
	}
	ev.ID = uuid.NewString()
	if err := tx.EnqueueEvent(ctx, ev); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		return fmt.Errorf("lifecycle: enqueue %s: %w", key, err)
	}
	return nil
}

func (c *LifecycleController) auditLog(ctx context.Context, event string, detail map[string]any) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Log(ctx, event, detail); err != nil {
		c.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
