package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/lotengine/internal/domain"
)

// SettlementConfig holds the pricing and payment settings for settlement.
type SettlementConfig struct {
	ShippingCents  int64
	TaxRate        decimal.Decimal
	Currency       string
	PaymentTimeout time.Duration
	LockTTL        time.Duration
}

// ComputeTotals prices a won lot. Tax is charged on subtotal plus shipping
// and rounded half away from zero to the cent.
func ComputeTotals(amountCents, shippingCents int64, taxRate decimal.Decimal) domain.Totals {
	taxable := decimal.NewFromInt(amountCents + shippingCents)
	tax := taxable.Mul(taxRate).Round(0).IntPart()
	return domain.Totals{
		SubtotalCents: amountCents,
		ShippingCents: shippingCents,
		TaxCents:      tax,
		TotalCents:    amountCents + shippingCents + tax,
	}
}

// Settlement turns a won lot into an order and charges the winner. It is
// idempotent on the lot id: an order that already finished payment is never
// touched again, and an order left PENDING by an interrupted run is resumed
// with the same capture idempotency key.
type Settlement struct {
	repo     domain.Repository
	payments domain.PaymentGateway
	locks    domain.LockManager
	audit    domain.AuditStore
	cfg      SettlementConfig
	nowFunc  func() time.Time
	logger   *slog.Logger
}

// NewSettlement creates a Settlement. locks and audit may be nil.
func NewSettlement(
	repo domain.Repository,
	payments domain.PaymentGateway,
	locks domain.LockManager,
	audit domain.AuditStore,
	cfg SettlementConfig,
	logger *slog.Logger,
) *Settlement {
	if cfg.PaymentTimeout <= 0 {
		cfg.PaymentTimeout = 15 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.PaymentTimeout + 30*time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &Settlement{
		repo:     repo,
		payments: payments,
		locks:    locks,
		audit:    audit,
		cfg:      cfg,
		nowFunc:  time.Now,
		logger:   logger.With(slog.String("component", "settlement")),
	}
}

// WithClock replaces the settlement clock. Used by tests.
func (s *Settlement) WithClock(now func() time.Time) *Settlement {
	s.nowFunc = now
	return s
}

// Settle creates the order for ev, captures payment and queues the winner
// notification. Duplicate triggers are absorbed silently.
func (s *Settlement) Settle(ctx context.Context, ev domain.LotWonEvent) error {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, domain.SettleKey(ev.LotID), s.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.DebugContext(ctx, "lot settlement already in progress", slog.String("lot_id", ev.LotID))
			return nil
		}
		if err != nil {
			return fmt.Errorf("settlement: lock lot %s: %w", ev.LotID, err)
		}
		defer unlock()
	}

	order, err := s.repo.GetOrderByLot(ctx, ev.LotID)
	switch {
	case err == nil && order.PaymentStatus != domain.PaymentPending:
		s.logger.DebugContext(ctx, "lot already settled", slog.String("lot_id", ev.LotID))
		return nil
	case err == nil:
		s.logger.InfoContext(ctx, "resuming interrupted settlement",
			slog.String("lot_id", ev.LotID),
			slog.String("order_id", order.ID),
		)
		return s.charge(ctx, order)
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("settlement: get order for lot %s: %w", ev.LotID, err)
	}

	methodID, err := s.payments.DefaultPaymentMethod(ctx, ev.WinnerID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("settlement: default payment method for %s: %w", ev.WinnerID, err)
	}

	now := s.nowFunc().UTC()
	totals := ComputeTotals(ev.AmountCents, s.cfg.ShippingCents, s.cfg.TaxRate)
	order = domain.Order{
		ID:              uuid.NewString(),
		LotID:           ev.LotID,
		UserID:          ev.WinnerID,
		WinningBidID:    ev.WinningBidID,
		FinalPriceCents: totals.SubtotalCents,
		ShippingCents:   totals.ShippingCents,
		TaxCents:        totals.TaxCents,
		TotalCents:      totals.TotalCents,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentPending,
		PaymentMethodID: methodID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if methodID == "" {
		order.PaymentStatus = domain.PaymentSkipped
	}

	duplicate := false
	err = s.repo.WithTx(ctx, func(tx domain.Tx) error {
		if err := tx.InsertOrder(ctx, order); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				duplicate = true
				return nil
			}
			return fmt.Errorf("settlement: insert order: %w", err)
		}
		bid, err := tx.GetBid(ctx, ev.WinningBidID)
		if err != nil {
			return fmt.Errorf("settlement: get winning bid %s: %w", ev.WinningBidID, err)
		}
		bid.Status = domain.BidWon
		if err := tx.UpdateBid(ctx, bid); err != nil {
			return fmt.Errorf("settlement: mark bid %s won: %w", bid.ID, err)
		}
		if order.PaymentStatus == domain.PaymentSkipped {
			return s.enqueueWinner(ctx, tx, order, now)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if duplicate {
		s.logger.DebugContext(ctx, "concurrent settlement won the race", slog.String("lot_id", ev.LotID))
		return nil
	}

	s.logger.InfoContext(ctx, "order created",
		slog.String("lot_id", order.LotID),
		slog.String("order_id", order.ID),
		slog.Int64("total_cents", order.TotalCents),
	)
	if order.PaymentStatus == domain.PaymentSkipped {
		s.logger.WarnContext(ctx, "winner has no default payment method, capture skipped",
			slog.String("lot_id", order.LotID),
			slog.String("user_id", order.UserID),
		)
		s.auditLog(ctx, order)
		return nil
	}
	return s.charge(ctx, order)
}

// charge captures payment for a PENDING order and records the outcome. A
// failed or timed-out capture is recorded, not retried.
func (s *Settlement) charge(ctx context.Context, order domain.Order) error {
	if order.PaymentMethodID == "" {
		order.PaymentStatus = domain.PaymentSkipped
	} else {
		cctx, cancel := context.WithTimeout(ctx, s.cfg.PaymentTimeout)
		res, err := s.payments.Capture(cctx, domain.CaptureRequest{
			AmountCents:     order.TotalCents,
			Currency:        s.cfg.Currency,
			CustomerID:      order.UserID,
			PaymentMethodID: order.PaymentMethodID,
			IdempotencyKey:  domain.SettleKey(order.LotID),
		})
		timedOut := errors.Is(cctx.Err(), context.DeadlineExceeded)
		cancel()

		switch {
		case err != nil && ctx.Err() != nil:
			// Shutdown, not a payment outcome; the order stays PENDING and
			// is resumed on the next delivery.
			return fmt.Errorf("settlement: capture for lot %s: %w", order.LotID, ctx.Err())
		case err != nil && timedOut:
			order.PaymentStatus = domain.PaymentFailed
			order.FailureReason = fmt.Sprintf("payment capture timed out after %s", s.cfg.PaymentTimeout)
		case err != nil:
			order.PaymentStatus = domain.PaymentFailed
			order.FailureReason = err.Error()
		case !res.Succeeded:
			order.PaymentStatus = domain.PaymentFailed
			order.FailureReason = res.FailureReason
			order.PaymentRef = res.Reference
		default:
			paidAt := s.nowFunc().UTC()
			order.PaymentStatus = domain.PaymentSucceeded
			order.Status = domain.OrderStatusPaid
			order.PaymentRef = res.Reference
			order.PaidAt = &paidAt
		}
	}

	now := s.nowFunc().UTC()
	err := s.repo.WithTx(ctx, func(tx domain.Tx) error {
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return fmt.Errorf("settlement: update order %s: %w", order.ID, err)
		}
		return s.enqueueWinner(ctx, tx, order, now)
	})
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if order.PaymentStatus == domain.PaymentFailed {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "payment recorded",
		slog.String("lot_id", order.LotID),
		slog.String("order_id", order.ID),
		slog.String("payment_status", string(order.PaymentStatus)),
		slog.String("failure_reason", order.FailureReason),
	)
	s.auditLog(ctx, order)
	return nil
}

func (s *Settlement) enqueueWinner(ctx context.Context, tx domain.Tx, order domain.Order, now time.Time) error {
	ev, err := domain.NewEvent(domain.EventWinnerNotify, domain.WinnerNotifyKey(order.LotID), domain.WinnerNotify{
		UserID:        order.UserID,
		LotID:         order.LotID,
		OrderID:       order.ID,
		Totals:        order.Totals(),
		PaymentStatus: order.PaymentStatus,
	}, now)
	if err != nil {
		return err
	}
	ev.ID = uuid.NewString()
	if err := tx.EnqueueEvent(ctx, ev); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		return fmt.Errorf("settlement: enqueue winner notify: %w", err)
	}
	return nil
}

func (s *Settlement) auditLog(ctx context.Context, order domain.Order) {
	if s.audit == nil {
		return
	}
	err := s.audit.Log(ctx, "order_settled", map[string]any{
		"order_id":       order.ID,
		"lot_id":         order.LotID,
		"user_id":        order.UserID,
		"total_cents":    order.TotalCents,
		"payment_status": string(order.PaymentStatus),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}
}
