package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/lotengine/internal/domain"
)

const dispatchLockKey = "dispatch:outbox"

// EventHandler consumes one outbox event. Handlers must tolerate seeing
// the same event more than once.
type EventHandler func(ctx context.Context, ev domain.Event) error

// DispatchConfig holds the tunables for outbox delivery.
type DispatchConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	LockTTL     time.Duration
}

// Dispatcher delivers outbox events: every event is published on the bus
// for live clients and handed to the handlers registered for its type. An
// event is marked delivered once all of its handlers succeed; otherwise it
// is retried on later ticks until MaxAttempts, then parked.
type Dispatcher struct {
	repo     domain.Repository
	locks    domain.LockManager
	bus      domain.SignalBus
	handlers map[domain.EventType][]EventHandler
	cfg      DispatchConfig
	nowFunc  func() time.Time
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher with no handlers. bus may be nil.
func NewDispatcher(
	repo domain.Repository,
	locks domain.LockManager,
	bus domain.SignalBus,
	cfg DispatchConfig,
	logger *slog.Logger,
) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	return &Dispatcher{
		repo:     repo,
		locks:    locks,
		bus:      bus,
		handlers: make(map[domain.EventType][]EventHandler),
		cfg:      cfg,
		nowFunc:  time.Now,
		logger:   logger.With(slog.String("component", "dispatcher")),
	}
}

// Handle registers h for events of type typ. Register before Run.
func (d *Dispatcher) Handle(typ domain.EventType, h EventHandler) *Dispatcher {
	d.handlers[typ] = append(d.handlers[typ], h)
	return d
}

// Run delivers pending events every Interval until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			unlock, err := d.locks.Acquire(ctx, dispatchLockKey, d.cfg.LockTTL)
			if errors.Is(err, domain.ErrLockHeld) {
				continue
			}
			if err != nil {
				d.logger.ErrorContext(ctx, "dispatch lock failed", slog.String("error", err.Error()))
				continue
			}
			if _, err := d.DispatchOnce(ctx); err != nil {
				d.logger.ErrorContext(ctx, "dispatch failed", slog.String("error", err.Error()))
			}
			unlock()
		}
	}
}

// DispatchOnce delivers one batch of pending events and returns how many
// were marked delivered.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	events, err := d.repo.PendingEvents(ctx, d.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("dispatcher: pending events: %w", err)
	}

	delivered := 0
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		if err := d.deliver(ctx, ev); err != nil {
			park := ev.Attempts+1 >= d.cfg.MaxAttempts
			if merr := d.repo.MarkEventFailed(ctx, ev.ID, err.Error(), park); merr != nil {
				return delivered, fmt.Errorf("dispatcher: mark %s failed: %w", ev.ID, merr)
			}
			attrs := []any{
				slog.String("event_id", ev.ID),
				slog.String("type", string(ev.Type)),
				slog.String("key", ev.Key),
				slog.Int("attempt", ev.Attempts+1),
				slog.String("error", err.Error()),
			}
			if park {
				d.logger.ErrorContext(ctx, "event parked after repeated failures", attrs...)
			} else {
				d.logger.WarnContext(ctx, "event delivery failed, will retry", attrs...)
			}
			continue
		}
		if err := d.repo.MarkEventDelivered(ctx, ev.ID, d.nowFunc().UTC()); err != nil {
			return delivered, fmt.Errorf("dispatcher: mark %s delivered: %w", ev.ID, err)
		}
		delivered++
	}
	return delivered, nil
}

func (d *Dispatcher) deliver(ctx context.Context, ev domain.Event) error {
	for _, h := range d.handlers[ev.Type] {
		if err := h(ctx, ev); err != nil {
			return err
		}
	}
	d.publish(ctx, ev)
	return nil
}

func (d *Dispatcher) publish(ctx context.Context, ev domain.Event) {
	if d.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"type":       ev.Type,
		"payload":    ev.Payload,
		"created_at": ev.CreatedAt,
	})
	if err != nil {
		return
	}
	if err := d.bus.Publish(ctx, domain.ChannelEvents, payload); err != nil {
		d.logger.WarnContext(ctx, "event publish failed",
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Notifier is the notification collaborator as seen by the dispatcher.
type Notifier interface {
	Outbid(ctx context.Context, n domain.OutbidNotify) error
	Winner(ctx context.Context, n domain.WinnerNotify) error
	AuctionEnded(ctx context.Context, n domain.AuctionEndedEvent) error
}

// SettleHandler routes LotWon events to settlement.
func SettleHandler(s *Settlement) EventHandler {
	return func(ctx context.Context, ev domain.Event) error {
		var lw domain.LotWonEvent
		if err := ev.Decode(&lw); err != nil {
			return err
		}
		return s.Settle(ctx, lw)
	}
}

// RegisterNotifier routes the notification events to n.
func RegisterNotifier(d *Dispatcher, n Notifier) {
	d.Handle(domain.EventOutbidNotify, func(ctx context.Context, ev domain.Event) error {
		var p domain.OutbidNotify
		if err := ev.Decode(&p); err != nil {
			return err
		}
		return n.Outbid(ctx, p)
	})
	d.Handle(domain.EventWinnerNotify, func(ctx context.Context, ev domain.Event) error {
		var p domain.WinnerNotify
		if err := ev.Decode(&p); err != nil {
			return err
		}
		return n.Winner(ctx, p)
	})
	d.Handle(domain.EventAuctionEnded, func(ctx context.Context, ev domain.Event) error {
		var p domain.AuctionEndedEvent
		if err := ev.Decode(&p); err != nil {
			return err
		}
		return n.AuctionEnded(ctx, p)
	})
}

// ArchiveHandler copies an ended auction to cold storage.
func ArchiveHandler(a domain.Archiver) EventHandler {
	return func(ctx context.Context, ev domain.Event) error {
		var p domain.AuctionEndedEvent
		if err := ev.Decode(&p); err != nil {
			return err
		}
		_, err := a.ArchiveAuction(ctx, p.AuctionID)
		return err
	}
}
