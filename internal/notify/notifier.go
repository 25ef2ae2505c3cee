// Package notify fans engine notifications out to delivery channels: the
// bidder-facing notification service (webhook) and operator chats
// (Telegram, Discord). Messages can be filtered by event type.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/lotengine/internal/domain"
)

// Message is one notification. Data carries the structured event payload
// for senders that forward it rather than render it.
type Message struct {
	Event  string         `json:"event"`
	UserID string         `json:"user_id,omitempty"`
	Title  string         `json:"title"`
	Body   string         `json:"body"`
	Data   map[string]any `json:"data,omitempty"`
}

// Sender is implemented by each delivery channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	// Name identifies the sender in logs, e.g. "telegram".
	Name() string
}

// Notifier delivers messages to every registered Sender whose event type
// passes the configured filter.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types; empty allows all
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. If events is empty every event passes.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends msg to all senders if its event type is allowed. A failing
// sender does not stop delivery to the others; the failures are joined.
func (n *Notifier) Notify(ctx context.Context, msg Message) error {
	if len(n.events) > 0 && !n.events[msg.Event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", msg.Event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", msg.Event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", msg.Event),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// Outbid tells a bidder they have been outbid.
func (n *Notifier) Outbid(ctx context.Context, p domain.OutbidNotify) error {
	return n.Notify(ctx, Message{
		Event:  string(domain.EventOutbidNotify),
		UserID: p.UserID,
		Title:  "You've been outbid",
		Body: fmt.Sprintf("Lot %s now needs at least %s. Bidding closes %s.",
			p.LotID, domain.FormatCents(p.NewMinBidCents), p.AuctionEndsAt.UTC().Format(time.RFC1123)),
		Data: map[string]any{
			"lot_id":            p.LotID,
			"new_min_bid_cents": p.NewMinBidCents,
			"auction_ends_at":   p.AuctionEndsAt,
		},
	})
}

// Winner tells the winning bidder the outcome of settlement.
func (n *Notifier) Winner(ctx context.Context, p domain.WinnerNotify) error {
	body := fmt.Sprintf("You won lot %s. Total %s (item %s, shipping %s, tax %s).",
		p.LotID,
		domain.FormatCents(p.Totals.TotalCents),
		domain.FormatCents(p.Totals.SubtotalCents),
		domain.FormatCents(p.Totals.ShippingCents),
		domain.FormatCents(p.Totals.TaxCents),
	)
	switch p.PaymentStatus {
	case domain.PaymentSucceeded:
		body += " Your payment was successful."
	case domain.PaymentFailed:
		body += " We could not charge your payment method; we'll be in touch."
	case domain.PaymentSkipped:
		body += " Please add a payment method to complete your purchase."
	}
	return n.Notify(ctx, Message{
		Event:  string(domain.EventWinnerNotify),
		UserID: p.UserID,
		Title:  "Congratulations, you won!",
		Body:   body,
		Data: map[string]any{
			"lot_id":         p.LotID,
			"order_id":       p.OrderID,
			"totals":         p.Totals,
			"payment_status": p.PaymentStatus,
		},
	})
}

// AuctionEnded tells operators an auction has closed.
func (n *Notifier) AuctionEnded(ctx context.Context, p domain.AuctionEndedEvent) error {
	return n.Notify(ctx, Message{
		Event: string(domain.EventAuctionEnded),
		Title: "Auction ended",
		Body:  fmt.Sprintf("Auction %s ended with %d lot(s) sold.", p.AuctionID, p.LotsSold),
		Data: map[string]any{
			"auction_id": p.AuctionID,
			"ended_at":   p.EndedAt,
			"lots_sold":  p.LotsSold,
		},
	})
}
