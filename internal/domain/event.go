package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names an engine event.
type EventType string

const (
	EventAuctionStarted EventType = "auction_started"
	EventAuctionEnded   EventType = "auction_ended"
	EventLotWon         EventType = "lot_won"
	EventOutbidNotify   EventType = "outbid_notify"
	EventWinnerNotify   EventType = "winner_notify"
)

// EventState is the delivery state of an outbox event.
type EventState string

const (
	EventPending   EventState = "pending"
	EventDelivered EventState = "delivered"
	EventParked    EventState = "failed"
)

// AuctionStartedEvent is emitted when an auction goes LIVE.
type AuctionStartedEvent struct {
	AuctionID string `json:"auction_id"`
}

// AuctionEndedEvent is emitted when an auction goes ENDED.
type AuctionEndedEvent struct {
	AuctionID string    `json:"auction_id"`
	EndedAt   time.Time `json:"ended_at"`
	LotsSold  int       `json:"lots_sold"`
}

// LotWonEvent triggers settlement of a single lot.
type LotWonEvent struct {
	LotID        string `json:"lot_id"`
	AuctionID    string `json:"auction_id"`
	WinnerID     string `json:"winner_id"`
	WinningBidID string `json:"winning_bid_id"`
	AmountCents  int64  `json:"amount_cents"`
}

// OutbidNotify asks the notification collaborator to tell a bidder they
// were outbid.
type OutbidNotify struct {
	UserID         string    `json:"user_id"`
	LotID          string    `json:"lot_id"`
	NewMinBidCents int64     `json:"new_min_bid_cents"`
	AuctionEndsAt  time.Time `json:"auction_ends_at"`
}

// WinnerNotify asks the notification collaborator to tell the winner the
// outcome of settlement.
type WinnerNotify struct {
	UserID        string        `json:"user_id"`
	LotID         string        `json:"lot_id"`
	OrderID       string        `json:"order_id"`
	Totals        Totals        `json:"totals"`
	PaymentStatus PaymentStatus `json:"payment_status"`
}

// Event is an outbox row: a typed payload plus a dedup key that is unique
// across the outbox.
type Event struct {
	ID          string          `json:"id"`
	Type        EventType       `json:"type"`
	Key         string          `json:"key"`
	Payload     json.RawMessage `json:"payload"`
	State       EventState      `json:"state"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	DeliveredAt *time.Time      `json:"delivered_at,omitempty"`
}

// NewEvent marshals payload into a pending Event. The caller assigns ID.
func NewEvent(typ EventType, key string, payload any, now time.Time) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("domain: marshal %s event: %w", typ, err)
	}
	return Event{
		Type:      typ,
		Key:       key,
		Payload:   raw,
		State:     EventPending,
		CreatedAt: now,
	}, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("domain: decode %s event %s: %w", e.Type, e.ID, err)
	}
	return nil
}

// LotWonKey is the outbox key that makes LotWon unique per lot.
func LotWonKey(lotID string) string { return "lot_won:" + lotID }

// WinnerNotifyKey is the outbox key for a lot's winner notification.
func WinnerNotifyKey(lotID string) string { return "winner_notify:" + lotID }

// AuctionStartedKey is the outbox key for an auction's start event.
func AuctionStartedKey(auctionID string) string { return "auction_started:" + auctionID }

// AuctionEndedKey is the outbox key for an auction's end event.
func AuctionEndedKey(auctionID string) string { return "auction_ended:" + auctionID }

// OutbidNotifyKey is keyed by the superseded bid, so each bid is outbid once.
func OutbidNotifyKey(supersededBidID string) string { return "outbid_notify:" + supersededBidID }
