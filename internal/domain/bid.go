package domain

import "time"

// BidStatus tracks a bid through admission, supersession and settlement.
type BidStatus string

const (
	BidLeading BidStatus = "LEADING"
	BidOutbid  BidStatus = "OUTBID"
	BidWon     BidStatus = "WON"
)

// Bid is an immutable offer on a lot. Only Status and IsLeading change after
// insertion.
type Bid struct {
	ID          string    `json:"id"`
	LotID       string    `json:"lot_id"`
	UserID      string    `json:"user_id"`
	AmountCents int64     `json:"amount_cents"`
	Status      BidStatus `json:"status"`
	IsLeading   bool      `json:"is_leading"`
	PlacedAt    time.Time `json:"placed_at"`
}
