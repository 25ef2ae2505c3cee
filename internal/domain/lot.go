package domain

import "time"

// Lot is a single item offered within an auction.
type Lot struct {
	ID               string    `json:"id"`
	AuctionID        string    `json:"auction_id"`
	Title            string    `json:"title"`
	StartingBidCents int64     `json:"starting_bid_cents"`
	ReserveCents     *int64    `json:"-"` // hidden from bidders
	CurrentBidCents  *int64    `json:"current_bid_cents,omitempty"`
	ReserveMet       bool      `json:"reserve_met"`
	Sold             bool      `json:"sold"`
	EffectiveEndTime time.Time `json:"effective_end_time"`
	Extended         bool      `json:"extended"`
	Version          int64     `json:"-"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// EffectiveEnd returns the lot's bidding deadline, never earlier than the
// auction's nominal end.
func (l Lot) EffectiveEnd(a Auction) time.Time {
	if l.EffectiveEndTime.Before(a.EndsAt) {
		return a.EndsAt
	}
	return l.EffectiveEndTime
}

// BaseBidCents is the amount the next bid is measured against: the current
// leading amount, or the starting bid when nothing has been bid yet.
func (l Lot) BaseBidCents() int64 {
	if l.CurrentBidCents != nil {
		return *l.CurrentBidCents
	}
	return l.StartingBidCents
}

// MinNextBidCents is the smallest amount that would be admitted next.
func (l Lot) MinNextBidCents(incrementCents int64) int64 {
	return l.BaseBidCents() + incrementCents
}

// MeetsReserve reports whether amount satisfies the lot's reserve. A lot
// without a reserve is met by any bid.
func (l Lot) MeetsReserve(amountCents int64) bool {
	return l.ReserveCents == nil || amountCents >= *l.ReserveCents
}

// HasBids reports whether any bid has been admitted on the lot.
func (l Lot) HasBids() bool {
	return l.CurrentBidCents != nil
}
