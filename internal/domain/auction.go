package domain

import "time"

// AuctionStatus is the lifecycle state of an auction.
type AuctionStatus string

const (
	AuctionDraft   AuctionStatus = "DRAFT"
	AuctionPreview AuctionStatus = "PREVIEW"
	AuctionLive    AuctionStatus = "LIVE"
	AuctionEnded   AuctionStatus = "ENDED"
)

// EndPolicy decides when a LIVE auction whose lots were extended by soft
// close is allowed to end.
type EndPolicy string

const (
	// EndPolicyExtended ends the auction once every lot's effective end time
	// has passed; each lot closes individually at its own deadline.
	EndPolicyExtended EndPolicy = "extended"
	// EndPolicyNominal ends the auction strictly at EndsAt, cutting off lots
	// that are still inside a soft-close extension.
	EndPolicyNominal EndPolicy = "nominal"
)

// Auction is a timed sale containing one or more lots.
type Auction struct {
	ID                  string        `json:"id"`
	Title               string        `json:"title"`
	Status              AuctionStatus `json:"status"`
	StartsAt            time.Time     `json:"starts_at"`
	EndsAt              time.Time     `json:"ends_at"`
	SoftCloseWindowSec  int64         `json:"soft_close_window_sec"`
	SoftCloseExtendSec  int64         `json:"soft_close_extend_sec"`
	FixedIncrementCents int64         `json:"fixed_increment_cents"`
	Published           bool          `json:"published"`
	ActualEndedAt       *time.Time    `json:"actual_ended_at,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// SoftCloseWindow returns the soft-close window as a duration.
func (a Auction) SoftCloseWindow() time.Duration {
	return time.Duration(a.SoftCloseWindowSec) * time.Second
}

// SoftCloseExtend returns the soft-close extension as a duration.
func (a Auction) SoftCloseExtend() time.Duration {
	return time.Duration(a.SoftCloseExtendSec) * time.Second
}

// StatusAt derives the auction status at now from its stored timestamps.
// It is the only place that maps wall-clock time to a status; the lifecycle
// sweep persists what this function returns and every other reader calls it
// instead of re-deriving. Unpublished and DRAFT auctions stay DRAFT, and an
// ENDED auction never reopens.
func (a Auction) StatusAt(now time.Time) AuctionStatus {
	if !a.Published || a.Status == AuctionDraft {
		return AuctionDraft
	}
	if a.Status == AuctionEnded {
		return AuctionEnded
	}
	switch {
	case now.Before(a.StartsAt):
		return AuctionPreview
	case now.Before(a.EndsAt):
		return AuctionLive
	default:
		return AuctionEnded
	}
}

// ClosesAt returns the instant at which the auction as a whole stops
// accepting bids under the given policy. lots are the auction's lots; only
// their effective end times are consulted.
func (a Auction) ClosesAt(policy EndPolicy, lots []Lot) time.Time {
	end := a.EndsAt
	if policy != EndPolicyExtended {
		return end
	}
	for _, l := range lots {
		if e := l.EffectiveEnd(a); e.After(end) {
			end = e
		}
	}
	return end
}

// StatusUnder is StatusAt with the end policy applied: under the extended
// policy an auction past EndsAt stays LIVE while any lot is still inside its
// soft-close extension.
func (a Auction) StatusUnder(policy EndPolicy, lots []Lot, now time.Time) AuctionStatus {
	s := a.StatusAt(now)
	if s == AuctionEnded && a.Status != AuctionEnded && !now.Before(a.StartsAt) && now.Before(a.ClosesAt(policy, lots)) {
		return AuctionLive
	}
	return s
}

// LotOpen reports whether lot l accepts bids at now. Under the nominal
// policy a lot is open exactly while its auction is LIVE; under the extended
// policy a lot stays open past EndsAt until its own effective end time, as
// long as the sweep has not ended the auction yet.
func LotOpen(a Auction, l Lot, now time.Time, policy EndPolicy) bool {
	if !a.Published || a.Status == AuctionDraft || a.Status == AuctionEnded {
		return false
	}
	if now.Before(a.StartsAt) {
		return false
	}
	if policy == EndPolicyExtended {
		return now.Before(l.EffectiveEnd(a))
	}
	return a.StatusAt(now) == AuctionLive
}
