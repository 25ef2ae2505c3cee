package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrConflict      = errors.New("concurrent modification")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")

	// Bid admission errors. They are surfaced verbatim to the bidder.
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidAmount   = errors.New("amount must be a positive number of cents")
	ErrLotNotFound     = errors.New("lot not found")
	ErrAuctionNotLive  = errors.New("auction not live")
	ErrBidTooLow       = errors.New("bid too low")
	ErrLotBusy         = errors.New("lot is busy, retry")
)

// BidTooLowError carries the minimum acceptable amount so a client can
// retry immediately. errors.Is(err, ErrBidTooLow) matches it.
type BidTooLowError struct {
	MinNextBidCents int64
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("Minimum bid is %s", FormatCents(e.MinNextBidCents))
}

// Is lets errors.Is match the ErrBidTooLow sentinel.
func (e *BidTooLowError) Is(target error) bool {
	return target == ErrBidTooLow
}
