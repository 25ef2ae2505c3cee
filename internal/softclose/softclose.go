// Package softclose computes lot deadlines under the soft-close rule: a bid
// landing within the closing window pushes that lot's deadline out.
package softclose

import "time"

// EffectiveEnd returns the deadline implied by a single bid. With no bid the
// auction's nominal end stands; a bid placed no more than window before
// auctionEnd moves the deadline to lastBid+extend.
//
// Each bid is evaluated independently, so callers must fold the result into
// the lot's previous deadline with Advance rather than storing it directly.
func EffectiveEnd(auctionEnd time.Time, lastBid *time.Time, window, extend time.Duration) time.Time {
	if lastBid == nil {
		return auctionEnd
	}
	if auctionEnd.Sub(*lastBid) <= window {
		return lastBid.Add(extend)
	}
	return auctionEnd
}

// Advance returns the later of previous and candidate, and whether the
// deadline moved. Deadlines never move earlier.
func Advance(previous, candidate time.Time) (time.Time, bool) {
	if candidate.After(previous) {
		return candidate, true
	}
	return previous, false
}

// Next combines EffectiveEnd and Advance for a bid placed at bidAt on a lot
// whose current deadline is previous.
func Next(previous, auctionEnd, bidAt time.Time, window, extend time.Duration) (time.Time, bool) {
	return Advance(previous, EffectiveEnd(auctionEnd, &bidAt, window, extend))
}
