package validation

// PlaceBidRequest is the payload for POST /api/bids. The bidder comes from
// the authenticated caller, never from the body.
type PlaceBidRequest struct {
	LotID       string `json:"lot_id" validate:"required,max=128,ident"`
	AmountCents int64  `json:"amount_cents" validate:"required,gt=0"`
}
