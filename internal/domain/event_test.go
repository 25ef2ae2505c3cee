package domain

import (
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestAuctionEndedEventAlongsideStatus(t *testing.T) {
	ev, err := NewEvent(EventAuctionEnded, AuctionEndedKey("a1"), AuctionEndedEvent{
		AuctionID: "a1",
		EndedAt:   t0,
		LotsSold:  2,
	}, t0)
	assert.NoError(t, err)
	check.Equal(t, "auction_ended:a1", ev.Key)
	check.Equal(t, EventPending, ev.State)

	var got AuctionEndedEvent
	assert.NoError(t, ev.Decode(&got))
	check.Equal(t, AuctionEndedEvent{AuctionID: "a1", EndedAt: t0, LotsSold: 2}, got)

	a := liveAuction()
	a.Status = AuctionEnded
	check.Equal(t, AuctionStatus("ENDED"), a.Status)
}

func TestLotWonEventDecode(t *testing.T) {
	ev, err := NewEvent(EventLotWon, LotWonKey("l1"), LotWonEvent{
		LotID:        "l1",
		AuctionID:    "a1",
		WinnerID:     "u1",
		WinningBidID: "b1",
		AmountCents:  12500,
	}, t0)
	assert.NoError(t, err)
	check.Equal(t, `{"lot_id":"l1","auction_id":"a1","winner_id":"u1","winning_bid_id":"b1","amount_cents":12500}`, string(ev.Payload))

	var started AuctionStartedEvent
	check.NoError(t, ev.Decode(&started))
	check.Equal(t, "a1", started.AuctionID)

	ev.Payload = []byte(`{`)
	check.Error(t, ev.Decode(&started))
}
