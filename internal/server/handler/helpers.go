// Package handler implements the engine's HTTP endpoints.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/lotengine/internal/domain"
)

// Store is the read side the handlers need. domain.Repository satisfies it.
type Store interface {
	GetAuction(ctx context.Context, id string) (domain.Auction, error)
	GetLot(ctx context.Context, id string) (domain.Lot, error)
	ListLots(ctx context.Context, auctionID string) ([]domain.Lot, error)
	ListBids(ctx context.Context, lotID string) ([]domain.Bid, error)
	GetOrderByLot(ctx context.Context, lotID string) (domain.Order, error)
}

// writeJSON marshals v and writes it with status. Marshal failures become a
// plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func internalError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, msg string, err error) {
	logger.ErrorContext(r.Context(), msg, slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// lotView is a lot as bidders see it: reserve hidden, effective end and
// next minimum resolved against the auction.
type lotView struct {
	domain.Lot
	EffectiveEndTime time.Time            `json:"effective_end_time"`
	MinNextBidCents  int64                `json:"min_next_bid_cents"`
	AuctionStatus    domain.AuctionStatus `json:"auction_status"`
	Open             bool                 `json:"open"`
}

func newLotView(a domain.Auction, l domain.Lot, lots []domain.Lot, policy domain.EndPolicy, now time.Time) lotView {
	return lotView{
		Lot:              l,
		EffectiveEndTime: l.EffectiveEnd(a),
		MinNextBidCents:  l.MinNextBidCents(a.FixedIncrementCents),
		AuctionStatus:    a.StatusUnder(policy, lots, now),
		Open:             domain.LotOpen(a, l, now, policy),
	}
}
