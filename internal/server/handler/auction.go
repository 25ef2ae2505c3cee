package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/lotengine/internal/domain"
)

// AuctionHandler serves GET /api/auctions/{id}.
type AuctionHandler struct {
	store   Store
	policy  domain.EndPolicy
	nowFunc func() time.Time
	logger  *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(store Store, policy domain.EndPolicy, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{store: store, policy: policy, nowFunc: time.Now, logger: logger}
}

type auctionView struct {
	domain.Auction
	Status   domain.AuctionStatus `json:"status"`
	ClosesAt time.Time            `json:"closes_at"`
	Lots     []lotView            `json:"lots"`
}

// GetAuction returns an auction with its status derived at request time.
// Unpublished auctions are not found.
func (h *AuctionHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := h.store.GetAuction(ctx, r.PathValue("id"))
	if errors.Is(err, domain.ErrNotFound) || (err == nil && !a.Published) {
		writeError(w, http.StatusNotFound, "auction not found")
		return
	}
	if err != nil {
		internalError(w, r, h.logger, "get auction failed", err)
		return
	}
	lots, err := h.store.ListLots(ctx, a.ID)
	if err != nil {
		internalError(w, r, h.logger, "list auction lots failed", err)
		return
	}

	now := h.nowFunc()
	view := auctionView{
		Auction:  a,
		Status:   a.StatusUnder(h.policy, lots, now),
		ClosesAt: a.ClosesAt(h.policy, lots),
		Lots:     make([]lotView, 0, len(lots)),
	}
	for _, l := range lots {
		view.Lots = append(view.Lots, newLotView(a, l, lots, h.policy, now))
	}
	writeJSON(w, http.StatusOK, view)
}
