package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/alanyoungcy/lotengine/internal/domain"
	"github.com/alanyoungcy/lotengine/internal/server/middleware"
	"github.com/alanyoungcy/lotengine/internal/service"
	"github.com/alanyoungcy/lotengine/internal/validation"
)

// BidPlacer admits bids.
type BidPlacer interface {
	PlaceBid(ctx context.Context, lotID, userID string, amountCents int64) (service.BidResult, error)
}

// BidHandler serves POST /api/bids.
type BidHandler struct {
	bids     BidPlacer
	validate *validatorv10.Validate
	logger   *slog.Logger
}

// NewBidHandler creates a BidHandler.
func NewBidHandler(bids BidPlacer, validate *validatorv10.Validate, logger *slog.Logger) *BidHandler {
	return &BidHandler{bids: bids, validate: validate, logger: logger}
}

type bidTooLowResponse struct {
	Error           string `json:"error"`
	MinNextBidCents int64  `json:"min_next_bid_cents"`
}

// PlaceBid admits a bid from the caller identified by the gateway.
// POST /api/bids {"lot_id": "...", "amount_cents": 5000}
func (h *BidHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, domain.ErrUnauthenticated.Error())
		return
	}

	var req validation.PlaceBidRequest
	if err := validation.DecodeAndValidate(r.Body, &req, h.validate); err != nil {
		var verr *validation.Error
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, verr)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.bids.PlaceBid(r.Context(), req.LotID, userID, req.AmountCents)
	if err != nil {
		h.writeBidError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *BidHandler) writeBidError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLow *domain.BidTooLowError
	switch {
	case errors.As(err, &tooLow):
		writeJSON(w, http.StatusBadRequest, bidTooLowResponse{Error: tooLow.Error(), MinNextBidCents: tooLow.MinNextBidCents})
	case errors.Is(err, domain.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrLotNotFound):
		writeError(w, http.StatusNotFound, domain.ErrLotNotFound.Error())
	case errors.Is(err, domain.ErrAuctionNotLive):
		writeError(w, http.StatusConflict, domain.ErrAuctionNotLive.Error())
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, domain.ErrLotBusy):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, domain.ErrLotBusy.Error())
	default:
		internalError(w, r, h.logger, "place bid failed", err)
	}
}
