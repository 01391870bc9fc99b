package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"cupcycle/internal/common/api"
	"cupcycle/internal/common/database"
	"cupcycle/internal/common/middleware"
	"cupcycle/internal/deposit"
	walletdomain "cupcycle/internal/wallet/domain"
)

// Handler handles deposit hold HTTP requests
type Handler struct {
	service *deposit.Service
}

// NewHandler creates a new deposit handler
func NewHandler(service *deposit.Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the deposit hold routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.PlaceHold)
	r.Get("/", h.ListHolds)
	r.Get("/{id}", h.GetHold)
	r.Post("/{id}/release", h.Release)
	r.Post("/{id}/forfeit", h.Forfeit)

	return r
}

// PlaceHoldRequest is the API request for placing a hold
type PlaceHoldRequest struct {
	BorrowTransactionID string `json:"borrow_transaction_id" validate:"required,max=64"`
}

// PlaceHold handles POST /holds
func (h *Handler) PlaceHold(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		api.BadRequest(w, "user ID required")
		return
	}

	var req PlaceHoldRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	hold, err := h.service.PlaceHold(r.Context(), userID, req.BorrowTransactionID)
	if err != nil {
		switch {
		case errors.Is(err, walletdomain.ErrInsufficientFunds):
			api.UnprocessableEntity(w, api.ErrCodeInsufficientFunds, "wallet balance does not cover the deposit")
		case errors.Is(err, walletdomain.ErrAccountNotFound):
			api.NotFound(w, "wallet not found")
		case errors.Is(err, database.ErrAlreadyExists):
			api.Conflict(w, "hold for this borrow already exists")
		default:
			api.InternalError(w, "failed to place hold")
		}
		return
	}

	api.WriteData(w, http.StatusCreated, hold)
}

// ReleaseResponse bundles the hold with its refund entry
type ReleaseResponse struct {
	Hold        *deposit.DepositHold      `json:"hold"`
	RefundEntry *walletdomain.LedgerEntry `json:"refund_entry"`
}

// Release handles POST /holds/{id}/release
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	hold, entry, err := h.service.Release(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, deposit.ErrHoldNotFound):
			api.NotFound(w, "hold not found")
		case errors.Is(err, deposit.ErrHoldForfeited):
			api.UnprocessableEntity(w, api.ErrCodeAlreadyFinalized, "hold was forfeited")
		case errors.Is(err, deposit.ErrStaleHold):
			api.Conflict(w, "hold is being updated, retry")
		default:
			api.InternalError(w, "failed to release hold")
		}
		return
	}

	api.WriteData(w, http.StatusOK, ReleaseResponse{Hold: hold, RefundEntry: entry})
}

// ForfeitRequest is the API request for forfeiting a hold
type ForfeitRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
}

// Forfeit handles POST /holds/{id}/forfeit
func (h *Handler) Forfeit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ForfeitRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	hold, err := h.service.Forfeit(r.Context(), id, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, deposit.ErrHoldNotFound):
			api.NotFound(w, "hold not found")
		case errors.Is(err, deposit.ErrHoldReleased):
			api.UnprocessableEntity(w, api.ErrCodeAlreadyFinalized, "hold was released")
		case errors.Is(err, deposit.ErrStaleHold):
			api.Conflict(w, "hold is being updated, retry")
		default:
			api.InternalError(w, "failed to forfeit hold")
		}
		return
	}

	api.WriteData(w, http.StatusOK, hold)
}

// GetHold handles GET /holds/{id}
func (h *Handler) GetHold(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	hold, err := h.service.GetHold(r.Context(), id)
	if err != nil {
		if errors.Is(err, deposit.ErrHoldNotFound) {
			api.NotFound(w, "hold not found")
			return
		}
		api.InternalError(w, "failed to get hold")
		return
	}

	api.WriteData(w, http.StatusOK, hold)
}

// ListHolds handles GET /holds
func (h *Handler) ListHolds(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		api.BadRequest(w, "user ID required")
		return
	}

	params := api.GetPaginationParams(r, 50, 100)

	var status *deposit.HoldStatus
	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		st := deposit.HoldStatus(statusStr)
		status = &st
	}

	holds, total, err := h.service.ListHolds(r.Context(), userID, status, params.Limit, params.Offset)
	if err != nil {
		api.InternalError(w, "failed to list holds")
		return
	}

	api.WritePaginated(w, holds, &api.Pagination{
		Limit:   params.Limit,
		Offset:  params.Offset,
		Total:   total,
		HasMore: int64(params.Offset+len(holds)) < total,
	})
}
