package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"cupcycle/internal/common/api"
	"cupcycle/internal/common/database"
	"cupcycle/internal/common/middleware"
	"cupcycle/internal/wallet"
	"cupcycle/internal/wallet/domain"
	"cupcycle/internal/wallet/store"
)

// Handler handles wallet HTTP requests
type Handler struct {
	service *wallet.Service
}

// NewHandler creates a new wallet handler
func NewHandler(service *wallet.Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the wallet routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/accounts", h.CreateAccount)
	r.Get("/accounts/me", h.GetMyAccount)
	r.Get("/accounts/{id}", h.GetAccount)
	r.Get("/accounts/{id}/balance", h.GetBalance)
	r.Get("/accounts/{id}/history", h.GetHistory)

	return r
}

// CreateAccount handles POST /accounts
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		api.BadRequest(w, "user ID required")
		return
	}

	account, err := h.service.CreateAccount(r.Context(), userID)
	if err != nil {
		if database.IsUniqueViolation(err) || errors.Is(err, database.ErrAlreadyExists) {
			api.Conflict(w, "wallet already exists for this user")
			return
		}
		api.InternalError(w, "failed to create wallet")
		return
	}

	api.WriteData(w, http.StatusCreated, account)
}

// GetMyAccount handles GET /accounts/me
func (h *Handler) GetMyAccount(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		api.BadRequest(w, "user ID required")
		return
	}

	account, err := h.service.GetAccountByUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			api.NotFound(w, "wallet not found")
			return
		}
		api.InternalError(w, "failed to get wallet")
		return
	}

	api.WriteData(w, http.StatusOK, account)
}

// GetAccount handles GET /accounts/{id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	account, err := h.service.GetAccount(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			api.NotFound(w, "wallet not found")
			return
		}
		api.InternalError(w, "failed to get wallet")
		return
	}

	api.WriteData(w, http.StatusOK, account)
}

// GetBalance handles GET /accounts/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	balance, err := h.service.GetBalance(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			api.NotFound(w, "wallet not found")
			return
		}
		api.InternalError(w, "failed to get balance")
		return
	}

	api.WriteData(w, http.StatusOK, map[string]int64{"balance": balance})
}

// GetHistory handles GET /accounts/{id}/history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	params := api.GetPaginationParams(r, 50, 100)

	filter := store.HistoryFilter{
		Limit:  params.Limit,
		Offset: params.Offset,
	}

	if typeStr := r.URL.Query().Get("reference_type"); typeStr != "" {
		t := domain.ReferenceType(typeStr)
		filter.ReferenceType = &t
	}

	if fromStr := r.URL.Query().Get("from"); fromStr != "" {
		from, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			api.BadRequest(w, "invalid from timestamp")
			return
		}
		filter.From = &from
	}

	if toStr := r.URL.Query().Get("to"); toStr != "" {
		to, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			api.BadRequest(w, "invalid to timestamp")
			return
		}
		filter.To = &to
	}

	entries, total, err := h.service.GetHistory(r.Context(), id, filter)
	if err != nil {
		api.InternalError(w, "failed to get history")
		return
	}

	api.WritePaginated(w, entries, &api.Pagination{
		Limit:   filter.Limit,
		Offset:  filter.Offset,
		Total:   total,
		HasMore: int64(filter.Offset+len(entries)) < total,
	})
}
