package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"cupcycle/internal/common/api"
	"cupcycle/internal/common/middleware"
	"cupcycle/internal/providers"
	"cupcycle/internal/topup"
	walletdomain "cupcycle/internal/wallet/domain"
)

// Handler handles top-up HTTP requests
type Handler struct {
	service *topup.Service
}

// NewHandler creates a new top-up handler
func NewHandler(service *topup.Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the authenticated top-up routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreateTopUp)
	r.Get("/", h.ListTopUps)
	r.Get("/{code}", h.GetTopUp)

	return r
}

// CallbackRoutes returns the provider callback routes. These are hit by
// the gateways, not by users, and write provider-specific bodies.
func (h *Handler) CallbackRoutes() chi.Router {
	r := chi.NewRouter()

	// VNPay IPN arrives as GET with query parameters; the rest POST
	r.Get("/vnpay", h.HandleCallback)
	r.Post("/{provider}", h.HandleCallback)

	return r
}

// CreateTopUpRequest is the API request for creating a top-up
type CreateTopUpRequest struct {
	Provider  string `json:"provider" validate:"required,oneof=vnpay momo zalopay banktransfer"`
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	OrderInfo string `json:"order_info" validate:"max=255"`
	ReturnURL string `json:"return_url" validate:"omitempty,url"`
}

// CreateTopUpResponse bundles the transaction with payment instructions
type CreateTopUpResponse struct {
	Transaction *topup.PaymentTransaction     `json:"transaction"`
	Instruction *providers.PaymentInstruction `json:"instruction"`
}

// CreateTopUp handles POST /topups
func (h *Handler) CreateTopUp(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		api.BadRequest(w, "user ID required")
		return
	}

	var req CreateTopUpRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	txn, instruction, err := h.service.CreateTopUp(r.Context(), topup.CreateTopUpRequest{
		UserID:    userID,
		Provider:  req.Provider,
		Amount:    req.Amount,
		OrderInfo: req.OrderInfo,
		ReturnURL: req.ReturnURL,
		ClientIP:  clientIP(r),
	})
	if err != nil {
		switch {
		case errors.Is(err, providers.ErrInvalidAmount):
			api.UnprocessableEntity(w, api.ErrCodeInvalidAmount, err.Error())
		case errors.Is(err, walletdomain.ErrAccountNotFound):
			api.NotFound(w, "wallet not found")
		default:
			api.InternalError(w, "failed to create topup")
		}
		return
	}

	api.WriteData(w, http.StatusCreated, CreateTopUpResponse{
		Transaction: txn,
		Instruction: instruction,
	})
}

// ListTopUps handles GET /topups
func (h *Handler) ListTopUps(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		api.BadRequest(w, "user ID required")
		return
	}

	params := api.GetPaginationParams(r, 50, 100)

	txns, total, err := h.service.ListTransactions(r.Context(), userID, params.Limit, params.Offset)
	if err != nil {
		api.InternalError(w, "failed to list topups")
		return
	}

	api.WritePaginated(w, txns, &api.Pagination{
		Limit:   params.Limit,
		Offset:  params.Offset,
		Total:   total,
		HasMore: int64(params.Offset+len(txns)) < total,
	})
}

// GetTopUp handles GET /topups/{code}
func (h *Handler) GetTopUp(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	txn, err := h.service.GetTransaction(r.Context(), code)
	if err != nil {
		if errors.Is(err, topup.ErrTransactionNotFound) {
			api.NotFound(w, "topup not found")
			return
		}
		api.InternalError(w, "failed to get topup")
		return
	}

	userID := middleware.GetUserID(r.Context())
	if userID != "" && txn.UserID != userID {
		api.NotFound(w, "topup not found")
		return
	}

	api.WriteData(w, http.StatusOK, txn)
}

// HandleCallback handles provider settlement callbacks. The ack body
// always comes from the adapter so each gateway sees its own contract.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	if providerName == "" {
		providerName = "vnpay"
	}

	adapter, outcome, err := h.service.HandleCallback(r.Context(), providerName, r)
	if adapter == nil {
		api.NotFound(w, "unknown provider")
		return
	}
	_ = err // already logged by the service; the gateway only sees the ack

	adapter.WriteAck(w, outcome)
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}
