package voucher_api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-orders/internal/apperr"
	"ms-orders/internal/auth"
	"ms-orders/internal/logger"
	"ms-orders/internal/models"
	"ms-orders/internal/utils"
	"ms-orders/internal/voucher"
)

type Service interface {
	Validate(ctx context.Context, code string, orderAmount int64, userEmail string) (*voucher.Result, error)
	Create(ctx context.Context, in voucher.CreateInput) (*models.Voucher, error)
	Usages(ctx context.Context, code string) (*models.Voucher, []models.VoucherUsage, error)
}

type usagesResponse struct {
	Voucher *models.Voucher       `json:"voucher"`
	Usages  []models.VoucherUsage `json:"usages"`
}

type Handler struct {
	Service Service
	Logger  *logger.Logger
}

type validateRequest struct {
	Code   string `json:"code"`
	Amount int64  `json:"amount"`
	Email  string `json:"email"`
}

// Validate → POST /api/vouchers/validate
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, "Invalid request body", apperr.Validation("%v", err))
		return
	}

	email := req.Email
	if sess := auth.Session(r.Context()); sess != nil && sess.Email != "" {
		email = sess.Email
	}

	res, err := h.Service.Validate(r.Context(), req.Code, req.Amount, email)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Validate voucher %s: %v", req.Code, err))
		utils.WriteError(w, "Voucher validation failed", err)
		return
	}

	message := "Voucher applied"
	if !res.Valid {
		message = res.Reason
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse(message, res))
}

// Create → POST /api/admin/vouchers
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in voucher.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		utils.WriteError(w, "Invalid request body", apperr.Validation("%v", err))
		return
	}

	v, err := h.Service.Create(r.Context(), in)
	if err != nil {
		utils.WriteError(w, "Could not create voucher", err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Voucher created", v))
}

// Usages → GET /api/admin/vouchers/{code}/usages
func (h *Handler) Usages(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	v, usages, err := h.Service.Usages(r.Context(), code)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Voucher usages %s: %v", code, err))
		utils.WriteError(w, "Could not load voucher usages", err)
		return
	}
	if usages == nil {
		usages = []models.VoucherUsage{}
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Voucher usages", usagesResponse{Voucher: v, Usages: usages}))
}
