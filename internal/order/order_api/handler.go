package order_api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-orders/internal/apperr"
	"ms-orders/internal/auth"
	"ms-orders/internal/logger"
	"ms-orders/internal/models"
	"ms-orders/internal/order"
	"ms-orders/internal/utils"
)

// Resender re-sends one lifecycle email on request.
type Resender interface {
	Resend(ctx context.Context, orderID string, emailType models.EmailType) (models.EmailRecord, error)
}

type Handler struct {
	OrderService *order.OrderService
	Emails       Resender
	Logger       *logger.Logger
}

func NewHandler(orderService *order.OrderService, emails Resender, log *logger.Logger) *Handler {
	return &Handler{
		OrderService: orderService,
		Emails:       emails,
		Logger:       log,
	}
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(v); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}

// Checkout → POST /api/orders/checkout
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	sess := auth.Session(r.Context())

	var req order.CheckoutRequest
	if err := decode(r, &req); err != nil {
		utils.WriteError(w, "Checkout failed", err)
		return
	}

	res, err := h.OrderService.Checkout(r.Context(), sess, req, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.Logger.Warn("API", fmt.Sprintf("Checkout: user=%s: %v", sess.UserID, err))
		utils.WriteError(w, "Checkout failed", err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	h.Logger.Info("API", fmt.Sprintf("Checkout: order %s (%s) status=%s", res.Order.OrderNumber, res.Order.ID, res.Order.Status))
	utils.WriteJSON(w, status, utils.SuccessResponse("Order created", res))
}

// GetOrder → GET /api/orders/{id}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderData, err := h.OrderService.GetForSession(r.Context(), auth.Session(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		utils.WriteError(w, "Order not found", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Order retrieved", orderData))
}

// GetOrderByNumber → GET /api/orders/number/{number}
func (h *Handler) GetOrderByNumber(w http.ResponseWriter, r *http.Request) {
	orderData, err := h.OrderService.GetByNumberForSession(r.Context(), auth.Session(r.Context()), chi.URLParam(r, "number"))
	if err != nil {
		utils.WriteError(w, "Order not found", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Order retrieved", orderData))
}

// ListOrders → GET /api/orders?limit=&offset=
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	orders, err := h.OrderService.ListForSession(r.Context(), auth.Session(r.Context()), limit, offset)
	if err != nil {
		utils.WriteError(w, "Failed to retrieve orders", err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Orders retrieved", orders))
}

type statusRequest struct {
	Status            models.OrderStatus `json:"status"`
	TrackingNumber    string             `json:"tracking_number,omitempty"`
	TrackingURL       string             `json:"tracking_url,omitempty"`
	EstimatedDelivery *time.Time         `json:"estimated_delivery,omitempty"`
	Note              string             `json:"note,omitempty"`
}

type statusResponse struct {
	Order   *models.Order `json:"order"`
	Changed bool          `json:"changed"`
}

// UpdateStatus → POST /api/admin/orders/{id}/status
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	var req statusRequest
	if err := decode(r, &req); err != nil {
		utils.WriteError(w, "Status update failed", err)
		return
	}

	actor := auth.ServiceSubject(r.Context())
	if actor == "" {
		actor = "admin:" + auth.UserID(r.Context())
	}

	updated, changed, err := h.OrderService.AdvanceStatus(r.Context(), orderID, req.Status, models.StatusExtra{
		TrackingNumber:    req.TrackingNumber,
		TrackingURL:       req.TrackingURL,
		EstimatedDelivery: req.EstimatedDelivery,
		Note:              req.Note,
	}, actor)
	if err != nil {
		h.Logger.Warn("API", fmt.Sprintf("UpdateStatus: order=%s to=%s by %s: %v", orderID, req.Status, actor, err))
		utils.WriteError(w, "Status update failed", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Order status updated", statusResponse{Order: updated, Changed: changed}))
}

// ResendEmail → POST /api/admin/orders/{id}/emails/{type}/resend
func (h *Handler) ResendEmail(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	emailType := models.EmailType(chi.URLParam(r, "type"))
	if !emailType.Valid() {
		utils.WriteError(w, "Resend failed", apperr.Validation("unknown email type %q", emailType))
		return
	}

	record, err := h.Emails.Resend(r.Context(), orderID, emailType)
	if err != nil {
		utils.WriteError(w, "Resend failed", err)
		return
	}
	h.Logger.LogOrder("EMAIL_RESENT", orderID, fmt.Sprintf("%s sent=%t attempts=%d", emailType, record.Sent, record.Attempts))
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Email processed", record))
}
