package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-orders/internal/apperr"
	"ms-orders/internal/auth"
	"ms-orders/internal/logger"
	"ms-orders/internal/models"
	"ms-orders/internal/payment"
	"ms-orders/internal/payment/services"
	"ms-orders/internal/utils"
)

const maxWebhookBody = 65536

type Reconciler interface {
	Reconcile(ctx context.Context, ev payment.Event) (*payment.Result, error)
}

type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*services.WebhookEvent, error)
}

// OrderReader resolves an order the caller is allowed to see.
type OrderReader interface {
	GetForSession(ctx context.Context, sess *models.Session, id string) (*models.Order, error)
}

type StripeHandler struct {
	reconciler Reconciler
	webhooks   WebhookParser
	orders     OrderReader
	logger     *logger.Logger
}

func NewStripeHandler(reconciler Reconciler, webhooks WebhookParser, orders OrderReader, logger *logger.Logger) *StripeHandler {
	return &StripeHandler{
		reconciler: reconciler,
		webhooks:   webhooks,
		orders:     orders,
		logger:     logger,
	}
}

type confirmRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
}

// ConfirmOrder → POST /api/orders/{id}/confirm, the buyer's post-payment call
func (h *StripeHandler) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetForSession(r.Context(), auth.Session(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		utils.WriteError(w, "Order not found", err)
		return
	}

	var req confirmRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			utils.WriteError(w, "Invalid request payload", apperr.Validation("invalid request body: %v", err))
			return
		}
	}

	res, err := h.reconciler.Reconcile(r.Context(), payment.ClientConfirmed{
		OrderID:         order.ID,
		PaymentIntentID: req.PaymentIntentID,
	})
	if err != nil {
		h.logger.Warn("PAYMENT", fmt.Sprintf("Client confirmation of order %s rejected: %v", order.ID, err))
		utils.WriteError(w, "Payment confirmation failed", err)
		return
	}

	status := http.StatusOK
	if res.IntentStatus != "" {
		status = http.StatusAccepted
	}
	utils.WriteJSON(w, status, utils.SuccessResponse("Payment confirmed", res))
}

// HandleWebhook → POST /api/webhooks/stripe
func (h *StripeHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("WEBHOOK", fmt.Sprintf("Error reading request body: %v", err))
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	event, err := h.webhooks.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		var whErr *services.WebhookError
		if errors.As(err, &whErr) {
			h.logger.Error("WEBHOOK", fmt.Sprintf("[%s] %s", whErr.Category, whErr.InternalError))
			utils.WriteJSON(w, whErr.StatusCode, utils.ErrorResponse("Webhook rejected", whErr.PublicError))
			return
		}
		h.logger.Error("WEBHOOK", err.Error())
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Webhook rejected", "invalid payload"))
		return
	}

	var ev payment.Event
	switch event.Type {
	case services.EventIntentSucceeded:
		ev = payment.WebhookConfirmed{EventID: event.ID, Intent: event.Intent}
	case services.EventIntentFailed:
		ev = payment.WebhookFailed{EventID: event.ID, Intent: event.Intent}
	default:
		h.logger.Info("WEBHOOK", fmt.Sprintf("Unhandled event type: %s", event.Type))
		w.WriteHeader(http.StatusOK)
		return
	}

	h.logger.Info("WEBHOOK", fmt.Sprintf("Processing %s (%s) for intent %s", event.Type, event.ID, event.Intent.ID))
	res, err := h.reconciler.Reconcile(r.Context(), ev)
	if err != nil {
		if apperr.HTTPStatus(err) >= http.StatusInternalServerError {
			// Stripe redelivers on 5xx; let it.
			h.logger.Error("WEBHOOK", fmt.Sprintf("Event %s failed, asking for redelivery: %v", event.ID, err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		h.logger.Error("WEBHOOK", fmt.Sprintf("Event %s acknowledged without effect: %v", event.ID, err))
		w.WriteHeader(http.StatusOK)
		return
	}

	if res.Order != nil {
		h.logger.Info("WEBHOOK", fmt.Sprintf("Event %s done: order %s is %s (changed=%t)", event.ID, res.Order.OrderNumber, res.Order.Status, res.Changed))
	}
	w.WriteHeader(http.StatusOK)
}
