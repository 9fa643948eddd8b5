package order_api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-orders/internal/auth"
	"ms-orders/internal/models"
)

// ownedOrder loads the {id} order of the request if the caller may see it.
// Orders belonging to someone else are reported as missing.
func (h *Handler) ownedOrder(r *http.Request) (*models.Order, error) {
	return h.OrderService.GetForSession(r.Context(), auth.Session(r.Context()), chi.URLParam(r, "id"))
}
