package order_api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ms-orders/internal/models"
	"ms-orders/internal/order"
	"ms-orders/internal/sse"
	"ms-orders/internal/utils"
)

const keepAliveInterval = 25 * time.Second

// SSEHandler streams order status changes to the order's owner.
type SSEHandler struct {
	*Handler
	EventEmitter *sse.OrderEventEmitter
}

func NewSSEHandler(h *Handler, emitter *sse.OrderEventEmitter) *SSEHandler {
	return &SSEHandler{Handler: h, EventEmitter: emitter}
}

// HandleOrderEvents → GET /api/orders/{id}/events
func (h *SSEHandler) HandleOrderEvents(w http.ResponseWriter, r *http.Request) {
	current, err := h.ownedOrder(r)
	if err != nil {
		utils.WriteError(w, "Order not found", err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Streams outlive the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	ctx := r.Context()
	eventChan := h.EventEmitter.Subscribe(ctx, current.ID)

	setupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	// The snapshot lets a client that connected late render the current state.
	if err := writeEvent(w, "status", order.NewEvent("order.snapshot", current, "")); err != nil {
		h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize snapshot for order %s: %v", current.ID, err))
		return
	}
	flusher.Flush()

	h.Logger.Info("SSE", fmt.Sprintf("Client connected to status events for order %s", current.ID))

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if err := writeEvent(w, "status", event); err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize status event: %v", err))
				continue
			}
			flusher.Flush()

		case <-keepAlive.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()

		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from order %s", current.ID))
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, event models.OrderEvent) error {
	jsonData, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, jsonData)
	return err
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}

