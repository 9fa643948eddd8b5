package sse

import (
	"context"
	"sync"

	"ms-orders/internal/models"
)

const clientBuffer = 10

// OrderEventEmitter fans order status events out to SSE subscribers of each
// order.
type OrderEventEmitter struct {
	// key: orderID, value: client channels
	clients map[string][]chan models.OrderEvent
	mu      sync.RWMutex
}

func NewOrderEventEmitter() *OrderEventEmitter {
	return &OrderEventEmitter{clients: make(map[string][]chan models.OrderEvent)}
}

// Subscribe adds a client for one order. The channel is closed once ctx is
// done.
func (e *OrderEventEmitter) Subscribe(ctx context.Context, orderID string) <-chan models.OrderEvent {
	clientChan := make(chan models.OrderEvent, clientBuffer)

	e.mu.Lock()
	e.clients[orderID] = append(e.clients[orderID], clientChan)
	e.mu.Unlock()

	// Remove client when context is done
	go func() {
		<-ctx.Done()
		e.remove(orderID, clientChan)
	}()

	return clientChan
}

// Broadcast sends the event to every subscriber of its order. Slow clients
// miss events rather than stall the caller.
func (e *OrderEventEmitter) Broadcast(event models.OrderEvent) {
	// Sends happen under the read lock so remove cannot close a channel mid-send.
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, clientChan := range e.clients[event.OrderID] {
		select {
		case clientChan <- event:
		default:
			// Channel buffer full, skip this client
		}
	}
}

func (e *OrderEventEmitter) remove(orderID string, clientChan chan models.OrderEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	clients := e.clients[orderID]
	for i, ch := range clients {
		if ch == clientChan {
			e.clients[orderID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}

	// Clean up map entry if no more clients
	if len(e.clients[orderID]) == 0 {
		delete(e.clients, orderID)
	}
}

// ClientCount returns the number of clients subscribed to an order.
func (e *OrderEventEmitter) ClientCount(orderID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clients[orderID])
}
