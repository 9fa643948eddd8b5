package sse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-orders/internal/models"
)

func TestOrderEventEmitter_DeliversToSubscribersOfThatOrder(t *testing.T) {
	e := NewOrderEventEmitter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mine := e.Subscribe(ctx, "order-1")
	other := e.Subscribe(ctx, "order-2")

	e.Broadcast(models.OrderEvent{OrderID: "order-1", Status: models.OrderShipped})

	select {
	case ev := <-mine:
		assert.Equal(t, models.OrderShipped, ev.Status)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}

	select {
	case ev := <-other:
		t.Fatalf("unexpected event for other order: %+v", ev)
	default:
	}
}

func TestOrderEventEmitter_SlowClientDoesNotBlock(t *testing.T) {
	e := NewOrderEventEmitter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.Subscribe(ctx, "order-1")
	for i := 0; i < clientBuffer*3; i++ {
		e.Broadcast(models.OrderEvent{OrderID: "order-1"})
	}
}

func TestOrderEventEmitter_UnsubscribesOnCancel(t *testing.T) {
	e := NewOrderEventEmitter()
	ctx, cancel := context.WithCancel(context.Background())

	ch := e.Subscribe(ctx, "order-1")
	require.Equal(t, 1, e.ClientCount("order-1"))

	cancel()
	require.Eventually(t, func() bool { return e.ClientCount("order-1") == 0 }, time.Second, 5*time.Millisecond)

	_, open := <-ch
	assert.False(t, open)

	e.Broadcast(models.OrderEvent{OrderID: "order-1"})
}
