package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-orders/internal/config"
	"ms-orders/internal/logger"
	"ms-orders/internal/models"
)

type fakeWriter struct {
	messages []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestProducer_RoutesEventsByTopicAndKey(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{
		Writer: w,
		Topics: config.TopicConfig{OrderEvents: "orders.events", PaymentEvents: "payments.events"},
		Logger: logger.Discard(),
	}

	require.NoError(t, p.PublishOrderEvent(context.Background(), models.OrderEvent{Type: "order.created", OrderID: "o-1", Status: models.OrderPending}))
	require.NoError(t, p.PublishPaymentEvent(context.Background(), models.PaymentEvent{Type: "payment.failed", PaymentIntentID: "pi_1"}))

	require.Len(t, w.messages, 2)
	assert.Equal(t, "orders.events", w.messages[0].Topic)
	assert.Equal(t, "o-1", string(w.messages[0].Key))

	var decoded models.OrderEvent
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &decoded))
	assert.Equal(t, "order.created", decoded.Type)

	assert.Equal(t, "payments.events", w.messages[1].Topic)
	assert.Equal(t, "pi_1", string(w.messages[1].Key), "uncorrelated payments are keyed by intent")
}

type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		r.cancel()
		return kafka.Message{}, context.Canceled
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestConsumer_AppliesUpdatesAndCommitsEverything(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{
		cancel: cancel,
		messages: []kafka.Message{
			{Offset: 1, Value: []byte(`{"order_id":"o-1","status":"shipped","tracking_number":"1Z"}`)},
			{Offset: 2, Value: []byte(`not json`)},
			{Offset: 3, Value: []byte(`{"order_id":"o-2"}`)},
			{Offset: 4, Value: []byte(`{"order_id":"o-3","status":"delivered"}`)},
		},
	}

	var applied []models.FulfillmentUpdate
	handler := func(_ context.Context, u models.FulfillmentUpdate) error {
		applied = append(applied, u)
		if u.OrderID == "o-3" {
			return errors.New("invalid status transition")
		}
		return nil
	}

	c := NewConsumerWithReader(reader, "fulfillment.status", logger.Discard())
	require.NoError(t, c.Start(ctx, handler))

	require.Len(t, applied, 2)
	assert.Equal(t, "1Z", applied[0].TrackingNumber)
	assert.Equal(t, models.OrderShipped, applied[0].Status)
	assert.Equal(t, []int64{1, 2, 3, 4}, reader.committed)
}
