package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-orders/internal/config"
	"ms-orders/internal/logger"
	"ms-orders/internal/models"
)

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	Writer MessageWriter
	Topics config.TopicConfig
	Logger *logger.Logger
}

func NewProducer(brokers []string, topics config.TopicConfig, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &Producer{Writer: writer, Topics: topics, Logger: log}
}

func (p *Producer) publish(ctx context.Context, topic, key string, value interface{}) error {
	msgBytes, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}

	p.Logger.LogKafka("PUBLISH", topic, fmt.Sprintf("key=%s %s", key, msgBytes))

	return p.Writer.WriteMessages(ctx,
		kafka.Message{
			Topic: topic,
			Key:   []byte(key),
			Value: msgBytes,
		},
	)
}

// PublishOrderEvent streams an order lifecycle event, keyed by order so a
// consumer sees one order's events in order.
func (p *Producer) PublishOrderEvent(ctx context.Context, event models.OrderEvent) error {
	return p.publish(ctx, p.Topics.OrderEvents, event.OrderID, event)
}

// PublishPaymentEvent streams a recorded payment attempt.
func (p *Producer) PublishPaymentEvent(ctx context.Context, event models.PaymentEvent) error {
	key := event.OrderID
	if key == "" {
		key = event.PaymentIntentID
	}
	return p.publish(ctx, p.Topics.PaymentEvents, key, event)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
