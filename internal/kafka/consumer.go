package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"ms-orders/internal/logger"
	"ms-orders/internal/models"
)

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// FulfillmentHandler applies one status report. Returning an error only logs
// it; the message is committed either way so a bad report cannot wedge the
// partition.
type FulfillmentHandler func(ctx context.Context, update models.FulfillmentUpdate) error

type Consumer struct {
	reader MessageReader
	topic  string
	logger *logger.Logger
}

// NewConsumer creates a new Kafka consumer for the given topic and group
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, topic: topic, logger: log}
}

// NewConsumerWithReader wraps an existing reader, for tests.
func NewConsumerWithReader(reader MessageReader, topic string, log *logger.Logger) *Consumer {
	return &Consumer{reader: reader, topic: topic, logger: log}
}

// Start consumes fulfillment updates until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context, handler FulfillmentHandler) error {
	c.logger.LogKafka("CONSUMER_STARTED", c.topic, "waiting for fulfillment updates")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.LogKafka("READ_ERROR", c.topic, err.Error())
			return fmt.Errorf("fetch message: %w", err)
		}

		var update models.FulfillmentUpdate
		if err := json.Unmarshal(msg.Value, &update); err != nil {
			c.logger.LogKafka("DECODE_ERROR", c.topic, fmt.Sprintf("offset=%d: %v", msg.Offset, err))
		} else if update.OrderID == "" || update.Status == "" {
			c.logger.LogKafka("INVALID", c.topic, fmt.Sprintf("offset=%d: order_id and status are required", msg.Offset))
		} else if err := handler(ctx, update); err != nil {
			c.logger.LogKafka("HANDLER_ERROR", c.topic, fmt.Sprintf("order=%s status=%s: %v", update.OrderID, update.Status, err))
		} else {
			c.logger.LogKafka("APPLIED", c.topic, fmt.Sprintf("order=%s status=%s", update.OrderID, update.Status))
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
