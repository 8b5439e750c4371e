package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/sundew/pkg/models"
)

// RowEventHandler processes one row change event. Returning an error leaves
// the offset uncommitted so the event is redelivered.
type RowEventHandler func(ctx context.Context, event models.RowChangeEvent) error

// Consumer reads row change events for the subscription dispatcher
type Consumer struct {
	reader *kafka.Reader
	logger ectologger.Logger
}

// NewConsumer creates a consumer-group reader for the row events topic
func NewConsumer(cfg Config, groupID string, logger ectologger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.RowEventsTopic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0, // explicit commits only
	})

	return &Consumer{
		reader: reader,
		logger: logger,
	}
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Run fetches and handles events until the context is canceled. Events that
// fail to unmarshal are committed and dropped, since redelivery cannot fix a
// malformed payload.
func (c *Consumer) Run(ctx context.Context, handler RowEventHandler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			c.logger.WithContext(ctx).WithError(err).Error("Failed to fetch row change event")
			return err
		}

		var event models.RowChangeEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.logger.WithContext(ctx).WithError(err).Warnf("Dropping malformed row change event at offset %d", msg.Offset)
			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				return err
			}
			continue
		}

		if err := handler(ctx, event); err != nil {
			c.logger.WithContext(ctx).WithError(err).Errorf("Row change handler failed for integration %s", event.ServiceIntegrationID)
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.WithContext(ctx).WithError(err).Error("Failed to commit row change event")
			return err
		}
	}
}
