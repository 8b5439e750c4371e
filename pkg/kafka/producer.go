package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Ramsey-B/sundew/pkg/models"
	"github.com/Ramsey-B/sundew/pkg/tracing"
)

// Config holds Kafka configuration
type Config struct {
	Brokers        []string
	RowEventsTopic string
}

// ParseConfig parses a comma-separated broker string
func ParseConfig(brokers string, rowEventsTopic string) Config {
	brokerList := strings.Split(brokers, ",")
	for i := range brokerList {
		brokerList[i] = strings.TrimSpace(brokerList[i])
	}

	return Config{
		Brokers:        brokerList,
		RowEventsTopic: rowEventsTopic,
	}
}

// Producer publishes row change events to Kafka. Every committed webhook or
// backfill upsert that changed a row produces exactly one event here, which
// the subscription dispatcher consumes downstream.
type Producer struct {
	writer *kafka.Writer
	logger ectologger.Logger
	topic  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg Config, logger ectologger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.RowEventsTopic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		// Allow Kafka to auto-create the topic in dev environments when it doesn't exist yet.
		// Without this, a first publish may fail with "Unknown Topic Or Partition".
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.RowEventsTopic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// PublishRowChange publishes a row change event to Kafka
func (p *Producer) PublishRowChange(ctx context.Context, event models.RowChangeEvent) error {
	ctx, span := tracing.StartSpan(ctx, "Kafka.PublishRowChange")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", p.topic),
		attribute.String("messaging.operation", "publish"),
		attribute.String("organization_id", event.OrganizationID),
		attribute.String("service_integration_id", event.ServiceIntegrationID),
		attribute.String("service_name", event.ServiceName),
	)

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal event")
		return fmt.Errorf("failed to marshal row change event: %w", err)
	}

	// Key by organization + integration so rows for one table stay ordered
	// within a partition.
	key := fmt.Sprintf("%s:%s", event.OrganizationID, event.ServiceIntegrationID)

	headers := []kafka.Header{
		{Key: "organization_id", Value: []byte(event.OrganizationID)},
		{Key: "service_integration_id", Value: []byte(event.ServiceIntegrationID)},
		{Key: "service_name", Value: []byte(event.ServiceName)},
	}

	// Add W3C trace context headers for distributed tracing
	if traceparent := tracing.GetTraceParent(ctx); traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}
	if tracestate := tracing.GetTraceState(ctx); tracestate != "" {
		headers = append(headers, kafka.Header{Key: "tracestate", Value: []byte(tracestate)})
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   data,
		Headers: headers,
	})

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish message")
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish to Kafka topic %s", p.topic)
		return err
	}

	span.SetStatus(codes.Ok, "message published")
	p.logger.WithContext(ctx).Debugf("Published row change to Kafka: integration=%s table=%s inserted=%t",
		event.ServiceIntegrationID, event.TableName, event.Inserted)

	return nil
}

// Stats returns producer statistics
func (p *Producer) Stats() kafka.WriterStats {
	return p.writer.Stats()
}
