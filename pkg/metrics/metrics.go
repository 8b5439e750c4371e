// Package metrics provides Prometheus metrics for the Sundew service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhooksReceivedTotal tracks inbound webhook requests by outcome
	WebhooksReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sundew",
			Subsystem: "webhook",
			Name:      "received_total",
			Help:      "Total number of inbound webhook requests by service and outcome",
		},
		[]string{"service_name", "outcome"},
	)

	// RowUpsertsTotal tracks row upserts by result
	RowUpsertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sundew",
			Subsystem: "replicator",
			Name:      "row_upserts_total",
			Help:      "Total number of row upserts by service and result",
		},
		[]string{"service_name", "result"},
	)

	// BackfillPagesTotal tracks backfill pages fetched
	BackfillPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sundew",
			Subsystem: "backfill",
			Name:      "pages_total",
			Help:      "Total number of backfill pages fetched by service and status",
		},
		[]string{"service_name", "status"},
	)

	// BackfillDuration tracks full backfill run duration in seconds
	BackfillDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sundew",
			Subsystem: "backfill",
			Name:      "duration_seconds",
			Help:      "Duration of full backfill runs in seconds",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service_name"},
	)

	// SyncRunsTotal tracks sync target runs by status
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sundew",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total number of sync target runs by status",
		},
		[]string{"status"},
	)

	// SyncRunDuration tracks sync run duration in seconds
	SyncRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sundew",
			Subsystem: "sync",
			Name:      "run_duration_seconds",
			Help:      "Duration of sync target runs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
	)

	// SyncTargetsScheduled tracks targets enqueued by the scheduler
	SyncTargetsScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sundew",
			Subsystem: "sync",
			Name:      "targets_scheduled_total",
			Help:      "Total number of sync targets enqueued by the scheduler",
		},
	)

	// DeliveryAttemptsTotal tracks subscription delivery attempts by outcome
	DeliveryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sundew",
			Subsystem: "subscription",
			Name:      "delivery_attempts_total",
			Help:      "Total number of webhook subscription delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	// DeliveryDuration tracks outbound delivery duration in seconds
	DeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sundew",
			Subsystem: "subscription",
			Name:      "delivery_duration_seconds",
			Help:      "Duration of outbound webhook deliveries in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sundew",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// IdempotentRunsTotal tracks idempotent job executions by decision
	IdempotentRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sundew",
			Subsystem: "idempotency",
			Name:      "runs_total",
			Help:      "Total number of idempotent job executions by decision",
		},
		[]string{"decision"},
	)
)

// RecordWebhook records an inbound webhook request
func RecordWebhook(serviceName, outcome string) {
	WebhooksReceivedTotal.WithLabelValues(serviceName, outcome).Inc()
}

// RecordRowUpsert records a row upsert result
func RecordRowUpsert(serviceName, result string) {
	RowUpsertsTotal.WithLabelValues(serviceName, result).Inc()
}

// RecordBackfillPage records a fetched backfill page
func RecordBackfillPage(serviceName, status string) {
	BackfillPagesTotal.WithLabelValues(serviceName, status).Inc()
}

// RecordSyncRun records a sync target run
func RecordSyncRun(status string, durationSeconds float64) {
	SyncRunsTotal.WithLabelValues(status).Inc()
	SyncRunDuration.Observe(durationSeconds)
}

// RecordDeliveryAttempt records a subscription delivery attempt
func RecordDeliveryAttempt(outcome string, durationSeconds float64) {
	DeliveryAttemptsTotal.WithLabelValues(outcome).Inc()
	DeliveryDuration.Observe(durationSeconds)
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
}

// RecordIdempotentRun records an idempotent job execution decision
func RecordIdempotentRun(decision string) {
	IdempotentRunsTotal.WithLabelValues(decision).Inc()
}
