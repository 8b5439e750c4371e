package models

import "time"

// RowChangeEvent is published to Kafka whenever a replicated row is inserted
// or updated. Subscription dispatch consumes these to build delivery payloads.
type RowChangeEvent struct {
	OrganizationID       string         `json:"organization_id"`
	ServiceIntegrationID string         `json:"service_integration_id"`
	ServiceName          string         `json:"service_name"`
	TableName            string         `json:"table_name"`
	Inserted             bool           `json:"inserted"`
	Row                  map[string]any `json:"row"`
	Timestamp            time.Time      `json:"timestamp"`
}

// SubscriptionPayload is the body POSTed to a subscription's deliver-to URL.
// Field names are part of the public contract.
type SubscriptionPayload struct {
	ServiceName string         `json:"service_name"`
	TableName   string         `json:"table_name"`
	Row         map[string]any `json:"row"`
	External    bool           `json:"external"`
}
