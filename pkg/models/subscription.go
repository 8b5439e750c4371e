package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/lib/pq"
)

// TimeArray maps a Postgres timestamptz[] column. lib/pq ships typed arrays
// for int64 and string but not time.Time, so this wraps its GenericArray.
type TimeArray []time.Time

func (a *TimeArray) Scan(src any) error {
	return pq.GenericArray{A: (*[]time.Time)(a)}.Scan(src)
}

func (a TimeArray) Value() (driver.Value, error) {
	return pq.GenericArray{A: []time.Time(a)}.Value()
}

// Delivery attempt HTTP status recorded when the request never reached the
// remote server (DNS failure, timeout, connection refused).
const DeliveryStatusNetworkError = 0

// WebhookSubscription fans replicated row changes out to a customer URL. A
// subscription scoped to a service integration only sees that integration's
// rows; an organization-wide subscription sees every integration.
type WebhookSubscription struct {
	ID                   string     `json:"id" db:"id"`
	OrganizationID       string     `json:"organization_id" db:"organization_id"`
	OpaqueID             string     `json:"opaque_id" db:"opaque_id"`
	ServiceIntegrationID *string    `json:"service_integration_id,omitempty" db:"service_integration_id"`
	DeliverToURL         string     `json:"deliver_to_url" db:"deliver_to_url"`
	WebhookSecret        string     `json:"-" db:"webhook_secret"`
	DeactivatedAt        *time.Time `json:"deactivated_at,omitempty" db:"deactivated_at"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`
}

// IsActive reports whether deliveries should still be attempted.
func (s *WebhookSubscription) IsActive() bool {
	return s.DeactivatedAt == nil
}

// WebhookSubscriptionDelivery is one payload owed to one subscription. Each
// attempt appends to both arrays at the same index, so the arrays always have
// equal length (enforced by a table check constraint).
type WebhookSubscriptionDelivery struct {
	ID                          string          `json:"id" db:"id"`
	WebhookSubscriptionID       string          `json:"webhook_subscription_id" db:"webhook_subscription_id"`
	Payload                     json.RawMessage `json:"payload" db:"payload"`
	AttemptTimestamps           TimeArray       `json:"attempt_timestamps" db:"attempt_timestamps"`
	AttemptHTTPResponseStatuses pq.Int64Array   `json:"attempt_http_response_statuses" db:"attempt_http_response_statuses"`
	CreatedAt                   time.Time       `json:"created_at" db:"created_at"`
}

// AttemptCount returns how many delivery attempts have been made.
func (d *WebhookSubscriptionDelivery) AttemptCount() int {
	return len(d.AttemptHTTPResponseStatuses)
}

// LatestAttemptStatus derives the delivery state from the attempt arrays:
// "pending" before any attempt, "success" when the newest attempt got a 2xx,
// otherwise "error".
func (d *WebhookSubscriptionDelivery) LatestAttemptStatus() string {
	n := len(d.AttemptHTTPResponseStatuses)
	if n == 0 {
		return "pending"
	}
	latest := d.AttemptHTTPResponseStatuses[n-1]
	if latest >= 200 && latest < 300 {
		return "success"
	}
	return "error"
}

// CreateWebhookSubscriptionRequest is the request for creating a subscription
type CreateWebhookSubscriptionRequest struct {
	ServiceIntegrationID *string `json:"service_integration_id,omitempty"`
	DeliverToURL         string  `json:"deliver_to_url" validate:"required,url"`
	WebhookSecret        string  `json:"webhook_secret" validate:"required,min=8"`
}

// WebhookSubscriptionListResponse is the response for listing subscriptions
type WebhookSubscriptionListResponse struct {
	Items      []WebhookSubscription `json:"items"`
	TotalCount int                   `json:"total_count"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
}
