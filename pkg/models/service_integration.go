package models

import "time"

// ServiceIntegration binds one external service (e.g. "increase_account_v1")
// to one replicated table in an organization's mirror database. The opaque ID
// appears in webhook endpoint URLs so the row ID never leaks.
type ServiceIntegration struct {
	ID               string     `json:"id" db:"id"`
	OrganizationID   string     `json:"organization_id" db:"organization_id"`
	OpaqueID         string     `json:"opaque_id" db:"opaque_id"`
	ServiceName      string     `json:"service_name" db:"service_name"`
	TableName        string     `json:"table_name" db:"table_name"`
	APIURL           string     `json:"api_url" db:"api_url"`
	WebhookSecret    string     `json:"-" db:"webhook_secret"`
	BackfillKey      string     `json:"-" db:"backfill_key"`
	BackfillSecret   string     `json:"-" db:"backfill_secret"`
	DependsOnID      *string    `json:"depends_on_id,omitempty" db:"depends_on_id"`
	WebhookVerified  bool       `json:"webhook_verified" db:"webhook_verified"`
	LastBackfilledAt *time.Time `json:"last_backfilled_at,omitempty" db:"last_backfilled_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// CreateServiceIntegrationRequest is the request for creating a service integration
type CreateServiceIntegrationRequest struct {
	ServiceName string  `json:"service_name" validate:"required"`
	DependsOnID *string `json:"depends_on_id,omitempty"`
}

// UpdateServiceIntegrationRequest carries the credential fields a setup state
// machine prompt collects.
type UpdateServiceIntegrationRequest struct {
	APIURL         *string `json:"api_url,omitempty"`
	WebhookSecret  *string `json:"webhook_secret,omitempty"`
	BackfillKey    *string `json:"backfill_key,omitempty"`
	BackfillSecret *string `json:"backfill_secret,omitempty"`
}

// ServiceIntegrationListResponse is the response for listing service integrations
type ServiceIntegrationListResponse struct {
	Items      []ServiceIntegration `json:"items"`
	TotalCount int                  `json:"total_count"`
	Page       int                  `json:"page"`
	PageSize   int                  `json:"page_size"`
}
