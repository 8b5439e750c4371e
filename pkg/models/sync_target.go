package models

import "time"

// SyncTarget periodically copies a replicated table to an external database or
// HTTP endpoint. ConnectionURL is either a postgres:// URL or an https:// URL
// depending on the target kind.
type SyncTarget struct {
	ID                   string     `json:"id" db:"id"`
	OrganizationID       string     `json:"organization_id" db:"organization_id"`
	ServiceIntegrationID string     `json:"service_integration_id" db:"service_integration_id"`
	ConnectionURL        string     `json:"-" db:"connection_url"`
	PeriodSeconds        int        `json:"period_seconds" db:"period_seconds"`
	PageSize             int        `json:"page_size" db:"page_size"`
	Schema               string     `json:"schema" db:"schema"`
	Table                string     `json:"table" db:"table_name"`
	LastSyncedAt         *time.Time `json:"last_synced_at,omitempty" db:"last_synced_at"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt            *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// DisplayConnectionURL returns the connection URL with credentials masked.
func (t *SyncTarget) DisplayConnectionURL() string {
	return MaskConnectionURL(t.ConnectionURL)
}

// NextSyncAt returns when this target is next due. A target that has never
// synced is due immediately.
func (t *SyncTarget) NextSyncAt() time.Time {
	if t.LastSyncedAt == nil {
		return time.Time{}
	}
	return t.LastSyncedAt.Add(time.Duration(t.PeriodSeconds) * time.Second)
}

// CreateSyncTargetRequest is the request for creating a sync target
type CreateSyncTargetRequest struct {
	ServiceIntegrationID string `json:"service_integration_id" validate:"required"`
	ConnectionURL        string `json:"connection_url" validate:"required"`
	PeriodSeconds        int    `json:"period_seconds" validate:"required,min=1"`
	PageSize             int    `json:"page_size,omitempty"`
	Schema               string `json:"schema,omitempty"`
	Table                string `json:"table,omitempty"`
}

// UpdateSyncTargetRequest is the request for updating a sync target
type UpdateSyncTargetRequest struct {
	ConnectionURL *string `json:"connection_url,omitempty"`
	PeriodSeconds *int    `json:"period_seconds,omitempty" validate:"omitempty,min=1"`
	PageSize      *int    `json:"page_size,omitempty"`
}

// SyncTargetListResponse is the response for listing sync targets
type SyncTargetListResponse struct {
	Items      []SyncTarget `json:"items"`
	TotalCount int          `json:"total_count"`
	Page       int          `json:"page"`
	PageSize   int          `json:"page_size"`
}
