package models

import (
	"net/url"
	"time"
)

// Organization owns a mirror database that replicated rows land in. The admin
// URL carries DDL rights for table creation; the readonly URL is what gets
// handed to customers for direct queries.
type Organization struct {
	ID                    string     `json:"id" db:"id"`
	Name                  string     `json:"name" db:"name"`
	Key                   string     `json:"key" db:"key"`
	AdminConnectionURL    string     `json:"-" db:"admin_connection_url"`
	ReadonlyConnectionURL string     `json:"-" db:"readonly_connection_url"`
	CreatedAt             time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt             *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// CreateOrganizationRequest is the request for creating an organization
type CreateOrganizationRequest struct {
	Name                  string `json:"name" validate:"required"`
	Key                   string `json:"key" validate:"required,alphanum"`
	AdminConnectionURL    string `json:"admin_connection_url" validate:"required,url"`
	ReadonlyConnectionURL string `json:"readonly_connection_url" validate:"required,url"`
}

// OrganizationListResponse is the response for listing organizations
type OrganizationListResponse struct {
	Items      []Organization `json:"items"`
	TotalCount int            `json:"total_count"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
}

// MaskConnectionURL hides the password portion of a connection URL so it can
// appear in API responses and logs.
func MaskConnectionURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	return u.String()
}
