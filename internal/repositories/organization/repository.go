package organization

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/sundew/pkg/database"
	"github.com/Ramsey-B/sundew/pkg/models"
	"github.com/Ramsey-B/sundew/pkg/tracing"
)

const columns = "id, name, key, admin_connection_url, readonly_connection_url, created_at, updated_at, deleted_at"

// Repository handles organization persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new organization repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new organization. The key must be unique.
func (r *Repository) Create(ctx context.Context, req models.CreateOrganizationRequest) (*models.Organization, error) {
	ctx, span := tracing.StartSpan(ctx, "organization.Repository.Create")
	defer span.End()

	now := time.Now().UTC()
	org := models.Organization{
		ID:                    uuid.New().String(),
		Name:                  req.Name,
		Key:                   req.Key,
		AdminConnectionURL:    req.AdminConnectionURL,
		ReadonlyConnectionURL: req.ReadonlyConnectionURL,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("organizations")
	ib.Cols("id", "name", "key", "admin_connection_url", "readonly_connection_url", "created_at", "updated_at")
	ib.Values(org.ID, org.Name, org.Key, org.AdminConnectionURL, org.ReadonlyConnectionURL, org.CreatedAt, org.UpdatedAt)

	query, args := ib.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"key": req.Key}).Error("Failed to create organization")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create organization")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": org.ID, "key": org.Key}).Info("Created organization")
	return &org, nil
}

// Get retrieves an organization by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.Organization, error) {
	ctx, span := tracing.StartSpan(ctx, "organization.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("organizations")
	sb.Where(
		sb.Equal("id", id),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var org models.Organization
	if err := r.db.GetContext(ctx, &org, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "organization %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to get organization")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get organization")
	}
	return &org, nil
}

// GetByKey retrieves an organization by its unique key
func (r *Repository) GetByKey(ctx context.Context, key string) (*models.Organization, error) {
	ctx, span := tracing.StartSpan(ctx, "organization.Repository.GetByKey")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("organizations")
	sb.Where(
		sb.Equal("key", key),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var org models.Organization
	if err := r.db.GetContext(ctx, &org, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "organization %s not found", key)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"key": key}).Error("Failed to get organization by key")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get organization")
	}
	return &org, nil
}

// List retrieves organizations with pagination
func (r *Repository) List(ctx context.Context, page, pageSize int) (*models.OrganizationListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "organization.Repository.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From("organizations")
	countSb.Where(countSb.IsNull("deleted_at"))

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count organizations")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count organizations")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("organizations")
	sb.Where(sb.IsNull("deleted_at"))
	sb.OrderBy("created_at DESC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var orgs []models.Organization
	if err := r.db.SelectContext(ctx, &orgs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list organizations")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list organizations")
	}

	return &models.OrganizationListResponse{
		Items:      orgs,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// SoftDelete marks an organization as deleted
func (r *Repository) SoftDelete(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "organization.Repository.SoftDelete")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("organizations")
	sb.Set(sb.Assign("deleted_at", time.Now().UTC()))
	sb.Where(
		sb.Equal("id", id),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to soft delete organization")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete organization")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "organization %s not found", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id}).Info("Soft deleted organization")
	return nil
}
