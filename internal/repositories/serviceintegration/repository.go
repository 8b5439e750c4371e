package serviceintegration

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/sundew/pkg/database"
	"github.com/Ramsey-B/sundew/pkg/models"
	"github.com/Ramsey-B/sundew/pkg/tracing"
)

const columns = "id, organization_id, opaque_id, service_name, table_name, api_url, webhook_secret, backfill_key, backfill_secret, depends_on_id, webhook_verified, last_backfilled_at, created_at, updated_at, deleted_at"

// Fields settable through the onboarding state machine. Anything else is
// rejected before touching SQL.
var settableFields = map[string]struct{}{
	"api_url":         {},
	"webhook_secret":  {},
	"backfill_key":    {},
	"backfill_secret": {},
}

// Repository handles service integration persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new service integration repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new integration for an organization. The opaque ID is what
// appears in webhook URLs; the table name is derived from the service name
// plus a random suffix so it stays unique per organization.
func (r *Repository) Create(ctx context.Context, organizationID string, req models.CreateServiceIntegrationRequest) (*models.ServiceIntegration, error) {
	ctx, span := tracing.StartSpan(ctx, "serviceintegration.Repository.Create")
	defer span.End()

	now := time.Now().UTC()
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	si := models.ServiceIntegration{
		ID:             uuid.New().String(),
		OrganizationID: organizationID,
		OpaqueID:       "svi_" + suffix,
		ServiceName:    req.ServiceName,
		TableName:      fmt.Sprintf("%s_%s", req.ServiceName, suffix),
		DependsOnID:    req.DependsOnID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("service_integrations")
	ib.Cols("id", "organization_id", "opaque_id", "service_name", "table_name", "api_url", "webhook_secret", "backfill_key", "backfill_secret", "depends_on_id", "webhook_verified", "created_at", "updated_at")
	ib.Values(si.ID, si.OrganizationID, si.OpaqueID, si.ServiceName, si.TableName, "", "", "", "", si.DependsOnID, false, si.CreatedAt, si.UpdatedAt)

	query, args := ib.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"organization_id": organizationID, "service_name": req.ServiceName}).Error("Failed to create service integration")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create service integration")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": si.ID, "service_name": si.ServiceName, "table_name": si.TableName}).Info("Created service integration")
	return &si, nil
}

// Get retrieves an integration by ID, scoped to an organization
func (r *Repository) Get(ctx context.Context, organizationID, id string) (*models.ServiceIntegration, error) {
	ctx, span := tracing.StartSpan(ctx, "serviceintegration.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("service_integrations")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("organization_id", organizationID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var si models.ServiceIntegration
	if err := r.db.GetContext(ctx, &si, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "service integration %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "organization_id": organizationID}).Error("Failed to get service integration")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get service integration")
	}
	return &si, nil
}

// GetByOpaqueID retrieves an integration by its public opaque ID. Webhook
// ingestion resolves integrations this way, without an organization scope,
// since the caller is the external service.
func (r *Repository) GetByOpaqueID(ctx context.Context, opaqueID string) (*models.ServiceIntegration, error) {
	ctx, span := tracing.StartSpan(ctx, "serviceintegration.Repository.GetByOpaqueID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("service_integrations")
	sb.Where(
		sb.Equal("opaque_id", opaqueID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var si models.ServiceIntegration
	if err := r.db.GetContext(ctx, &si, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "service integration %s not found", opaqueID)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"opaque_id": opaqueID}).Error("Failed to get service integration by opaque id")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get service integration")
	}
	return &si, nil
}

// List retrieves an organization's integrations with pagination
func (r *Repository) List(ctx context.Context, organizationID string, page, pageSize int) (*models.ServiceIntegrationListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "serviceintegration.Repository.List")
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
	countSb.From("service_integrations")
	countSb.Where(
		countSb.Equal("organization_id", organizationID),
		countSb.IsNull("deleted_at"),
	)

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"organization_id": organizationID}).Error("Failed to count service integrations")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count service integrations")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("service_integrations")
	sb.Where(
		sb.Equal("organization_id", organizationID),
		sb.IsNull("deleted_at"),
	)
	sb.OrderBy("created_at DESC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var items []models.ServiceIntegration
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"organization_id": organizationID}).Error("Failed to list service integrations")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list service integrations")
	}

	return &models.ServiceIntegrationListResponse{
		Items:      items,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// SetField transactionally writes one onboarding field. Implements the
// engine's IntegrationFieldWriter contract.
func (r *Repository) SetField(ctx context.Context, serviceIntegrationID, field, value string) error {
	ctx, span := tracing.StartSpan(ctx, "serviceintegration.Repository.SetField")
	defer span.End()

	if _, ok := settableFields[field]; !ok {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "field %s cannot be set", field)
	}

	txCtx, tx, err := database.GetTx(ctx, r.logger, r.db, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to set field")
	}
	// rollback with the caller's ctx so an inherited transaction stays open
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// field is validated against the allowlist above, never interpolated raw
	query := fmt.Sprintf("UPDATE service_integrations SET %s = $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL", field)
	result, err := tx.ExecContext(txCtx, query, value, time.Now().UTC(), serviceIntegrationID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": serviceIntegrationID, "field": field}).Error("Failed to set service integration field")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to set field")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "service integration %s not found", serviceIntegrationID)
	}
	return tx.Commit(ctx)
}

// ListDependents returns the integrations that declared a dependency on the
// given integration. Implements the engine's DependentLister contract.
func (r *Repository) ListDependents(ctx context.Context, serviceIntegrationID string) ([]models.ServiceIntegration, error) {
	ctx, span := tracing.StartSpan(ctx, "serviceintegration.Repository.ListDependents")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("service_integrations")
	sb.Where(
		sb.Equal("depends_on_id", serviceIntegrationID),
		sb.IsNull("deleted_at"),
	)
	sb.OrderBy("created_at")

	query, args := sb.Build()
	var items []models.ServiceIntegration
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": serviceIntegrationID}).Error("Failed to list dependents")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list dependents")
	}
	return items, nil
}

// MarkBackfilled stamps the last successful backfill time
func (r *Repository) MarkBackfilled(ctx context.Context, serviceIntegrationID string) error {
	ctx, span := tracing.StartSpan(ctx, "serviceintegration.Repository.MarkBackfilled")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	now := time.Now().UTC()
	sb.Update("service_integrations")
	sb.Set(sb.Assign("last_backfilled_at", now), sb.Assign("updated_at", now))
	sb.Where(
		sb.Equal("id", serviceIntegrationID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": serviceIntegrationID}).Error("Failed to mark integration backfilled")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark backfilled")
	}
	return nil
}

// SoftDelete marks an integration as deleted
func (r *Repository) SoftDelete(ctx context.Context, organizationID, id string) error {
	ctx, span := tracing.StartSpan(ctx, "serviceintegration.Repository.SoftDelete")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("service_integrations")
	sb.Set(sb.Assign("deleted_at", time.Now().UTC()))
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("organization_id", organizationID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "organization_id": organizationID}).Error("Failed to soft delete service integration")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete service integration")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "service integration %s not found", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id}).Info("Soft deleted service integration")
	return nil
}
