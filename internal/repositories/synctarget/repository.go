package synctarget

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

const columns = "id, organization_id, service_integration_id, connection_url, period_seconds, page_size, schema, table_name, last_synced_at, created_at, updated_at, deleted_at"

// Repository handles sync target persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new sync target repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new sync target. Connection URL and period validation
// happen in the synctarget service before this is called.
func (r *Repository) Create(ctx context.Context, organizationID string, req models.CreateSyncTargetRequest) (*models.SyncTarget, error) {
	ctx, span := tracing.StartSpan(ctx, "synctarget.Repository.Create")
	defer span.End()

	now := time.Now().UTC()
	target := models.SyncTarget{
		ID:                   uuid.New().String(),
		OrganizationID:       organizationID,
		ServiceIntegrationID: req.ServiceIntegrationID,
		ConnectionURL:        req.ConnectionURL,
		PeriodSeconds:        req.PeriodSeconds,
		PageSize:             req.PageSize,
		Schema:               req.Schema,
		Table:                req.Table,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("sync_targets")
	ib.Cols("id", "organization_id", "service_integration_id", "connection_url", "period_seconds", "page_size", "schema", "table_name", "created_at", "updated_at")
	ib.Values(target.ID, target.OrganizationID, target.ServiceIntegrationID, target.ConnectionURL, target.PeriodSeconds, target.PageSize, target.Schema, target.Table, target.CreatedAt, target.UpdatedAt)

	query, args := ib.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"organization_id": organizationID, "service_integration_id": req.ServiceIntegrationID}).Error("Failed to create sync target")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create sync target")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": target.ID}).Info("Created sync target")
	return &target, nil
}

// Get retrieves a sync target by ID. Returns nil without error when the
// target no longer exists, since a vanished target is a scheduler no-op.
func (r *Repository) Get(ctx context.Context, id string) (*models.SyncTarget, error) {
	ctx, span := tracing.StartSpan(ctx, "synctarget.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("sync_targets")
	sb.Where(
		sb.Equal("id", id),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var target models.SyncTarget
	if err := r.db.GetContext(ctx, &target, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to get sync target")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get sync target")
	}
	return &target, nil
}

// List retrieves an organization's sync targets with pagination
func (r *Repository) List(ctx context.Context, organizationID string, page, pageSize int) (*models.SyncTargetListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "synctarget.Repository.List")
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
	countSb.From("sync_targets")
	countSb.Where(
		countSb.Equal("organization_id", organizationID),
		countSb.IsNull("deleted_at"),
	)

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"organization_id": organizationID}).Error("Failed to count sync targets")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count sync targets")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("sync_targets")
	sb.Where(
		sb.Equal("organization_id", organizationID),
		sb.IsNull("deleted_at"),
	)
	sb.OrderBy("created_at DESC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var items []models.SyncTarget
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"organization_id": organizationID}).Error("Failed to list sync targets")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list sync targets")
	}

	return &models.SyncTargetListResponse{
		Items:      items,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// ListDue returns every target whose period has elapsed since its last sync.
// A target that has never synced is always due.
func (r *Repository) ListDue(ctx context.Context, now time.Time) ([]models.SyncTarget, error) {
	ctx, span := tracing.StartSpan(ctx, "synctarget.Repository.ListDue")
	defer span.End()

	query := `
		SELECT ` + columns + `
		FROM sync_targets
		WHERE deleted_at IS NULL
		  AND (last_synced_at IS NULL OR last_synced_at + make_interval(secs => period_seconds) <= $1)
		ORDER BY last_synced_at NULLS FIRST
	`

	var items []models.SyncTarget
	if err := r.db.SelectContext(ctx, &items, query, now); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list due sync targets")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list due sync targets")
	}
	return items, nil
}

// MarkSynced stamps last_synced_at after a completed sync run
func (r *Repository) MarkSynced(ctx context.Context, id string, syncedAt time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "synctarget.Repository.MarkSynced")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("sync_targets")
	sb.Set(sb.Assign("last_synced_at", syncedAt), sb.Assign("updated_at", time.Now().UTC()))
	sb.Where(
		sb.Equal("id", id),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to mark sync target synced")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark sync target synced")
	}
	return nil
}

// Update applies the mutable fields of a sync target
func (r *Repository) Update(ctx context.Context, organizationID, id string, req models.UpdateSyncTargetRequest) (*models.SyncTarget, error) {
	ctx, span := tracing.StartSpan(ctx, "synctarget.Repository.Update")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("sync_targets")
	assignments := []string{sb.Assign("updated_at", time.Now().UTC())}
	if req.ConnectionURL != nil {
		assignments = append(assignments, sb.Assign("connection_url", *req.ConnectionURL))
	}
	if req.PeriodSeconds != nil {
		assignments = append(assignments, sb.Assign("period_seconds", *req.PeriodSeconds))
	}
	if req.PageSize != nil {
		assignments = append(assignments, sb.Assign("page_size", *req.PageSize))
	}
	sb.Set(assignments...)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("organization_id", organizationID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to update sync target")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update sync target")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "sync target %s not found", id)
	}
	return r.Get(ctx, id)
}

// SoftDelete marks a sync target as deleted
func (r *Repository) SoftDelete(ctx context.Context, organizationID, id string) error {
	ctx, span := tracing.StartSpan(ctx, "synctarget.Repository.SoftDelete")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("sync_targets")
	sb.Set(sb.Assign("deleted_at", time.Now().UTC()))
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("organization_id", organizationID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to soft delete sync target")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete sync target")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "sync target %s not found", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id}).Info("Soft deleted sync target")
	return nil
}
