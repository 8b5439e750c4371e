package subscription

import (
	"context"
	"encoding/json"
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

const subscriptionColumns = "id, organization_id, opaque_id, service_integration_id, deliver_to_url, webhook_secret, deactivated_at, created_at, updated_at"
const deliveryColumns = "id, webhook_subscription_id, payload, attempt_timestamps, attempt_http_response_statuses, created_at"

// Repository handles webhook subscription and delivery persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new subscription repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new subscription for an organization
func (r *Repository) Create(ctx context.Context, organizationID string, req models.CreateWebhookSubscriptionRequest) (*models.WebhookSubscription, error) {
	ctx, span := tracing.StartSpan(ctx, "subscription.Repository.Create")
	defer span.End()

	now := time.Now().UTC()
	sub := models.WebhookSubscription{
		ID:                   uuid.New().String(),
		OrganizationID:       organizationID,
		OpaqueID:             "sub_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8],
		ServiceIntegrationID: req.ServiceIntegrationID,
		DeliverToURL:         req.DeliverToURL,
		WebhookSecret:        req.WebhookSecret,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("webhook_subscriptions")
	ib.Cols("id", "organization_id", "opaque_id", "service_integration_id", "deliver_to_url", "webhook_secret", "created_at", "updated_at")
	ib.Values(sub.ID, sub.OrganizationID, sub.OpaqueID, sub.ServiceIntegrationID, sub.DeliverToURL, sub.WebhookSecret, sub.CreatedAt, sub.UpdatedAt)

	query, args := ib.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"organization_id": organizationID}).Error("Failed to create webhook subscription")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create webhook subscription")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": sub.ID}).Info("Created webhook subscription")
	return &sub, nil
}

// Get retrieves a subscription by ID, scoped to an organization
func (r *Repository) Get(ctx context.Context, organizationID, id string) (*models.WebhookSubscription, error) {
	ctx, span := tracing.StartSpan(ctx, "subscription.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(subscriptionColumns)
	sb.From("webhook_subscriptions")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("organization_id", organizationID),
	)

	query, args := sb.Build()
	var sub models.WebhookSubscription
	if err := r.db.GetContext(ctx, &sub, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "webhook subscription %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to get webhook subscription")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get webhook subscription")
	}
	return &sub, nil
}

// ListActiveForIntegration returns the active subscriptions owed a delivery
// for a row change on the given integration: those scoped to the integration
// plus the organization-wide ones.
func (r *Repository) ListActiveForIntegration(ctx context.Context, organizationID, serviceIntegrationID string) ([]models.WebhookSubscription, error) {
	ctx, span := tracing.StartSpan(ctx, "subscription.Repository.ListActiveForIntegration")
	defer span.End()

	query := `
		SELECT ` + subscriptionColumns + `
		FROM webhook_subscriptions
		WHERE organization_id = $1
		  AND deactivated_at IS NULL
		  AND (service_integration_id = $2 OR service_integration_id IS NULL)
		ORDER BY created_at
	`

	var subs []models.WebhookSubscription
	if err := r.db.SelectContext(ctx, &subs, query, organizationID, serviceIntegrationID); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"organization_id": organizationID, "service_integration_id": serviceIntegrationID}).Error("Failed to list active subscriptions")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list subscriptions")
	}
	return subs, nil
}

// List retrieves an organization's subscriptions with pagination
func (r *Repository) List(ctx context.Context, organizationID string, page, pageSize int) (*models.WebhookSubscriptionListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "subscription.Repository.List")
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
	countSb.From("webhook_subscriptions")
	countSb.Where(countSb.Equal("organization_id", organizationID))

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"organization_id": organizationID}).Error("Failed to count subscriptions")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count subscriptions")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(subscriptionColumns)
	sb.From("webhook_subscriptions")
	sb.Where(sb.Equal("organization_id", organizationID))
	sb.OrderBy("created_at DESC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var subs []models.WebhookSubscription
	if err := r.db.SelectContext(ctx, &subs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"organization_id": organizationID}).Error("Failed to list subscriptions")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list subscriptions")
	}

	return &models.WebhookSubscriptionListResponse{
		Items:      subs,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// Deactivate stops deliveries for a subscription
func (r *Repository) Deactivate(ctx context.Context, organizationID, id string) error {
	ctx, span := tracing.StartSpan(ctx, "subscription.Repository.Deactivate")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("webhook_subscriptions")
	sb.Set(sb.Assign("deactivated_at", now), sb.Assign("updated_at", now))
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("organization_id", organizationID),
		sb.IsNull("deactivated_at"),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to deactivate subscription")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to deactivate subscription")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "webhook subscription %s not found", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id}).Info("Deactivated webhook subscription")
	return nil
}

// CreateDelivery records one payload owed to one subscription, with empty
// attempt arrays.
func (r *Repository) CreateDelivery(ctx context.Context, subscriptionID string, payload models.SubscriptionPayload) (*models.WebhookSubscriptionDelivery, error) {
	ctx, span := tracing.StartSpan(ctx, "subscription.Repository.CreateDelivery")
	defer span.End()

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to marshal delivery payload")
	}

	delivery := models.WebhookSubscriptionDelivery{
		ID:                    uuid.New().String(),
		WebhookSubscriptionID: subscriptionID,
		Payload:               raw,
		CreatedAt:             time.Now().UTC(),
	}

	query := `
		INSERT INTO webhook_subscription_deliveries (id, webhook_subscription_id, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.db.ExecContext(ctx, query, delivery.ID, delivery.WebhookSubscriptionID, string(raw), delivery.CreatedAt); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"subscription_id": subscriptionID}).Error("Failed to create delivery")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create delivery")
	}
	return &delivery, nil
}

// GetDelivery retrieves one delivery with its attempt history
func (r *Repository) GetDelivery(ctx context.Context, id string) (*models.WebhookSubscriptionDelivery, error) {
	ctx, span := tracing.StartSpan(ctx, "subscription.Repository.GetDelivery")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(deliveryColumns)
	sb.From("webhook_subscription_deliveries")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var delivery models.WebhookSubscriptionDelivery
	if err := r.db.GetContext(ctx, &delivery, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "delivery %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to get delivery")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get delivery")
	}
	return &delivery, nil
}

// RecordAttempt appends one attempt to both parallel arrays in a single
// statement, so the equal-length invariant holds even under concurrent
// attempts.
func (r *Repository) RecordAttempt(ctx context.Context, deliveryID string, attemptedAt time.Time, status int) error {
	ctx, span := tracing.StartSpan(ctx, "subscription.Repository.RecordAttempt")
	defer span.End()

	query := `
		UPDATE webhook_subscription_deliveries
		SET attempt_timestamps = array_append(attempt_timestamps, $2),
		    attempt_http_response_statuses = array_append(attempt_http_response_statuses, $3)
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, deliveryID, attemptedAt, status)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"delivery_id": deliveryID, "status": status}).Error("Failed to record delivery attempt")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to record delivery attempt")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "delivery %s not found", deliveryID)
	}
	return nil
}

// ListDeliveries retrieves a subscription's deliveries, newest first
func (r *Repository) ListDeliveries(ctx context.Context, subscriptionID string, limit int) ([]models.WebhookSubscriptionDelivery, error) {
	ctx, span := tracing.StartSpan(ctx, "subscription.Repository.ListDeliveries")
	defer span.End()

	if limit < 1 || limit > 100 {
		limit = 20
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(deliveryColumns)
	sb.From("webhook_subscription_deliveries")
	sb.Where(sb.Equal("webhook_subscription_id", subscriptionID))
	sb.OrderBy("created_at DESC")
	sb.Limit(limit)

	query, args := sb.Build()
	var deliveries []models.WebhookSubscriptionDelivery
	if err := r.db.SelectContext(ctx, &deliveries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"subscription_id": subscriptionID}).Error("Failed to list deliveries")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list deliveries")
	}
	return deliveries, nil
}
