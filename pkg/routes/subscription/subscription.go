package subscription

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	repo "github.com/Ramsey-B/sundew/internal/repositories/subscription"
	appctx "github.com/Ramsey-B/sundew/pkg/context"
	"github.com/Ramsey-B/sundew/pkg/models"
	"github.com/Ramsey-B/sundew/pkg/subscription"
	"github.com/Ramsey-B/sundew/pkg/tracing"
)

var validate = validator.New()

// Register registers webhook subscription routes
func Register(g *echo.Group) {
	g.GET("", List)
	g.POST("", Create)
	g.GET("/:id", Get)
	g.DELETE("/:id", Deactivate)
	g.GET("/:id/deliveries", ListDeliveries)
	g.POST("/:id/deliveries/:deliveryID/retry", RetryDelivery)
}

// DeliveryResponse is a delivery with its derived status
type DeliveryResponse struct {
	models.WebhookSubscriptionDelivery
	Status       string `json:"status"`
	AttemptCount int    `json:"attempt_count"`
}

// List returns the organization's subscriptions
func List(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "subscription_handler.List")
	defer span.End()

	organizationID := appctx.GetOrganizationID(ctx)
	if organizationID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "organization id is required")
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))

	ctx, r, err := ectoinject.GetContext[*repo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	result, err := r.List(ctx, organizationID, page, pageSize)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// Create creates a new subscription
func Create(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "subscription_handler.Create")
	defer span.End()

	organizationID := appctx.GetOrganizationID(ctx)
	if organizationID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "organization id is required")
	}

	var req models.CreateWebhookSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, r, err := ectoinject.GetContext[*repo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	result, err := r.Create(ctx, organizationID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, result)
}

// Get returns a single subscription
func Get(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "subscription_handler.Get")
	defer span.End()

	organizationID := appctx.GetOrganizationID(ctx)
	if organizationID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "organization id is required")
	}

	ctx, r, err := ectoinject.GetContext[*repo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	result, err := r.Get(ctx, organizationID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// Deactivate stops deliveries for a subscription
func Deactivate(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "subscription_handler.Deactivate")
	defer span.End()

	organizationID := appctx.GetOrganizationID(ctx)
	if organizationID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "organization id is required")
	}

	ctx, r, err := ectoinject.GetContext[*repo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	if err := r.Deactivate(ctx, organizationID, c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// ListDeliveries returns a subscription's recent deliveries with derived
// status
func ListDeliveries(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "subscription_handler.ListDeliveries")
	defer span.End()

	organizationID := appctx.GetOrganizationID(ctx)
	if organizationID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "organization id is required")
	}

	ctx, r, err := ectoinject.GetContext[*repo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	// Ownership check before listing deliveries
	sub, err := r.Get(ctx, organizationID, c.Param("id"))
	if err != nil {
		return err
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	deliveries, err := r.ListDeliveries(ctx, sub.ID, limit)
	if err != nil {
		return err
	}

	items := make([]DeliveryResponse, 0, len(deliveries))
	for i := range deliveries {
		items = append(items, DeliveryResponse{
			WebhookSubscriptionDelivery: deliveries[i],
			Status:                      deliveries[i].LatestAttemptStatus(),
			AttemptCount:                deliveries[i].AttemptCount(),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

// RetryDelivery re-attempts one stored delivery
func RetryDelivery(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "subscription_handler.RetryDelivery")
	defer span.End()

	organizationID := appctx.GetOrganizationID(ctx)
	if organizationID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "organization id is required")
	}

	ctx, dispatcher, err := ectoinject.GetContext[*subscription.Dispatcher](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get dispatcher")
	}

	if err := dispatcher.RetryDelivery(ctx, organizationID, c.Param("id"), c.Param("deliveryID")); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "retry attempted"})
}
