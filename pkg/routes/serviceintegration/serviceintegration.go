package serviceintegration

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	repo "github.com/Ramsey-B/sundew/internal/repositories/serviceintegration"
	appctx "github.com/Ramsey-B/sundew/pkg/context"
	"github.com/Ramsey-B/sundew/pkg/integration"
	"github.com/Ramsey-B/sundew/pkg/models"
	"github.com/Ramsey-B/sundew/pkg/replicator"
	"github.com/Ramsey-B/sundew/pkg/tracing"
)

var validate = validator.New()

// Register registers service integration routes
func Register(g *echo.Group) {
	g.GET("", List)
	g.POST("", Create)
	g.GET("/:opaqueID", Get)
	g.DELETE("/:opaqueID", Delete)
	g.POST("/:opaqueID/transition/:field", Transition)
	g.POST("/:opaqueID/backfill", Backfill)
}

// Services lists the registered connector descriptors. Mounted separately
// because it is not organization scoped.
func Services(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "serviceintegration_handler.Services")
	defer span.End()

	_, registry, err := ectoinject.GetContext[*replicator.Registry](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get registry")
	}
	return c.JSON(http.StatusOK, map[string]any{"services": registry.Descriptors()})
}

// List returns the organization's service integrations
func List(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "serviceintegration_handler.List")
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

// Create creates a service integration and its mirror table
func Create(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "serviceintegration_handler.Create")
	defer span.End()

	organizationID := appctx.GetOrganizationID(ctx)
	if organizationID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "organization id is required")
	}

	var req struct {
		ServiceName string  `json:"service_name" validate:"required"`
		DependsOnID *string `json:"depends_on_id,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, svc, err := ectoinject.GetContext[*integration.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get integration service")
	}

	result, err := svc.Create(ctx, organizationID, models.CreateServiceIntegrationRequest{
		ServiceName: req.ServiceName,
		DependsOnID: req.DependsOnID,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, result)
}

// Get returns one integration with its onboarding state
func Get(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "serviceintegration_handler.Get")
	defer span.End()

	organizationID := appctx.GetOrganizationID(ctx)
	if organizationID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "organization id is required")
	}

	ctx, r, err := ectoinject.GetContext[*repo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}
	si, err := r.GetByOpaqueID(ctx, c.Param("opaqueID"))
	if err != nil {
		return err
	}
	if si.OrganizationID != organizationID {
		return httperror.NewHTTPError(http.StatusNotFound, "service integration not found")
	}

	ctx, svc, err := ectoinject.GetContext[*integration.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get integration service")
	}
	result, err := svc.Get(ctx, organizationID, si.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// Delete soft deletes a service integration
func Delete(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "serviceintegration_handler.Delete")
	defer span.End()

	organizationID := appctx.GetOrganizationID(ctx)
	if organizationID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "organization id is required")
	}

	ctx, r, err := ectoinject.GetContext[*repo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}
	si, err := r.GetByOpaqueID(ctx, c.Param("opaqueID"))
	if err != nil {
		return err
	}
	if si.OrganizationID != organizationID {
		return httperror.NewHTTPError(http.StatusNotFound, "service integration not found")
	}

	if err := r.SoftDelete(ctx, organizationID, si.ID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Transition applies one onboarding field and returns the next step
func Transition(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "serviceintegration_handler.Transition")
	defer span.End()

	organizationID := appctx.GetOrganizationID(ctx)
	if organizationID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "organization id is required")
	}

	var req struct {
		Value string `json:"value" validate:"required"`
	}
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, svc, err := ectoinject.GetContext[*integration.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get integration service")
	}

	step, err := svc.Transition(ctx, organizationID, c.Param("opaqueID"), c.Param("field"), req.Value)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, step)
}

// Backfill triggers a full backfill for an integration
func Backfill(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "serviceintegration_handler.Backfill")
	defer span.End()

	organizationID := appctx.GetOrganizationID(ctx)
	if organizationID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "organization id is required")
	}

	ctx, svc, err := ectoinject.GetContext[*integration.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get integration service")
	}

	if err := svc.Backfill(ctx, organizationID, c.Param("opaqueID")); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "backfill completed"})
}
