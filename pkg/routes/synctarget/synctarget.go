package synctarget

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	appctx "github.com/Ramsey-B/sundew/pkg/context"
	"github.com/Ramsey-B/sundew/pkg/models"
	"github.com/Ramsey-B/sundew/pkg/synctarget"
	"github.com/Ramsey-B/sundew/pkg/tracing"
)

var validate = validator.New()

// Register registers sync target routes
func Register(g *echo.Group) {
	g.GET("", List)
	g.POST("", Create)
	g.GET("/:id", Get)
	g.PUT("/:id", Update)
	g.DELETE("/:id", Delete)
}

// SyncTargetResponse is a sync target with its connection URL masked
type SyncTargetResponse struct {
	models.SyncTarget
	ConnectionURL string `json:"connection_url"`
}

func toResponse(target models.SyncTarget) SyncTargetResponse {
	return SyncTargetResponse{
		SyncTarget:    target,
		ConnectionURL: target.DisplayConnectionURL(),
	}
}

// List returns the organization's sync targets
func List(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "synctarget_handler.List")
	defer span.End()

	organizationID := appctx.GetOrganizationID(ctx)
	if organizationID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "organization id is required")
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))

	ctx, svc, err := ectoinject.GetContext[*synctarget.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get sync target service")
	}

	result, err := svc.List(ctx, organizationID, page, pageSize)
	if err != nil {
		return err
	}

	items := make([]SyncTargetResponse, 0, len(result.Items))
	for _, target := range result.Items {
		items = append(items, toResponse(target))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"items":       items,
		"total_count": result.TotalCount,
		"page":        result.Page,
		"page_size":   result.PageSize,
	})
}

// Create creates a new sync target
func Create(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "synctarget_handler.Create")
	defer span.End()

	organizationID := appctx.GetOrganizationID(ctx)
	if organizationID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "organization id is required")
	}

	var req models.CreateSyncTargetRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, svc, err := ectoinject.GetContext[*synctarget.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get sync target service")
	}

	result, err := svc.Create(ctx, organizationID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, toResponse(*result))
}

// Get returns a single sync target
func Get(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "synctarget_handler.Get")
	defer span.End()

	organizationID := appctx.GetOrganizationID(ctx)
	if organizationID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "organization id is required")
	}

	ctx, svc, err := ectoinject.GetContext[*synctarget.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get sync target service")
	}

	result, err := svc.Get(ctx, organizationID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toResponse(*result))
}

// Update applies a partial update to a sync target
func Update(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "synctarget_handler.Update")
	defer span.End()

	organizationID := appctx.GetOrganizationID(ctx)
	if organizationID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "organization id is required")
	}

	var req models.UpdateSyncTargetRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, svc, err := ectoinject.GetContext[*synctarget.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get sync target service")
	}

	result, err := svc.Update(ctx, organizationID, c.Param("id"), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toResponse(*result))
}

// Delete soft deletes a sync target
func Delete(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "synctarget_handler.Delete")
	defer span.End()

	organizationID := appctx.GetOrganizationID(ctx)
	if organizationID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "organization id is required")
	}

	ctx, svc, err := ectoinject.GetContext[*synctarget.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get sync target service")
	}

	if err := svc.Delete(ctx, organizationID, c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
