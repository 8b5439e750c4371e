package organization

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/sundew/internal/repositories/organization"
	"github.com/Ramsey-B/sundew/pkg/models"
	"github.com/Ramsey-B/sundew/pkg/tracing"
)

var validate = validator.New()

// Register registers organization routes
func Register(g *echo.Group) {
	g.GET("", List)
	g.POST("", Create)
	g.GET("/:id", Get)
	g.DELETE("/:id", Delete)
}

// OrganizationResponse is an organization with its connection URLs masked
type OrganizationResponse struct {
	models.Organization
	AdminConnectionURL    string `json:"admin_connection_url"`
	ReadonlyConnectionURL string `json:"readonly_connection_url"`
}

func toResponse(org models.Organization) OrganizationResponse {
	return OrganizationResponse{
		Organization:          org,
		AdminConnectionURL:    models.MaskConnectionURL(org.AdminConnectionURL),
		ReadonlyConnectionURL: models.MaskConnectionURL(org.ReadonlyConnectionURL),
	}
}

// List returns organizations with pagination
func List(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "organization_handler.List")
	defer span.End()

	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))

	ctx, repo, err := ectoinject.GetContext[*organization.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	result, err := repo.List(ctx, page, pageSize)
	if err != nil {
		return err
	}

	items := make([]OrganizationResponse, 0, len(result.Items))
	for _, org := range result.Items {
		items = append(items, toResponse(org))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"items":       items,
		"total_count": result.TotalCount,
		"page":        result.Page,
		"page_size":   result.PageSize,
	})
}

// Create creates a new organization
func Create(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "organization_handler.Create")
	defer span.End()

	var req models.CreateOrganizationRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, repo, err := ectoinject.GetContext[*organization.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	result, err := repo.Create(ctx, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, toResponse(*result))
}

// Get returns a single organization by ID
func Get(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "organization_handler.Get")
	defer span.End()

	ctx, repo, err := ectoinject.GetContext[*organization.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	result, err := repo.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toResponse(*result))
}

// Delete soft deletes an organization
func Delete(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "organization_handler.Delete")
	defer span.End()

	ctx, repo, err := ectoinject.GetContext[*organization.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	if err := repo.SoftDelete(ctx, c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
