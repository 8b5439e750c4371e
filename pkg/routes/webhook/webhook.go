package webhook

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/sundew/pkg/integration"
	"github.com/Ramsey-B/sundew/pkg/tracing"
)

// maxBodyBytes bounds an inbound webhook payload (1MB)
const maxBodyBytes = 1 << 20

// processTimeout bounds the detached upsert after the response is written
const processTimeout = 30 * time.Second

// Register registers the webhook ingestion route. This endpoint is called by
// external services, so it is not organization scoped and takes no auth
// headers beyond the connector's own verification.
func Register(g *echo.Group) {
	g.POST("/:opaqueID", Receive)
}

// Receive authenticates an inbound webhook and responds immediately. Accepted
// payloads are written to the mirror table after the response so a slow
// database never forces the sender into its retry path.
func Receive(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "webhook_handler.Receive")
	defer span.End()

	rawBody, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	ctx, svc, err := ectoinject.GetContext[*integration.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get integration service")
	}

	result, err := svc.HandleWebhook(ctx, c.Param("opaqueID"), c.Request(), rawBody)
	if err != nil {
		return err
	}

	if result.Response.Status == http.StatusAccepted {
		processCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), processTimeout)
		go func() {
			defer cancel()
			svc.ProcessWebhook(processCtx, result.Engine, rawBody)
		}()
	}

	for key, value := range result.Response.Headers {
		c.Response().Header().Set(key, value)
	}
	return c.String(result.Response.Status, result.Response.Body)
}
