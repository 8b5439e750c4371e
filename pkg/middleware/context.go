package middleware

import (
	"github.com/Ramsey-B/sundew/pkg/context"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	// HeaderOrganizationID is the header key for organization ID
	HeaderOrganizationID = "X-Organization-ID"
	// HeaderCustomerID is the header key for customer ID
	HeaderCustomerID = "X-Customer-ID"
)

func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()

			// get request id from header
			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}

			// get organization id from header
			organizationID := req.Header.Get(HeaderOrganizationID)

			// get customer id from header
			customerID := req.Header.Get(HeaderCustomerID)

			ctx := req.Context()
			ctx = context.SetRequestID(ctx, requestID)
			ctx = context.SetMethod(ctx, req.Method)
			ctx = context.SetRoute(ctx, req.URL.Path)
			ctx = context.SetRemoteIP(ctx, c.RealIP())
			ctx = context.SetOrganizationID(ctx, organizationID)
			ctx = context.SetCustomerID(ctx, customerID)

			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}
