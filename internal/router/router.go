package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/account-service/internal/handler"
	"github.com/iliyamo/account-service/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication.
// /healthz answers while the process is up; /readyz also checks the
// store and the directory.
func RegisterRoutes(e *echo.Echo, ready echo.HandlerFunc) {
	e.GET("/healthz", handler.Health)
	if ready != nil {
		e.GET("/readyz", ready)
	}
}

// RegisterAdmin registers the operator endpoints under /v1/admin.  Every
// route requires a bearer token carrying the ADMIN role; the full-table
// export and the rebuild are additionally wrapped in limit.
func RegisterAdmin(e *echo.Echo, h *handler.AdminHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	g := e.Group("/v1/admin", middleware.AdminAuth(jwtSecret))

	// Static segments before :number so they are not captured by it.
	g.GET("/accounts/count", h.Count)
	g.GET("/accounts/export", h.Export, limit)
	g.GET("/accounts", h.List)
	g.GET("/accounts/:number", h.Get)

	g.POST("/directory/rebuild", h.RebuildDirectory, limit)
}
