package runs

import (
	"github.com/labstack/echo/v4"

	"github.com/djinnbot/core/pkg/auth"
)

// RegisterRoutes registers the run dispatcher's HTTP routes.
func RegisterRoutes(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	runs := e.Group("/v1/runs")
	runs.Use(authMiddleware.RequireAuth())
	runs.POST("/", h.Create)
	runs.GET("/:id", h.Get)
	runs.POST("/:id/cancel", h.Cancel)
	runs.POST("/:id/pause", h.Pause)
	runs.POST("/:id/resume", h.Resume)
	runs.POST("/:id/restart", h.Restart)
	runs.POST("/:id/delete", h.Delete)

	events := e.Group("/v1/events/stream")
	events.Use(authMiddleware.RequireAuth())
	events.GET("/:run_id", h.Stream)
}
