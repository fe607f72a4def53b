package inbox

import (
	"github.com/labstack/echo/v4"

	"github.com/djinnbot/core/pkg/auth"
)

// RegisterRoutes registers inter-agent inbox routes.
func RegisterRoutes(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	g := e.Group("/api/v1/agents/:id/inbox")
	g.Use(authMiddleware.RequireAuth())

	g.GET("", h.List)
	g.POST("", h.Send)
	g.POST("/mark-read", h.MarkRead)
	g.POST("/clear", h.Clear)
}
