package sessions

import (
	"github.com/labstack/echo/v4"

	"github.com/djinnbot/core/pkg/auth"
)

// RegisterRoutes registers the session event router routes.
func RegisterRoutes(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	events := e.Group("/v1/events/sessions")
	events.Use(authMiddleware.RequireAuth())
	events.GET("/:id/events", h.Stream)

	sess := e.Group("/v1/sessions")
	sess.Use(authMiddleware.RequireAuth())
	sess.GET("/:id", h.Get)

	agentSessions := e.Group("/v1/agents/:id/sessions")
	agentSessions.Use(authMiddleware.RequireAuth())
	agentSessions.GET("", h.ListForAgent)
}
