package agents

import (
	"github.com/labstack/echo/v4"

	"github.com/djinnbot/core/pkg/auth"
)

// RegisterRoutes registers agent lifecycle-controller routes.
func RegisterRoutes(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	admin := e.Group("/api/admin/agents")
	admin.Use(authMiddleware.RequireAuth())

	readGroup := admin.Group("")
	readGroup.Use(authMiddleware.RequireScopes("admin:read"))
	readGroup.GET("", h.ListAgents)
	readGroup.GET("/:id", h.GetAgent)
	readGroup.GET("/:id/runs", h.GetAgentRuns)
	readGroup.GET("/:id/lifecycle", h.GetLifecycle)
	readGroup.GET("/:id/work-locks", h.ListWorkLocks)
	readGroup.GET("/:id/sandbox", h.GetSandbox)

	writeGroup := admin.Group("")
	writeGroup.Use(authMiddleware.RequireScopes("admin:write"))
	writeGroup.POST("", h.CreateAgent)
	writeGroup.PATCH("/:id", h.UpdateAgent)
	writeGroup.DELETE("/:id", h.DeleteAgent)
	writeGroup.POST("/:id/trigger", h.TriggerAgent)
	writeGroup.POST("/:id/work-locks/:workKey/release", h.ReleaseWorkLock)
}
