package githubapp

import (
	"github.com/labstack/echo/v4"

	"github.com/djinnbot/core/pkg/auth"
)

// RegisterRoutes registers GitHub App HTTP routes.
func RegisterRoutes(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	// Settings routes (require auth + admin:write for all config changes)
	g := e.Group("/api/v1/settings/github")

	// Read operations — connection status
	readGroup := g.Group("")
	readGroup.Use(authMiddleware.RequireAuth())
	readGroup.Use(authMiddleware.RequireScopes("admin:read"))
	readGroup.GET("", h.GetStatus)

	// Write operations — connect, disconnect, CLI setup
	writeGroup := g.Group("")
	writeGroup.Use(authMiddleware.RequireAuth())
	writeGroup.Use(authMiddleware.RequireScopes("admin:write"))
	writeGroup.POST("/connect", h.Connect)
	writeGroup.GET("/callback", h.Callback)
	writeGroup.DELETE("", h.Disconnect)
	writeGroup.POST("/cli", h.CLISetup)

	// Webhook — no auth (GitHub sends these), but should verify signature
	e.POST("/api/v1/settings/github/webhook", h.Webhook)

	// Webhook delivery audit log
	audit := e.Group("/v1/webhooks/events")
	audit.Use(authMiddleware.RequireAuth())
	audit.Use(authMiddleware.RequireScopes("admin:read"))
	audit.GET("", h.ListWebhookEvents)

	replay := e.Group("/v1/webhooks/events")
	replay.Use(authMiddleware.RequireAuth())
	replay.Use(authMiddleware.RequireScopes("admin:write"))
	replay.POST("/:id/replay", h.ReplayWebhookEvent)

	// Issue-to-run resolution — turns a GitHub issue into a queued run.
	resolve := e.Group("/v1/resolve")
	resolve.Use(authMiddleware.RequireAuth())
	resolve.Use(authMiddleware.RequireScopes("admin:write"))
	resolve.POST("", h.ResolveIssue)
}
