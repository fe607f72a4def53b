package retrieval

import (
	"github.com/labstack/echo/v4"

	"github.com/djinnbot/core/pkg/auth"
)

// RegisterRoutes registers the retrieval-score HTTP routes. These are
// internal endpoints called by the (out-of-core) agent runtime, not by
// end-user clients, but still sit behind the same auth middleware as every
// other internal surface.
func RegisterRoutes(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	g := e.Group("/v1/internal")
	g.Use(authMiddleware.RequireAuth())

	g.POST("/memory-retrievals", h.RecordRetrievals)
	g.GET("/memory-scores/:agent_id", h.GetScores)
}
