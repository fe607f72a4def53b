package sessions

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/djinnbot/core/pkg/apperror"
	"github.com/djinnbot/core/pkg/bus"
	"github.com/djinnbot/core/pkg/logger"
	"github.com/djinnbot/core/pkg/sse"
)

// Handler exposes the session event router over HTTP.
type Handler struct {
	svc  *Service
	repo *Repository
	log  *slog.Logger
}

// NewHandler builds a Handler.
func NewHandler(svc *Service, repo *Repository, log *slog.Logger) *Handler {
	return &Handler{svc: svc, repo: repo, log: log.With(logger.Scope("sessions.handler"))}
}

// Stream handles GET /v1/events/sessions/:id/events?since={stream_id} — SSE
// with a replay cursor.
func (h *Handler) Stream(c echo.Context) error {
	sessionID := c.Param("id")
	since := bus.StreamID(c.QueryParam("since"))
	if since == "" {
		since = bus.Zero
	}

	w := sse.NewWriter(c.Response().Writer)
	if err := w.Start(); err != nil {
		return apperror.ErrInternal.WithMessage("streaming not supported").ToEchoError()
	}

	ctx := c.Request().Context()
	frames, err := h.svc.Subscribe(ctx, sessionID, since)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			if err := w.WriteEvent(f.Event, f.Data); err != nil {
				h.log.Warn("failed writing SSE frame", slog.String("session_id", sessionID), logger.Error(err))
				return nil
			}
		}
	}
}

// Get handles GET /v1/sessions/:id.
func (h *Handler) Get(c echo.Context) error {
	s, err := h.repo.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err).ToEchoError()
	}
	if s == nil {
		return apperror.ErrNotFound.ToEchoError()
	}
	return c.JSON(http.StatusOK, s)
}

// ListForAgent handles GET /v1/agents/:id/sessions.
func (h *Handler) ListForAgent(c echo.Context) error {
	sess, err := h.repo.ListByAgent(c.Request().Context(), c.Param("id"), 0)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err).ToEchoError()
	}
	return c.JSON(http.StatusOK, map[string]any{"data": sess})
}
