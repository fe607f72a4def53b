package runs

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/djinnbot/core/pkg/apperror"
	"github.com/djinnbot/core/pkg/bus"
	"github.com/djinnbot/core/pkg/logger"
	"github.com/djinnbot/core/pkg/sse"
)

// Handler exposes the run dispatcher over HTTP.
type Handler struct {
	svc *Service
	log *slog.Logger
}

// NewHandler builds a Handler.
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{svc: svc, log: log.With(logger.Scope("runs.handler"))}
}

type createRunBody struct {
	PipelineID    string          `json:"pipeline_id"`
	ProjectID     *string         `json:"project_id,omitempty"`
	Task          string          `json:"task"`
	HumanContext  json.RawMessage `json:"human_context,omitempty"`
	ModelOverride *string         `json:"model_override,omitempty"`
	WorkspaceType string          `json:"workspace_type,omitempty"`
}

// Create handles POST /v1/runs/.
func (h *Handler) Create(c echo.Context) error {
	var body createRunBody
	if err := c.Bind(&body); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid request body")
	}
	run, err := h.svc.CreateRun(c.Request().Context(), CreateRunRequest{
		PipelineID:      body.PipelineID,
		ProjectID:       body.ProjectID,
		TaskDescription: body.Task,
		HumanContext:    body.HumanContext,
		ModelOverride:   body.ModelOverride,
		WorkspaceType:   body.WorkspaceType,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, run)
}

// Get handles GET /v1/runs/:id.
func (h *Handler) Get(c echo.Context) error {
	run, steps, err := h.svc.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"run": run, "steps": steps})
}

// Cancel handles POST /v1/runs/:id/cancel.
func (h *Handler) Cancel(c echo.Context) error {
	if err := h.svc.Cancel(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

// Pause handles POST /v1/runs/:id/pause.
func (h *Handler) Pause(c echo.Context) error {
	if err := h.svc.Pause(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

// Resume handles POST /v1/runs/:id/resume.
func (h *Handler) Resume(c echo.Context) error {
	if err := h.svc.Resume(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

// Restart handles POST /v1/runs/:id/restart.
func (h *Handler) Restart(c echo.Context) error {
	run, err := h.svc.Restart(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, run)
}

// Delete handles POST /v1/runs/:id/delete.
func (h *Handler) Delete(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Stream handles GET /v1/events/stream/:run_id — SSE with a replay cursor.
func (h *Handler) Stream(c echo.Context) error {
	runID := c.Param("run_id")
	since := bus.StreamID(c.QueryParam("since"))
	if since == "" {
		since = bus.Zero
	}

	w := sse.NewWriter(c.Response().Writer)
	if err := w.Start(); err != nil {
		return apperror.ErrInternal.WithMessage("streaming not supported")
	}

	ctx := c.Request().Context()
	frames, err := h.svc.Subscribe(ctx, runID, since)
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
				h.log.Warn("failed writing SSE frame", slog.String("run_id", runID), logger.Error(err))
				return nil
			}
		}
	}
}
