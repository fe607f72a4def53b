package retrieval

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/djinnbot/core/pkg/apperror"
	"github.com/djinnbot/core/pkg/logger"
)

// Handler exposes the retrieval-score service over HTTP, for the (external,
// out-of-core) agent runtime to post retrieval batches and recall scores.
type Handler struct {
	svc *Service
	log *slog.Logger
}

// NewHandler builds a Handler.
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{svc: svc, log: log.With(logger.Scope("retrieval.handler"))}
}

type recordRetrievalsBody struct {
	AgentID     string           `json:"agent_id"`
	SessionID   string           `json:"session_id,omitempty"`
	RunID       string           `json:"run_id,omitempty"`
	StepSuccess *bool            `json:"step_success,omitempty"`
	Retrievals  []RetrievalEvent `json:"retrievals"`
}

// RecordRetrievals handles POST /v1/internal/memory-retrievals.
func (h *Handler) RecordRetrievals(c echo.Context) error {
	var body recordRetrievalsBody
	if err := c.Bind(&body); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid request body")
	}
	updated, err := h.svc.Record(c.Request().Context(), RecordBatch{
		AgentID:     body.AgentID,
		SessionID:   body.SessionID,
		RunID:       body.RunID,
		StepSuccess: body.StepSuccess,
		Retrievals:  body.Retrievals,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"ok":             true,
		"logged":         len(body.Retrievals),
		"scores_updated": updated,
	})
}

// GetScores handles GET /v1/internal/memory-scores/:agent_id.
func (h *Handler) GetScores(c echo.Context) error {
	agentID := c.Param("agent_id")
	limit := 200
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var memoryIDs []string
	if v := c.QueryParam("memory_ids"); v != "" {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				memoryIDs = append(memoryIDs, id)
			}
		}
	}
	scores, err := h.svc.Scores(c.Request().Context(), agentID, memoryIDs, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"scores":             scores,
		"total":              len(scores),
		"blend_base_factor":  h.svc.cfg.BlendBaseFactor,
		"blend_boost_factor": h.svc.cfg.BlendBoostFactor,
	})
}
