package inbox

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/djinnbot/core/pkg/apperror"
	"github.com/djinnbot/core/pkg/auth"
)

// Handler exposes the inter-agent inbox over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler builds a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type sendMessageRequest struct {
	From        string      `json:"from" validate:"required"`
	FromAgentID string      `json:"fromAgentId,omitempty"`
	Type        MessageType `json:"type,omitempty"`
	Priority    Priority    `json:"priority,omitempty"`
	Subject     string      `json:"subject,omitempty"`
	Body        string      `json:"body" validate:"required"`
	RunContext  string      `json:"runContext,omitempty"`
	StepContext string      `json:"stepContext,omitempty"`
}

// Send handles POST /api/v1/agents/:id/inbox.
func (h *Handler) Send(c echo.Context) error {
	agentID := c.Param("id")
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithInternal(err).ToEchoError()
	}
	if req.Body == "" {
		return apperror.ErrBadRequest.WithMessage("body is required").ToEchoError()
	}

	if req.From == "" {
		if user := auth.GetUser(c); user != nil {
			req.From = user.ID
		}
	}

	id, err := h.svc.Send(c.Request().Context(), agentID, SendRequest{
		From:        req.From,
		FromAgentID: req.FromAgentID,
		Type:        req.Type,
		Priority:    req.Priority,
		Subject:     req.Subject,
		Body:        req.Body,
		RunContext:  req.RunContext,
		StepContext: req.StepContext,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": id})
}

// List handles GET /api/v1/agents/:id/inbox.
func (h *Handler) List(c echo.Context) error {
	agentID := c.Param("id")
	filter := Filter(c.QueryParam("filter"))
	if filter == "" {
		filter = FilterAll
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	result, err := h.svc.List(c.Request().Context(), agentID, filter, limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

type markReadRequest struct {
	MessageIDs []string `json:"messageIds"`
}

// MarkRead handles POST /api/v1/agents/:id/inbox/mark-read.
func (h *Handler) MarkRead(c echo.Context) error {
	agentID := c.Param("id")
	var req markReadRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithInternal(err).ToEchoError()
	}
	marked, err := h.svc.MarkRead(c.Request().Context(), agentID, req.MessageIDs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"marked": marked})
}

type clearInboxRequest struct {
	Confirm bool `json:"confirm"`
}

// Clear handles POST /api/v1/agents/:id/inbox/clear.
func (h *Handler) Clear(c echo.Context) error {
	agentID := c.Param("id")
	var req clearInboxRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithInternal(err).ToEchoError()
	}
	if !req.Confirm {
		return apperror.ErrBadRequest.WithMessage("must confirm=true to clear inbox").ToEchoError()
	}
	if err := h.svc.Clear(c.Request().Context(), agentID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"cleared": true})
}
