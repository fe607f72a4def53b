package agents

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/djinnbot/core/pkg/apperror"
)

// Handler exposes the agent lifecycle controller over HTTP.
type Handler struct {
	repo       *Repository
	lifecycle  *LifecycleService
	worklock   *WorkLockService
	guardrails *GuardrailService
	container  *ContainerService
	watcher    *SessionWatcher
}

// NewHandler builds a Handler.
func NewHandler(repo *Repository, lifecycle *LifecycleService, worklock *WorkLockService, guardrails *GuardrailService, container *ContainerService, watcher *SessionWatcher) *Handler {
	return &Handler{repo: repo, lifecycle: lifecycle, worklock: worklock, guardrails: guardrails, container: container, watcher: watcher}
}

// ListAgents lists agents for a project.
func (h *Handler) ListAgents(c echo.Context) error {
	projectID := c.QueryParam("projectId")
	if projectID == "" {
		return apperror.ErrBadRequest.WithMessage("projectId is required").ToEchoError()
	}
	agentsList, err := h.repo.FindAll(c.Request().Context(), projectID)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err).ToEchoError()
	}
	dtos := make([]*AgentDTO, len(agentsList))
	for i, a := range agentsList {
		dtos[i] = a.ToDTO()
	}
	return c.JSON(http.StatusOK, SuccessResponse(dtos))
}

// GetAgent fetches a single agent by ID.
func (h *Handler) GetAgent(c echo.Context) error {
	agent, err := h.repo.FindByID(c.Request().Context(), c.Param("id"), nil)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err).ToEchoError()
	}
	if agent == nil {
		return apperror.ErrNotFound.WithMessage("agent not found").ToEchoError()
	}
	return c.JSON(http.StatusOK, SuccessResponse(agent.ToDTO()))
}

// CreateAgent creates a new agent.
func (h *Handler) CreateAgent(c echo.Context) error {
	var req CreateAgentDTO
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithInternal(err).ToEchoError()
	}
	if err := ValidateToolContracts(req.DeclaredTools); err != nil {
		return err.(*apperror.Error).ToEchoError()
	}

	agent := &Agent{
		ProjectID:     req.ProjectID,
		Name:          req.Name,
		StrategyType:  req.StrategyType,
		Prompt:        req.Prompt,
		CronSchedule:  req.CronSchedule,
		TriggerType:   req.TriggerType,
		PulseEnabled:  req.PulseEnabled,
		Guardrails:    req.Guardrails,
		DeclaredTools: req.DeclaredTools,
		Config:        req.Config,
		Description:   req.Description,
		Enabled:       true,
	}
	if req.Enabled != nil {
		agent.Enabled = *req.Enabled
	}
	if agent.TriggerType == "" {
		agent.TriggerType = TriggerTypeSchedule
	}
	if agent.Config == nil {
		agent.Config = map[string]any{}
	}

	if err := h.repo.Create(c.Request().Context(), agent); err != nil {
		return apperror.ErrDatabase.WithInternal(err).ToEchoError()
	}
	return c.JSON(http.StatusCreated, SuccessResponse(agent.ToDTO()))
}

// UpdateAgent patches an existing agent.
func (h *Handler) UpdateAgent(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	agent, err := h.repo.FindByID(ctx, id, nil)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err).ToEchoError()
	}
	if agent == nil {
		return apperror.ErrNotFound.WithMessage("agent not found").ToEchoError()
	}

	var req UpdateAgentDTO
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithInternal(err).ToEchoError()
	}
	if req.Name != nil {
		agent.Name = *req.Name
	}
	if req.Prompt != nil {
		agent.Prompt = req.Prompt
	}
	if req.Enabled != nil {
		agent.Enabled = *req.Enabled
	}
	if req.CronSchedule != nil {
		agent.CronSchedule = *req.CronSchedule
	}
	if req.TriggerType != nil {
		agent.TriggerType = *req.TriggerType
	}
	if req.PulseEnabled != nil {
		agent.PulseEnabled = *req.PulseEnabled
	}
	if req.Guardrails != nil {
		agent.Guardrails = req.Guardrails
	}
	if req.DeclaredTools != nil {
		if err := ValidateToolContracts(req.DeclaredTools); err != nil {
			return err.(*apperror.Error).ToEchoError()
		}
		agent.DeclaredTools = req.DeclaredTools
	}
	if req.Config != nil {
		agent.Config = req.Config
	}
	if req.Description != nil {
		agent.Description = req.Description
	}

	if err := h.repo.Update(ctx, agent); err != nil {
		return apperror.ErrDatabase.WithInternal(err).ToEchoError()
	}
	return c.JSON(http.StatusOK, SuccessResponse(agent.ToDTO()))
}

// DeleteAgent removes an agent.
func (h *Handler) DeleteAgent(c echo.Context) error {
	if err := h.repo.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return apperror.ErrDatabase.WithInternal(err).ToEchoError()
	}
	return c.NoContent(http.StatusNoContent)
}

// GetAgentRuns lists recent invocation-log entries for an agent.
func (h *Handler) GetAgentRuns(c echo.Context) error {
	runs, err := h.repo.GetRecentRuns(c.Request().Context(), c.Param("id"), 20)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err).ToEchoError()
	}
	dtos := make([]*AgentRunDTO, len(runs))
	for i, r := range runs {
		dtos[i] = r.ToDTO()
	}
	return c.JSON(http.StatusOK, SuccessResponse(dtos))
}

// GetLifecycle returns an agent's current C2-backed lifecycle state.
func (h *Handler) GetLifecycle(c echo.Context) error {
	state, err := h.lifecycle.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if appErr, ok := err.(*apperror.Error); ok {
			return appErr.ToEchoError()
		}
		return apperror.ErrInternal.WithInternal(err).ToEchoError()
	}
	return c.JSON(http.StatusOK, SuccessResponse(state))
}

// ListWorkLocks returns the agent's work ledger (keys it currently holds).
func (h *Handler) ListWorkLocks(c echo.Context) error {
	ledger, err := h.worklock.ListLedger(c.Request().Context(), c.Param("id"))
	if err != nil {
		if appErr, ok := err.(*apperror.Error); ok {
			return appErr.ToEchoError()
		}
		return apperror.ErrInternal.WithInternal(err).ToEchoError()
	}
	return c.JSON(http.StatusOK, SuccessResponse(ledger))
}

// GetSandbox returns the agent's last-reported sandbox bookkeeping (docker
// or Firecracker backend, container/VM id, and state), or an empty body if
// the runtime has never reported one.
func (h *Handler) GetSandbox(c echo.Context) error {
	handle, err := h.container.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if appErr, ok := err.(*apperror.Error); ok {
			return appErr.ToEchoError()
		}
		return apperror.ErrInternal.WithInternal(err).ToEchoError()
	}
	return c.JSON(http.StatusOK, SuccessResponse(handle))
}

// ReleaseWorkLock drops a held lock ahead of its TTL.
func (h *Handler) ReleaseWorkLock(c echo.Context) error {
	if err := h.worklock.Release(c.Request().Context(), c.Param("id"), c.Param("workKey")); err != nil {
		if appErr, ok := err.(*apperror.Error); ok {
			return appErr.ToEchoError()
		}
		return apperror.ErrInternal.WithInternal(err).ToEchoError()
	}
	return c.NoContent(http.StatusNoContent)
}

// TriggerAgent manually triggers an agent outside the pulse schedule,
// bypassing every guardrail check, the concurrency cap included (a human
// explicitly asked for this run). The session is still recorded as a
// concurrent start before the agent transitions to thinking.
func (h *Handler) TriggerAgent(c echo.Context) error {
	ctx := c.Request().Context()
	agent, err := h.repo.FindByID(ctx, c.Param("id"), nil)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err).ToEchoError()
	}
	if agent == nil {
		return apperror.ErrNotFound.WithMessage("agent not found").ToEchoError()
	}

	run, err := h.repo.CreateRun(ctx, agent.ID)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err).ToEchoError()
	}

	sessionID := uuid.NewString()
	if err := h.guardrails.MarkConcurrentStart(ctx, agent.ID, sessionID); err != nil {
		return apperror.ErrInternal.WithInternal(err).ToEchoError()
	}
	if err := h.lifecycle.Transition(ctx, agent.ID, StateThinking, nil); err != nil {
		return apperror.ErrInternal.WithInternal(err).ToEchoError()
	}
	h.watcher.Watch(agent.ID, sessionID)

	msg := "manual trigger accepted"
	return c.JSON(http.StatusAccepted, TriggerResponseDTO{Success: true, RunID: &run.ID, Message: &msg})
}
