package githubapp

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/djinnbot/core/domain/runs"
	"github.com/djinnbot/core/pkg/apperror"
	"github.com/djinnbot/core/pkg/template"
)

const resolveTaskTemplate = "Resolve GitHub issue {{repo_full_name}}#{{issue_number}}: {{issue_title}}"
const resolvePipelineID = "resolve"

// ResolveIssueRequest is the payload for turning a GitHub issue into a run.
type ResolveIssueRequest struct {
	RepoFullName   string   `json:"repo_full_name"`
	IssueNumber    int      `json:"issue_number"`
	IssueTitle     string   `json:"issue_title"`
	IssueBody      string   `json:"issue_body"`
	IssueAuthor    string   `json:"issue_author"`
	IssueLabels    []string `json:"issue_labels"`
	IssueCreatedAt string   `json:"issue_created_at"`
	IssueComments  []string `json:"issue_comments"`
	ProjectID      *string  `json:"project_id"`
}

// ResolveIssue handles POST /v1/resolve. It builds the task description from
// the resolve pipeline's template and hands off to the run dispatcher (C3);
// the resolve pipeline itself carries the actual issue-fixing steps.
func (h *Handler) ResolveIssue(c echo.Context) error {
	var req ResolveIssueRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid request body").ToEchoError()
	}
	if req.RepoFullName == "" || req.IssueTitle == "" {
		return apperror.ErrBadRequest.WithMessage("repo_full_name and issue_title are required").ToEchoError()
	}

	taskDescription := template.Interpolate(resolveTaskTemplate, map[string]string{
		"repo_full_name": req.RepoFullName,
		"issue_number":   fmt.Sprintf("%d", req.IssueNumber),
		"issue_title":    req.IssueTitle,
	})

	humanContext, err := json.Marshal(map[string]any{
		"repo_full_name":   req.RepoFullName,
		"issue_number":     req.IssueNumber,
		"issue_title":      req.IssueTitle,
		"issue_body":       req.IssueBody,
		"issue_author":     req.IssueAuthor,
		"issue_labels":     req.IssueLabels,
		"issue_created_at": req.IssueCreatedAt,
		"issue_comments":   req.IssueComments,
		"resolve_run":      true,
	})
	if err != nil {
		return apperror.ErrInternal.WithInternal(err).ToEchoError()
	}

	run, err := h.runs.CreateRun(c.Request().Context(), runs.CreateRunRequest{
		PipelineID:      resolvePipelineID,
		ProjectID:       req.ProjectID,
		TaskDescription: taskDescription,
		HumanContext:    humanContext,
	})
	if err != nil {
		if appErr, ok := err.(*apperror.Error); ok {
			return appErr.ToEchoError()
		}
		return apperror.ErrInternal.WithInternal(err).ToEchoError()
	}
	return c.JSON(http.StatusCreated, run)
}
