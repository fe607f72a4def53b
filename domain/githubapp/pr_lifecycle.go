package githubapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/djinnbot/core/domain/tasks"
	"github.com/djinnbot/core/pkg/bus"
)

// taskBranchPattern recognises a head ref shaped "feat/task_<uuid>" or
// "feat/task_<uuid>-some-slug", the fallback used when neither pr_number nor
// pr_url matches a task's stored metadata. A matching ref is looked up whole
// as the task's git_branch metadata; the captured task id is not looked up.
var taskBranchPattern = regexp.MustCompile(`^feat/(task_[0-9a-fA-F-]+)`)

// pullRequestPayload is the subset of a GitHub pull_request webhook this
// router reasons about.
type pullRequestPayload struct {
	Action      string `json:"action"`
	PullRequest struct {
		Number  int    `json:"number"`
		Title   string `json:"title"`
		HTMLURL string `json:"html_url"`
		Merged  bool   `json:"merged"`
		Head    struct {
			Ref string `json:"ref"`
		} `json:"head"`
	} `json:"pull_request"`
	Repository struct {
		HTMLURL string `json:"html_url"`
	} `json:"repository"`
}

// handlePullRequestLifecycle runs the PR-opened review trigger and the
// PR-merged autonomous loop-closure, both ahead of generic assignment
// matching so a merge always completes its task even with no agent online.
func (s *Router) handlePullRequestLifecycle(ctx context.Context, projectID string, raw json.RawMessage) error {
	var pr pullRequestPayload
	if err := json.Unmarshal(raw, &pr); err != nil {
		return fmt.Errorf("decode pull_request payload: %w", err)
	}

	switch {
	case (pr.Action == "opened" || pr.Action == "ready_for_review") && taskBranchPattern.MatchString(pr.PullRequest.Head.Ref):
		return s.triggerReviewPulse(ctx, projectID, pr)
	case pr.Action == "closed" && pr.PullRequest.Merged:
		return s.closeLinkedTask(ctx, projectID, pr)
	}
	return nil
}

func (s *Router) triggerReviewPulse(ctx context.Context, projectID string, pr pullRequestPayload) error {
	task, err := s.findLinkedTask(ctx, projectID, pr)
	if err != nil || task == nil || task.AssignedAgent == nil {
		return err
	}

	note := fmt.Sprintf("review requested for %q: %s", pr.PullRequest.Title, pr.PullRequest.HTMLURL)
	_, err = bus.PublishGlobal(ctx, s.b, bus.EventPulseTriggered, *task.AssignedAgent, projectID, map[string]string{
		"reason":  "pr_ready_for_review",
		"taskId":  task.ID,
		"context": note,
	})
	if err != nil {
		return fmt.Errorf("publish review pulse: %w", err)
	}
	s.log.Info("review pulse triggered", slog.String("task_id", task.ID), slog.String("agent_id", *task.AssignedAgent))
	return nil
}

func (s *Router) closeLinkedTask(ctx context.Context, projectID string, pr pullRequestPayload) error {
	task, err := s.findLinkedTask(ctx, projectID, pr)
	if err != nil {
		return err
	}
	if task == nil {
		s.log.Debug("merged PR has no linked task", slog.Int("pr_number", pr.PullRequest.Number))
		return nil
	}

	sem, err := s.tasksRepo.GetStatusSemantics(ctx, projectID)
	if err != nil {
		return err
	}
	if sem != nil && sem.Classify(task.Status) == tasks.ClassTerminalDone {
		return nil // already done — idempotent re-delivery
	}

	doneStatus := "done"
	doneColumn := task.ColumnID
	if sem != nil {
		if sem.DoneColumnID != nil {
			doneColumn = *sem.DoneColumnID
		}
		for status, class := range sem.Statuses {
			if class == tasks.ClassTerminalDone {
				doneStatus = status
				break
			}
		}
	}

	note := fmt.Sprintf("PR #%d merged: %s", pr.PullRequest.Number, pr.PullRequest.HTMLURL)
	if err := s.tasksRepo.MoveToColumn(ctx, projectID, task.ID, doneColumn, 0, note); err != nil {
		return err
	}
	task.Status = doneStatus

	if _, err := bus.PublishGlobal(ctx, s.b, bus.EventTaskStatusChanged, "", projectID, map[string]string{
		"taskId": task.ID,
		"status": doneStatus,
	}); err != nil {
		return fmt.Errorf("publish task status change: %w", err)
	}

	if task.AssignedAgent != nil {
		if _, err := bus.PublishGlobal(ctx, s.b, bus.EventTaskWorkspaceRemove, *task.AssignedAgent, projectID, map[string]string{
			"taskId": task.ID,
		}); err != nil {
			return fmt.Errorf("publish workspace removal request: %w", err)
		}
	}

	s.log.Info("task auto-completed on PR merge", slog.String("task_id", task.ID))
	return nil
}

func (s *Router) findLinkedTask(ctx context.Context, projectID string, pr pullRequestPayload) (*tasks.Task, error) {
	gitBranch := ""
	if m := taskBranchPattern.FindStringSubmatch(pr.PullRequest.Head.Ref); m != nil {
		gitBranch = pr.PullRequest.Head.Ref
	}
	return s.tasksRepo.FindByPRReference(ctx, projectID, pr.PullRequest.Number, pr.PullRequest.HTMLURL, gitBranch)
}
