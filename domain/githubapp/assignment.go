package githubapp

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"

	"github.com/uptrace/bun"

	"github.com/djinnbot/core/pkg/apperror"
)

// AgentEventAssignment binds an agent to a GitHub event type for one
// project, with optional filters narrowing which deliveries actually match.
// AutoRespond decides whether a match publishes a PULSE_TRIGGERED wake
// directly or creates a Task in the project's "backlog" column for a human
// (or a later pulse) to pick up. The column is fixed; the project's column
// order is not consulted.
type AgentEventAssignment struct {
	bun.BaseModel `bun:"table:core.agent_event_assignments,alias:aea"`

	ID          string   `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	ProjectID   string   `bun:"project_id,notnull,type:uuid" json:"projectId"`
	AgentID     string   `bun:"agent_id,notnull,type:uuid" json:"agentId"`
	EventType   string   `bun:"event_type,notnull" json:"eventType"`
	Action      *string  `bun:"action" json:"action,omitempty"`
	Labels      []string `bun:"labels,array" json:"labels,omitempty"`
	FilePatterns []string `bun:"file_patterns,array" json:"filePatterns,omitempty"`
	Authors     []string `bun:"authors,array" json:"authors,omitempty"`
	AutoRespond bool     `bun:"auto_respond,notnull,default:false" json:"autoRespond"`
}

// ProjectRepoLink maps a project to the repository whose webhooks should
// route to it, since the distilled model otherwise has no way to find a
// project from an inbound "repository":{"html_url":...} field.
type ProjectRepoLink struct {
	bun.BaseModel `bun:"table:core.project_repo_links,alias:prl"`

	ProjectID     string `bun:"project_id,pk,type:uuid" json:"projectId"`
	RepositoryURL string `bun:"repository_url,notnull,unique" json:"repositoryUrl"`
}

// AssignmentStore persists agent-event assignments and project/repo links.
type AssignmentStore struct {
	db bun.IDB
}

// NewAssignmentStore builds an AssignmentStore.
func NewAssignmentStore(db bun.IDB) *AssignmentStore {
	return &AssignmentStore{db: db}
}

// ProjectIDForRepository resolves a repository URL (as GitHub sends it in
// the webhook payload) to the project whose webhooks it feeds.
func (s *AssignmentStore) ProjectIDForRepository(ctx context.Context, repositoryURL string) (string, error) {
	var link ProjectRepoLink
	err := s.db.NewSelect().Model(&link).Where("repository_url = ?", repositoryURL).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", apperror.ErrDatabase.WithInternal(err)
	}
	return link.ProjectID, nil
}

// ListForProjectEvent returns every assignment a project has registered for
// an event type, the candidate set matches filters down further.
func (s *AssignmentStore) ListForProjectEvent(ctx context.Context, projectID, eventType string) ([]AgentEventAssignment, error) {
	var assignments []AgentEventAssignment
	err := s.db.NewSelect().Model(&assignments).
		Where("project_id = ?", projectID).
		Where("event_type = ?", eventType).
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return assignments, nil
}

// matchContext is the subset of a webhook payload assignment filters run
// against, gathered once per event regardless of event type.
type matchContext struct {
	action       string
	labels       []string
	changedFiles []string
	author       string
}

// matches reports whether assignment accepts ctx, applying every configured
// filter as an AND: an assignment with no filters of a given kind accepts
// everything on that axis.
func (a AgentEventAssignment) matches(ctx matchContext) bool {
	if a.Action != nil && *a.Action != "" && *a.Action != ctx.action {
		return false
	}
	if len(a.Labels) > 0 && !anyLabelMatches(a.Labels, ctx.labels) {
		return false
	}
	if len(a.FilePatterns) > 0 && !anyFileMatches(a.FilePatterns, ctx.changedFiles) {
		return false
	}
	if len(a.Authors) > 0 && !authorMatches(a.Authors, ctx.author) {
		return false
	}
	return true
}

func anyLabelMatches(want, have []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, l := range have {
		set[l] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}

func anyFileMatches(patterns, files []string) bool {
	for _, f := range files {
		for _, p := range patterns {
			if ok, _ := filepath.Match(p, f); ok {
				return true
			}
		}
	}
	return false
}

// authorMatches applies an inclusive pattern list where a leading "!"
// excludes: the sender must match at least one non-excluding pattern and
// none of the excluding ones.
func authorMatches(patterns []string, sender string) bool {
	matchedInclude := false
	hasInclude := false
	for _, p := range patterns {
		if strings.HasPrefix(p, "!") {
			if ok, _ := filepath.Match(p[1:], sender); ok {
				return false
			}
			continue
		}
		hasInclude = true
		if ok, _ := filepath.Match(p, sender); ok {
			matchedInclude = true
		}
	}
	if !hasInclude {
		return true
	}
	return matchedInclude
}
