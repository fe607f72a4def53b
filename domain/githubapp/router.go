package githubapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/djinnbot/core/domain/tasks"
	"github.com/djinnbot/core/pkg/apperror"
	"github.com/djinnbot/core/pkg/bus"
	"github.com/djinnbot/core/pkg/logger"
	"github.com/djinnbot/core/pkg/metrics"
)

// genericEventPayload extracts the fields assignment matching and the
// project lookup need, independent of the specific event schema.
type genericEventPayload struct {
	Action     string `json:"action"`
	Repository struct {
		HTMLURL string `json:"html_url"`
	} `json:"repository"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
	Installation struct {
		ID int64 `json:"id"`
	} `json:"installation"`
	Label struct {
		Name string `json:"name"`
	} `json:"label"`
	PullRequest struct {
		Labels []struct {
			Name string `json:"name"`
		} `json:"labels"`
	} `json:"pull_request"`
	Issue struct {
		Labels []struct {
			Name string `json:"name"`
		} `json:"labels"`
	} `json:"issue"`
}

// webhookEventStore is the slice of EventStore the router needs: persist a
// delivery, and flip it through the processed/failed bookkeeping states.
type webhookEventStore interface {
	Create(ctx context.Context, evt *WebhookEvent) error
	ListUnprocessed(ctx context.Context) ([]WebhookEvent, error)
	MarkProcessed(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, routeErr error) error
}

// assignmentLookup is the slice of AssignmentStore the router needs to
// resolve a repository to a project and match candidate assignments.
type assignmentLookup interface {
	ProjectIDForRepository(ctx context.Context, repositoryURL string) (string, error)
	ListForProjectEvent(ctx context.Context, projectID, eventType string) ([]AgentEventAssignment, error)
}

// routerTaskStore is the slice of tasks.Repository the router and its
// PR-lifecycle side effects need.
type routerTaskStore interface {
	Create(ctx context.Context, t *tasks.Task) (*tasks.Task, error)
	GetStatusSemantics(ctx context.Context, projectID string) (*tasks.StatusSemantics, error)
	MoveToColumn(ctx context.Context, projectID, taskID, columnID string, position int, note string) error
	FindByPRReference(ctx context.Context, projectID string, prNumber int, prURL, gitBranch string) (*tasks.Task, error)
}

// signatureVerifier is the slice of Service the router needs to check an
// inbound delivery's HMAC signature.
type signatureVerifier interface {
	VerifyWebhookSignature(ctx context.Context, signature string, body []byte) error
}

// Router is the webhook ingress + routing consumer described by the C6
// component: it verifies and persists every delivery, publishes a minimal
// notice to webhooks:github for live observers, and then runs PR-lifecycle
// side effects followed by agent-assignment matching inline.
type Router struct {
	b           bus.Bus
	store       webhookEventStore
	assignments assignmentLookup
	tasksRepo   routerTaskStore
	rateLimiter *RateLimiter
	svc         signatureVerifier
	log         *slog.Logger
}

// NewRouter builds a Router.
func NewRouter(b bus.Bus, store *EventStore, assignments *AssignmentStore, tasksRepo *tasks.Repository, rateLimiter *RateLimiter, svc *Service, log *slog.Logger) *Router {
	return newRouter(b, store, assignments, tasksRepo, rateLimiter, svc, log)
}

// newRouter builds a Router against the narrow store/assignment/task/
// signature interfaces, letting tests substitute in-memory fakes for all
// four without touching NewRouter's fx-wired signature.
func newRouter(b bus.Bus, store webhookEventStore, assignments assignmentLookup, tasksRepo routerTaskStore, rateLimiter *RateLimiter, svc signatureVerifier, log *slog.Logger) *Router {
	return &Router{
		b:           b,
		store:       store,
		assignments: assignments,
		tasksRepo:   tasksRepo,
		rateLimiter: rateLimiter,
		svc:         svc,
		log:         log.With(logger.Scope("githubapp.router")),
	}
}

// Ingest runs ingress steps 1-5: rate limit, signature verification,
// persistence, the live notice, and (since this implementation routes
// inline rather than through a separate subscriber process) immediate
// routing with processed/processing_error bookkeeping.
func (r *Router) Ingest(ctx context.Context, deliveryID, eventType, signature string, body []byte) error {
	start := time.Now()
	defer func() { metrics.WebhookLatency.Observe(time.Since(start).Seconds()) }()

	var generic genericEventPayload
	_ = json.Unmarshal(body, &generic)

	source := "unknown"
	if generic.Installation.ID != 0 {
		source = strconv.FormatInt(generic.Installation.ID, 10)
	}
	if !r.rateLimiter.Allow(source) {
		return apperror.ErrRateLimited.WithMessage("webhook rate limit exceeded for this installation")
	}

	verifyErr := r.svc.VerifyWebhookSignature(ctx, signature, body)

	var installationID *int64
	if generic.Installation.ID != 0 {
		id := generic.Installation.ID
		installationID = &id
	}
	evt := &WebhookEvent{
		DeliveryID:     deliveryID,
		EventType:      eventType,
		Action:         generic.Action,
		Repository:     generic.Repository.HTMLURL,
		InstallationID: installationID,
		Payload:        json.RawMessage(body),
		Verified:       verifyErr == nil,
	}
	if err := r.store.Create(ctx, evt); err != nil {
		return err
	}

	if verifyErr != nil {
		r.log.Warn("webhook signature invalid", logger.Error(verifyErr), slog.String("delivery_id", deliveryID))
		return apperror.ErrSignatureInvalid
	}

	notice, _ := json.Marshal(map[string]any{
		"eventId":        evt.ID,
		"eventType":      eventType,
		"action":         generic.Action,
		"repository":     generic.Repository.HTMLURL,
		"installationId": installationID,
	})
	if err := r.b.Publish(ctx, bus.WebhooksGithub(), notice); err != nil {
		r.log.Warn("failed to publish webhook notice", logger.Error(err))
	}

	if err := r.routeEvent(ctx, evt); err != nil {
		_ = r.store.MarkFailed(ctx, evt.ID, err)
		return err
	}
	return r.store.MarkProcessed(ctx, evt.ID)
}

// ReplayUnprocessed re-routes every delivery that never committed, the
// startup recovery path for a crash between persistence and routing.
func (r *Router) ReplayUnprocessed(ctx context.Context) error {
	pending, err := r.store.ListUnprocessed(ctx)
	if err != nil {
		return err
	}
	for _, evt := range pending {
		e := evt
		if err := r.routeEvent(ctx, &e); err != nil {
			_ = r.store.MarkFailed(ctx, e.ID, err)
			r.log.Warn("replay routing failed", logger.Error(err), slog.String("delivery_id", e.DeliveryID))
			continue
		}
		if err := r.store.MarkProcessed(ctx, e.ID); err != nil {
			r.log.Warn("replay mark-processed failed", logger.Error(err))
		}
	}
	return nil
}

// RouteForReplay re-runs routing for a single delivery on demand (the
// POST /v1/webhooks/events/{id}/replay endpoint), independent of the
// startup-wide ReplayUnprocessed scan.
func (r *Router) RouteForReplay(ctx context.Context, evt *WebhookEvent) error {
	if err := r.routeEvent(ctx, evt); err != nil {
		_ = r.store.MarkFailed(ctx, evt.ID, err)
		return err
	}
	return r.store.MarkProcessed(ctx, evt.ID)
}

// routeEvent runs PR-lifecycle side effects first, then generic
// agent-assignment matching, per spec ordering.
func (r *Router) routeEvent(ctx context.Context, evt *WebhookEvent) error {
	projectID, err := r.assignments.ProjectIDForRepository(ctx, evt.Repository)
	if err != nil {
		return err
	}
	if projectID == "" {
		r.log.Debug("no project linked to repository", slog.String("repository", evt.Repository))
		return nil
	}

	if evt.EventType == "pull_request" {
		if err := r.handlePullRequestLifecycle(ctx, projectID, evt.Payload); err != nil {
			return err
		}
	}

	return r.matchAssignments(ctx, projectID, evt)
}

func (r *Router) matchAssignments(ctx context.Context, projectID string, evt *WebhookEvent) error {
	var generic genericEventPayload
	if err := json.Unmarshal(evt.Payload, &generic); err != nil {
		return fmt.Errorf("decode generic webhook payload: %w", err)
	}

	candidates, err := r.assignments.ListForProjectEvent(ctx, projectID, evt.EventType)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	mctx := matchContext{
		action: generic.Action,
		author: generic.Sender.Login,
		labels: collectLabels(generic),
	}

	for _, a := range candidates {
		if !a.matches(mctx) {
			continue
		}
		if err := r.dispatchAssignment(ctx, projectID, a, evt); err != nil {
			r.log.Error("assignment dispatch failed", logger.Error(err), slog.String("agent_id", a.AgentID))
		}
	}
	return nil
}

func (r *Router) dispatchAssignment(ctx context.Context, projectID string, a AgentEventAssignment, evt *WebhookEvent) error {
	if a.AutoRespond {
		_, err := bus.PublishGlobal(ctx, r.b, bus.EventPulseTriggered, a.AgentID, projectID, map[string]string{
			"reason":    "github_webhook",
			"eventType": evt.EventType,
		})
		return err
	}

	meta, _ := json.Marshal(map[string]string{"source": "github_webhook"})
	_, err := r.tasksRepo.Create(ctx, &tasks.Task{
		ProjectID:     projectID,
		Title:         fmt.Sprintf("%s: %s", evt.EventType, evt.Action),
		Type:          "github_event",
		Status:        "pending",
		Priority:      tasks.PriorityNormal,
		AssignedAgent: &a.AgentID,
		ColumnID:      "backlog",
		Metadata:      meta,
	})
	return err
}

func collectLabels(p genericEventPayload) []string {
	var out []string
	for _, l := range p.PullRequest.Labels {
		out = append(out, l.Name)
	}
	for _, l := range p.Issue.Labels {
		out = append(out, l.Name)
	}
	if p.Label.Name != "" {
		out = append(out, p.Label.Name)
	}
	return out
}
