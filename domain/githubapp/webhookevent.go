package githubapp

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"github.com/djinnbot/core/pkg/apperror"
)

// WebhookEvent is the durable record of one inbound delivery, persisted
// before routing so a crash between verification and routing can be replayed
// at startup instead of silently dropping the event.
type WebhookEvent struct {
	bun.BaseModel `bun:"table:core.webhook_events,alias:we"`

	ID              string          `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	DeliveryID      string          `bun:"delivery_id,notnull,unique" json:"deliveryId"`
	EventType       string          `bun:"event_type,notnull" json:"eventType"`
	Action          string          `bun:"action" json:"action,omitempty"`
	Repository      string          `bun:"repository" json:"repository,omitempty"`
	InstallationID  *int64          `bun:"installation_id" json:"installationId,omitempty"`
	Payload         json.RawMessage `bun:"payload,type:jsonb,notnull" json:"-"`
	Verified        bool            `bun:"verified,notnull,default:false" json:"verified"`
	Processed       bool            `bun:"processed,notnull,default:false" json:"processed"`
	ProcessedAt     *time.Time      `bun:"processed_at" json:"processedAt,omitempty"`
	ProcessingError *string         `bun:"processing_error" json:"processingError,omitempty"`
	CreatedAt       time.Time       `bun:"created_at,default:now()" json:"createdAt"`
}

// EventStore persists webhook deliveries and their routing outcome.
type EventStore struct {
	db bun.IDB
}

// NewEventStore builds an EventStore.
func NewEventStore(db bun.IDB) *EventStore {
	return &EventStore{db: db}
}

// Create inserts a new delivery record.
func (s *EventStore) Create(ctx context.Context, evt *WebhookEvent) error {
	if _, err := s.db.NewInsert().Model(evt).Exec(ctx); err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// GetByID fetches a single delivery by its row id.
func (s *EventStore) GetByID(ctx context.Context, id string) (*WebhookEvent, error) {
	var evt WebhookEvent
	err := s.db.NewSelect().Model(&evt).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrNotFound.WithMessage("webhook event not found")
		}
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return &evt, nil
}

// List returns the most recent deliveries, newest first, for the audit
// endpoint (GET /v1/webhooks/events).
func (s *EventStore) List(ctx context.Context, limit, offset int) ([]WebhookEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var events []WebhookEvent
	err := s.db.NewSelect().Model(&events).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return events, nil
}

// ListUnprocessed returns every delivery that never reached
// processed=true, the set a startup replay scan re-feeds into routing.
func (s *EventStore) ListUnprocessed(ctx context.Context) ([]WebhookEvent, error) {
	var events []WebhookEvent
	err := s.db.NewSelect().Model(&events).
		Where("processed = false").
		Where("verified = true").
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return events, nil
}

// MarkProcessed commits the "we've finished routing this delivery" point.
func (s *EventStore) MarkProcessed(ctx context.Context, id string) error {
	now := time.Now()
	_, err := s.db.NewUpdate().Model((*WebhookEvent)(nil)).
		Set("processed = true").
		Set("processed_at = ?", now).
		Set("processing_error = NULL").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// MarkFailed records a routing failure without setting processed, so the
// delivery remains eligible for replay (manual or startup-scan).
func (s *EventStore) MarkFailed(ctx context.Context, id string, routeErr error) error {
	msg := routeErr.Error()
	_, err := s.db.NewUpdate().Model((*WebhookEvent)(nil)).
		Set("processing_error = ?", msg).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}
