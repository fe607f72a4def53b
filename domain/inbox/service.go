package inbox

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/djinnbot/core/pkg/apperror"
	"github.com/djinnbot/core/pkg/bus"
	"github.com/djinnbot/core/pkg/logger"
)

// Service implements the inter-agent inbox (C7): durable ordered messages
// delivered over a bus stream per recipient, with a single last-read cursor
// deciding the read/unread boundary.
type Service struct {
	b   bus.Bus
	log *slog.Logger
}

// NewService builds a Service.
func NewService(b bus.Bus, log *slog.Logger) *Service {
	return &Service{b: b, log: log.With(logger.Scope("inbox"))}
}

// Send appends a message to toAgent's inbox stream and returns its stream id
// as the message id.
func (s *Service) Send(ctx context.Context, toAgent string, req SendRequest) (string, error) {
	if req.Type == "" {
		req.Type = TypeInfo
	}
	if req.Priority == "" {
		req.Priority = PriorityNormal
	}
	now := time.Now()

	fields := map[string]string{
		"from":      req.From,
		"to":        toAgent,
		"message":   req.Body,
		"type":      string(req.Type),
		"priority":  string(req.Priority),
		"timestamp": strconv.FormatInt(now.UnixMilli(), 10),
	}
	if req.FromAgentID != "" {
		fields["fromAgentId"] = req.FromAgentID
	}
	if req.Subject != "" {
		fields["subject"] = req.Subject
	}
	if req.RunContext != "" {
		fields["metadata_runContext"] = req.RunContext
	}
	if req.StepContext != "" {
		fields["metadata_stepContext"] = req.StepContext
	}

	id, err := s.b.AppendStream(ctx, bus.AgentInbox(toAgent), fields, 0)
	if err != nil {
		return "", apperror.ErrBusUnavailable.WithInternal(err)
	}
	return string(id), nil
}

// List ranges the full inbox stream, computes read/unread against the
// last-read cursor, applies filter in application code (the stream carries
// no type index), and paginates newest-first.
func (s *Service) List(ctx context.Context, agentID string, filter Filter, limit, offset int) (*ListResult, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	entries, err := s.b.Range(ctx, bus.AgentInbox(agentID), bus.Zero, bus.PositiveInfinity)
	if err != nil {
		return nil, apperror.ErrBusUnavailable.WithInternal(err)
	}

	lastRead, err := s.lastReadID(ctx, agentID)
	if err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(entries))
	unread := 0
	for _, e := range entries {
		msg := toMessage(e, agentID)
		if lastRead != "" {
			msg.Read = bus.StreamID(msg.ID).Compare(bus.StreamID(lastRead)) <= 0
		}
		if !msg.Read {
			unread++
		}
		messages = append(messages, msg)
	}

	// newest first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	filtered := make([]Message, 0, len(messages))
	for _, m := range messages {
		if !passesFilter(m, filter) {
			continue
		}
		filtered = append(filtered, m)
	}

	total := len(filtered)
	end := offset + limit
	if offset > total {
		offset = total
	}
	if end > total {
		end = total
	}
	return &ListResult{
		Messages:    filtered[offset:end],
		UnreadCount: unread,
		TotalCount:  total,
		HasMore:     end < total,
	}, nil
}

func passesFilter(m Message, filter Filter) bool {
	switch filter {
	case FilterUnread:
		return !m.Read
	case FilterUrgent:
		return m.Priority == PriorityUrgent
	case FilterReviewRequest:
		return m.Type == TypeReviewRequest
	case FilterHelpRequest:
		return m.Type == TypeHelpRequest
	default:
		return true
	}
}

// MarkRead advances the last-read cursor to the maximum of its current
// value and the highest id in messageIDs — the single cursor is the entire
// read/unread boundary, there's no per-message read flag.
func (s *Service) MarkRead(ctx context.Context, agentID string, messageIDs []string) (int, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	highest := bus.StreamID(messageIDs[0])
	for _, id := range messageIDs[1:] {
		highest = highest.Max(bus.StreamID(id))
	}

	current, err := s.lastReadID(ctx, agentID)
	if err != nil {
		return 0, err
	}
	if current == "" || highest.After(bus.StreamID(current)) {
		if err := s.b.Set(ctx, bus.AgentInboxLastRead(agentID), []byte(highest.String()), 0); err != nil {
			return 0, apperror.ErrBusUnavailable.WithInternal(err)
		}
	}
	return len(messageIDs), nil
}

// Clear deletes an agent's inbox stream and last-read cursor. Requires
// confirm=true from the caller (the handler enforces this before calling).
func (s *Service) Clear(ctx context.Context, agentID string) error {
	if err := s.b.Delete(ctx, bus.AgentInbox(agentID), bus.AgentInboxLastRead(agentID)); err != nil {
		return apperror.ErrBusUnavailable.WithInternal(err)
	}
	return nil
}

func (s *Service) lastReadID(ctx context.Context, agentID string) (string, error) {
	raw, ok, err := s.b.Get(ctx, bus.AgentInboxLastRead(agentID))
	if err != nil {
		return "", apperror.ErrBusUnavailable.WithInternal(err)
	}
	if !ok {
		return "", nil
	}
	return string(raw), nil
}

func toMessage(e bus.StreamEntry, agentID string) Message {
	ts, _ := strconv.ParseInt(e.Fields["timestamp"], 10, 64)
	return Message{
		ID:          string(e.ID),
		From:        e.Fields["from"],
		FromAgentID: e.Fields["fromAgentId"],
		To:          agentID,
		Type:        MessageType(defaultStr(e.Fields["type"], string(TypeInfo))),
		Priority:    Priority(defaultStr(e.Fields["priority"], string(PriorityNormal))),
		Subject:     e.Fields["subject"],
		Body:        e.Fields["message"],
		RunContext:  e.Fields["metadata_runContext"],
		StepContext: e.Fields["metadata_stepContext"],
		Timestamp:   time.UnixMilli(ts),
	}
}

func defaultStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
