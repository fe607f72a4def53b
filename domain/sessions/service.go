package sessions

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/djinnbot/core/pkg/apperror"
	"github.com/djinnbot/core/pkg/bus"
	"github.com/djinnbot/core/pkg/logger"
	"github.com/djinnbot/core/pkg/sse"
)

const heartbeatInterval = 20 * time.Second

// Frame is one SSE frame a subscriber should write: an event name plus its
// JSON-serialisable payload.
type Frame struct {
	Event string
	Data  any
}

// streamPayload is the wire shape appended to a session's replay stream and
// published on its live channel.
type streamPayload struct {
	Type sse.SessionEventType `json:"type"`
	Data json.RawMessage      `json:"data,omitempty"`
}

// Service implements the session event router (C5): it bridges the
// replayable stream with the live pub/sub channel per session.
type Service struct {
	b            bus.Bus
	repo         *Repository
	queueSize    int
	streamMaxLen int64
	log          *slog.Logger
}

// NewService builds a Service. queueSize and streamMaxLen come from
// BusConfig.SessionQueueSize / BusConfig.StreamMaxLen.
func NewService(b bus.Bus, repo *Repository, queueSize int, streamMaxLen int64, log *slog.Logger) *Service {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Service{b: b, repo: repo, queueSize: queueSize, streamMaxLen: streamMaxLen, log: log.With(logger.Scope("sessions"))}
}

// Publish appends/broadcasts an event for a session. Structural event types
// are durably appended to the replay stream AND broadcast live; token-level
// types (thinking, output) are broadcast live only.
func (s *Service) Publish(ctx context.Context, sessionID string, evtType sse.SessionEventType, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(streamPayload{Type: evtType, Data: raw})
	if err != nil {
		return err
	}

	if sse.IsStructural(evtType) {
		fields := map[string]string{"type": string(evtType), "data": string(raw)}
		if _, err := s.b.AppendStream(ctx, bus.SessionStream(sessionID), fields, s.streamMaxLen); err != nil {
			return apperror.ErrBusUnavailable.WithInternal(err)
		}
		if s.repo != nil {
			if err := s.repo.Touch(ctx, sessionID, 1); err != nil {
				s.log.Warn("session touch failed", slog.String("session_id", sessionID), logger.Error(err))
			}
		}
	}

	if err := s.b.Publish(ctx, bus.SessionChannel(sessionID), payload); err != nil {
		return apperror.ErrBusUnavailable.WithInternal(err)
	}
	return nil
}

// Subscribe replays everything after since (bus.Zero for the full history),
// then forwards live traffic on the session's channel until ctx is
// cancelled. The returned channel is closed when the subscription ends.
//
// Back-pressure: if the consumer falls behind enough to fill the bounded
// output channel, the subscription is torn down and a disconnect frame
// with reason=backpressure is pushed as the final frame before close.
func (s *Service) Subscribe(ctx context.Context, sessionID string, since bus.StreamID) (<-chan Frame, error) {
	out := make(chan Frame, s.queueSize)

	entries, err := s.b.Range(ctx, bus.SessionStream(sessionID), since, bus.PositiveInfinity)
	if err != nil {
		return nil, apperror.ErrBusUnavailable.WithInternal(err)
	}

	sub, err := s.b.Subscribe(ctx, bus.SessionChannel(sessionID))
	if err != nil {
		return nil, apperror.ErrBusUnavailable.WithInternal(err)
	}

	lastID := since
	go func() {
		defer close(out)
		defer sub.Close()

		for _, e := range entries {
			if !sendFrame(out, Frame{Event: e.Fields["type"], Data: json.RawMessage(e.Fields["data"])}) {
				return
			}
			lastID = e.ID
		}

		if !sendFrame(out, Frame{Event: string(sse.EventConnected), Data: sse.NewConnectedEvent(string(lastID))}) {
			return
		}

		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !sendFrame(out, Frame{Event: string(sse.EventHeartbeat), Data: map[string]string{"ts": time.Now().UTC().Format(time.RFC3339)}}) {
					return
				}
			case raw, ok := <-ch:
				if !ok {
					return
				}
				var p streamPayload
				if err := json.Unmarshal(raw, &p); err != nil {
					s.log.Warn("dropping malformed session payload", slog.String("session_id", sessionID), logger.Error(err))
					continue
				}
				if !sendFrame(out, Frame{Event: string(p.Type), Data: p.Data}) {
					return
				}
			}
		}
	}()

	return out, nil
}

// sendFrame is a non-blocking send: on a full buffer it pushes a
// backpressure disconnect frame (best-effort) and reports false so the
// caller tears the subscription down instead of stalling every other
// subscriber behind a slow one.
func sendFrame(out chan<- Frame, f Frame) bool {
	select {
	case out <- f:
		return true
	default:
		select {
		case out <- Frame{Event: "disconnect", Data: sse.NewDisconnectEvent(sse.DisconnectBackpressure)}:
		default:
		}
		return false
	}
}
