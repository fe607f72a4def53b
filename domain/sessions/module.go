package sessions

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/djinnbot/core/internal/config"
	"github.com/djinnbot/core/pkg/bus"
)

// Module provides the session event router (C5): replay-then-live SSE fan-out
// per agent session, backed by the bus's stream + pub/sub primitives.
var Module = fx.Module("sessions",
	fx.Provide(
		NewRepository,
		newService,
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
)

// newService adapts the bound BusConfig fields to NewService's explicit
// queueSize/streamMaxLen parameters, keeping NewService itself easy to
// construct directly in tests without pulling in *config.Config.
func newService(cfg *config.Config, b bus.Bus, repo *Repository, log *slog.Logger) *Service {
	return NewService(b, repo, cfg.Bus.SessionQueueSize, cfg.Bus.StreamMaxLen, log)
}
