package runs

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/djinnbot/core/internal/config"
	"github.com/djinnbot/core/internal/layout"
	"github.com/djinnbot/core/pkg/bus"
)

// Module provides the run dispatcher (C3): run creation and state
// transitions, SSE replay/live fan-out per run, and the reconciler that
// drives both from the global event bus.
var Module = fx.Module("runs",
	fx.Provide(
		NewRepository,
		newService,
		NewReconciler,
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
	fx.Invoke(startReconciler),
)

// newService adapts the bound Bus config field to NewService's explicit
// queueSize parameter, keeping NewService itself easy to construct directly
// in tests without pulling in *config.Config.
func newService(cfg *config.Config, b bus.Bus, repo *Repository, lo *layout.Layout, log *slog.Logger) *Service {
	return NewService(b, repo, lo, cfg.Bus.SessionQueueSize, log)
}

// startReconciler hooks the reconcile loop's Start/Stop into the fx
// lifecycle so it runs for the life of the process.
func startReconciler(lc fx.Lifecycle, rec *Reconciler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return rec.Start(context.Background())
		},
		OnStop: func(ctx context.Context) error {
			return rec.Stop(ctx)
		},
	})
}
