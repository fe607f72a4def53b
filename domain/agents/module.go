package agents

import (
	"go.uber.org/fx"

	"github.com/djinnbot/core/domain/scheduler"
)

// Module provides the agent lifecycle controller (C4): CRUD over agent
// definitions, the C2-backed lifecycle/work-lock/guardrail services, and the
// pulse scheduler that drives autonomous wakes.
var Module = fx.Module("agents",
	fx.Provide(
		NewRepository,
		NewWorkLockService,
		NewGuardrailService,
		NewLifecycleService,
		NewContainerService,
		NewSessionWatcher,
		NewPulseDriver,
		NewHandler,
	),
	fx.Invoke(
		RegisterRoutes,
		registerPulseDriver,
	),
)

// registerPulseDriver schedules the pulse driver's recurring tick on the
// shared scheduler once fx has built both.
func registerPulseDriver(sched *scheduler.Scheduler, driver *PulseDriver) error {
	return driver.Register(sched)
}
