package agents

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	fcmodels "github.com/firecracker-microvm/firecracker-go-sdk/client/models"

	"github.com/djinnbot/core/pkg/apperror"
	"github.com/djinnbot/core/pkg/bus"
	"github.com/djinnbot/core/pkg/logger"
)

// SandboxBackend names which isolation mechanism a sandbox runtime reported
// using, for the two backends the agent runtime is known to support.
type SandboxBackend string

const (
	BackendDocker      SandboxBackend = "docker"
	BackendFirecracker SandboxBackend = "firecracker"
)

// ContainerHandle is the bookkeeping record for one agent's sandbox: which
// backend is running it, its container/VM id, and the last state the
// runtime reported. The orchestration core never drives the container or
// microVM lifecycle itself — that is the (out-of-core) agent runtime's job
// — so this struct carries only enough of each backend's own vocabulary to
// render status, not enough to control it.
type ContainerHandle struct {
	AgentID     string                         `json:"agentId"`
	Backend     SandboxBackend                 `json:"backend"`
	ContainerID string                         `json:"containerId"`
	DockerState *dockercontainer.State         `json:"dockerState,omitempty"`
	VMConfig    *fcmodels.MachineConfiguration `json:"vmConfig,omitempty"`
	UpdatedAt   time.Time                      `json:"updatedAt"`
}

// ContainerService persists each agent's latest sandbox bookkeeping in C2,
// the same non-durable state store LifecycleState lives in — the handle is
// a snapshot of what the runtime last reported, not a source of truth the
// core reconstructs after a crash.
type ContainerService struct {
	b   bus.Bus
	log *slog.Logger
}

// NewContainerService builds a ContainerService.
func NewContainerService(b bus.Bus, log *slog.Logger) *ContainerService {
	return &ContainerService{b: b, log: log.With(logger.Scope("agents.container"))}
}

// ReportDocker records a docker-backed sandbox's latest container id and
// state, as reported by the runtime after a container start/stop/inspect.
func (s *ContainerService) ReportDocker(ctx context.Context, agentID, containerID string, state *dockercontainer.State) error {
	return s.save(ctx, &ContainerHandle{
		AgentID:     agentID,
		Backend:     BackendDocker,
		ContainerID: containerID,
		DockerState: state,
		UpdatedAt:   time.Now(),
	})
}

// ReportFirecracker records a Firecracker-backed sandbox's latest microVM
// id and machine configuration, as reported by the runtime after a VM
// start/stop.
func (s *ContainerService) ReportFirecracker(ctx context.Context, agentID, vmID string, cfg *fcmodels.MachineConfiguration) error {
	return s.save(ctx, &ContainerHandle{
		AgentID:     agentID,
		Backend:     BackendFirecracker,
		ContainerID: vmID,
		VMConfig:    cfg,
		UpdatedAt:   time.Now(),
	})
}

func (s *ContainerService) save(ctx context.Context, h *ContainerHandle) error {
	raw, err := json.Marshal(h)
	if err != nil {
		return apperror.ErrInternal.WithInternal(err)
	}
	if err := s.b.Set(ctx, bus.AgentState(h.AgentID)+":sandbox", raw, 0); err != nil {
		s.log.Error("failed to persist container handle", logger.Error(err), slog.String("agent_id", h.AgentID))
		return apperror.ErrBusUnavailable.WithInternal(err)
	}
	return nil
}

// Get returns an agent's last-reported sandbox handle, or nil if the
// runtime has never reported one.
func (s *ContainerService) Get(ctx context.Context, agentID string) (*ContainerHandle, error) {
	raw, ok, err := s.b.Get(ctx, bus.AgentState(agentID)+":sandbox")
	if err != nil {
		return nil, apperror.ErrBusUnavailable.WithInternal(err)
	}
	if !ok {
		return nil, nil
	}
	var h ContainerHandle
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, apperror.ErrInternal.WithInternal(err)
	}
	return &h, nil
}
