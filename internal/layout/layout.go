// Package layout centralises the filesystem roots the core touches for
// agent personas, vaults, sandboxes, and cookie jars — the "ambient
// filesystem layout" design note calls for a single typed resolver instead
// of ad hoc os.Getenv calls scattered at use sites.
package layout

import (
	"path/filepath"

	"go.uber.org/fx"

	"github.com/djinnbot/core/internal/config"
)

// Module provides the Layout resolver.
var Module = fx.Module("layout",
	fx.Provide(NewLayout),
)

// Layout resolves well-known per-agent paths against the configured roots.
// Every call site that needs one of these paths goes through here rather
// than reading an env var directly, so a future cross-mount translation
// (a different path prefix as seen by another process) has exactly one
// place to live.
type Layout struct {
	agentsDir    string
	vaultsDir    string
	dataPath     string
	pipelinesDir string
}

// NewLayout builds a Layout from LayoutConfig.
func NewLayout(cfg *config.Config) *Layout {
	return &Layout{
		agentsDir:    cfg.Layout.AgentsDir,
		vaultsDir:    cfg.Layout.VaultsDir,
		dataPath:     cfg.Layout.DataPath,
		pipelinesDir: cfg.Layout.PipelinesDir,
	}
}

// NewLayoutFromDirs builds a Layout directly from roots, for tests that
// don't want to construct a full *config.Config.
func NewLayoutFromDirs(agentsDir, vaultsDir, dataPath, pipelinesDir string) *Layout {
	return &Layout{agentsDir: agentsDir, vaultsDir: vaultsDir, dataPath: dataPath, pipelinesDir: pipelinesDir}
}

// PersonaFile resolves one of an agent's persona files (IDENTITY.md,
// SOUL.md, AGENTS.md, DECISION.md).
func (l *Layout) PersonaFile(agentID, name string) string {
	return filepath.Join(l.agentsDir, agentID, name)
}

// VaultRoot resolves the root of an agent's markdown vault.
func (l *Layout) VaultRoot(agentID string) string {
	return filepath.Join(l.vaultsDir, agentID)
}

// SandboxRoot resolves the root of an agent's sandbox working directory.
func (l *Layout) SandboxRoot(agentID string) string {
	return filepath.Join(l.dataPath, "sandboxes", agentID)
}

// CookieFile resolves a browser-cookie storage file for an agent.
func (l *Layout) CookieFile(agentID, filename string) string {
	return filepath.Join(l.dataPath, "cookies", agentID, filename)
}

// PipelineFile resolves a pipeline definition file by id, trying the two
// extensions pipeline authors commonly use. Returns the first path that
// actually exists on disk, and false if neither does.
func (l *Layout) PipelineFile(pipelineID string) (string, bool) {
	for _, ext := range []string{".yml", ".yaml"} {
		p := filepath.Join(l.pipelinesDir, pipelineID+ext)
		if fileExists(p) {
			return p, true
		}
	}
	return "", false
}

// PipelinesDir returns the configured pipeline-definitions root.
func (l *Layout) PipelinesDir() string {
	return l.pipelinesDir
}
