package runs

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PipelineDef is the on-disk shape of a pipeline definition file: a named
// sequence of steps, each naming the agent responsible for it. The engine
// that actually executes steps owns the full schema; the dispatcher only
// needs enough structure to validate a pipeline-id reference and resolve a
// step's agent for bookkeeping.
type PipelineDef struct {
	ID    string             `yaml:"id"`
	Name  string             `yaml:"name"`
	Steps []PipelineStepDef  `yaml:"steps"`
}

// PipelineStepDef is one step entry within a PipelineDef.
type PipelineStepDef struct {
	ID      string `yaml:"id"`
	AgentID string `yaml:"agent"`
}

// loadPipeline parses a pipeline definition file off disk. A malformed file
// is treated the same as a missing one by the caller (PipelineNotFound),
// since an unparsable pipeline can't be dispatched either way.
func loadPipeline(path string) (*PipelineDef, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var def PipelineDef
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("parse pipeline %s: %w", path, err)
	}
	return &def, nil
}
