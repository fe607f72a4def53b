package agents

import (
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/djinnbot/core/pkg/apperror"
)

// ToolContract is the declared shape of one tool a sandboxed agent runtime
// exposes to its model: a name/description pair plus the JSON Schema its
// call arguments must satisfy. The core never invokes the tool — execution
// happens entirely inside the black-box container — this is metadata only,
// recorded at agent configuration time so an assignment or review surface
// can display what an agent is capable of calling.
type ToolContract struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Params      *jsonschema.Schema `json:"params,omitempty"`
}

// AsMCPTool renders the contract as an mcp.Tool, the shape the (out-of-core)
// agent runtime's MCP client ultimately expects when listing tools.
func (c ToolContract) AsMCPTool() mcp.Tool {
	return mcp.NewTool(c.Name, mcp.WithDescription(c.Description))
}

// ValidateToolContracts checks that every declared tool has a name and a
// structurally valid parameter schema (when one is given), rejecting a
// malformed contract at configuration time rather than at the moment the
// runtime tries to use it.
func ValidateToolContracts(contracts []ToolContract) error {
	seen := make(map[string]bool, len(contracts))
	for _, c := range contracts {
		if c.Name == "" {
			return apperror.ErrBadRequest.WithMessage("tool contract name is required")
		}
		if seen[c.Name] {
			return apperror.ErrBadRequest.WithMessage("duplicate tool contract name: " + c.Name)
		}
		seen[c.Name] = true
		if c.Params != nil {
			if _, err := c.Params.Resolve(nil); err != nil {
				return apperror.ErrBadRequest.WithMessage("tool " + c.Name + " has an invalid parameter schema").WithInternal(err)
			}
		}
	}
	return nil
}
