package agents

import (
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/assert"
)

func TestValidateToolContractsRejectsMissingName(t *testing.T) {
	err := ValidateToolContracts([]ToolContract{{Description: "no name"}})
	assert.Error(t, err)
}

func TestValidateToolContractsRejectsDuplicateNames(t *testing.T) {
	err := ValidateToolContracts([]ToolContract{
		{Name: "search", Description: "first"},
		{Name: "search", Description: "second"},
	})
	assert.Error(t, err)
}

func TestValidateToolContractsAcceptsWellFormedSchema(t *testing.T) {
	err := ValidateToolContracts([]ToolContract{
		{
			Name:        "search",
			Description: "search the knowledge base",
			Params: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"query": {Type: "string"},
				},
				Required: []string{"query"},
			},
		},
	})
	assert.NoError(t, err)
}

func TestToolContractAsMCPTool(t *testing.T) {
	c := ToolContract{Name: "search", Description: "search the knowledge base"}
	tool := c.AsMCPTool()
	assert.Equal(t, "search", tool.Name)
}
