package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefinitionStepLookup(t *testing.T) {
	def := &WorkflowDefinition{
		Steps: []WorkflowStep{
			{ID: "new-series"},
			{ID: "generate-outline"},
		},
	}

	step := def.Step("generate-outline")
	require.NotNil(t, step)
	assert.Equal(t, "generate-outline", step.ID)
	assert.Nil(t, def.Step("ghost"))

	// Lookup returns a pointer into the slice, not a copy.
	step.Name = "renamed"
	assert.Equal(t, "renamed", def.Steps[1].Name)
}

func TestStepJSONShape(t *testing.T) {
	step := WorkflowStep{
		ID:       "draft-chapter",
		Name:     "Draft chapter",
		PluginID: "authoring",
		Action:   "draft",
		Config: map[string]any{
			"outlineId": "{{generate-outline.outlineId}}",
		},
		OutputMapping: map[string]string{"draftId": "$.result.draftId"},
	}

	raw, err := json.Marshal(step)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "authoring", decoded["plugin_id"])
	assert.Equal(t, "draft", decoded["action"])
	mapping := decoded["output_mapping"].(map[string]any)
	assert.Equal(t, "$.result.draftId", mapping["draftId"])
}
