package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/storyforge/weft/pkg/schema"
)

func TestValidRunTransitions(t *testing.T) {
	valid := []struct {
		from, to schema.RunStatus
	}{
		{schema.RunStatusPending, schema.RunStatusRunning},
		{schema.RunStatusPending, schema.RunStatusCancelled},
		{schema.RunStatusRunning, schema.RunStatusCompleted},
		{schema.RunStatusRunning, schema.RunStatusFailed},
		{schema.RunStatusRunning, schema.RunStatusCancelled},
	}
	for _, tc := range valid {
		assert.NoError(t, Transition("run-1", tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestInvalidRunTransitions(t *testing.T) {
	invalid := []struct {
		from, to schema.RunStatus
	}{
		{schema.RunStatusPending, schema.RunStatusCompleted},
		{schema.RunStatusPending, schema.RunStatusFailed},
		{schema.RunStatusCompleted, schema.RunStatusRunning},
		{schema.RunStatusFailed, schema.RunStatusRunning},
		{schema.RunStatusCancelled, schema.RunStatusRunning},
		{schema.RunStatusCompleted, schema.RunStatusFailed},
		{schema.RunStatusRunning, schema.RunStatusPending},
	}
	for _, tc := range invalid {
		err := Transition("run-1", tc.from, tc.to)
		assert.Equal(t, schema.ErrCodeInvalidTransition, schema.CodeOf(err), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStatesAcceptNothing(t *testing.T) {
	for _, terminal := range []schema.RunStatus{
		schema.RunStatusCompleted, schema.RunStatusFailed, schema.RunStatusCancelled,
	} {
		assert.Empty(t, ValidRunTransitions[terminal])
		assert.True(t, terminal.Terminal())
	}
	assert.False(t, schema.RunStatusPending.Terminal())
	assert.False(t, schema.RunStatusRunning.Terminal())
}
