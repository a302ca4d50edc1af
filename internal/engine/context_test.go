package engine

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunContextMerge(t *testing.T) {
	rc := NewRunContext()
	rc.Merge(nil, "step-1", map[string]any{"seriesId": "S1", "name": "My Series"})
	rc.Merge(nil, "step-2", map[string]any{"outlineId": "O1"})

	// Interpolation view is qualified by step ID.
	assert.Equal(t, "S1", rc.Vars()["step-1.seriesId"])
	assert.Equal(t, "My Series", rc.Vars()["step-1.name"])
	assert.Equal(t, "O1", rc.Vars()["step-2.outlineId"])

	// Flat snapshot uses the declared output names.
	snap := rc.Snapshot()
	assert.Equal(t, map[string]any{
		"seriesId":  "S1",
		"name":      "My Series",
		"outlineId": "O1",
	}, snap)
	assert.Equal(t, 3, rc.Len())
}

func TestRunContextLastWriteWins(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	rc := NewRunContext()
	rc.Merge(logger, "step-1", map[string]any{"id": "first"})
	rc.Merge(logger, "step-2", map[string]any{"id": "second"})

	// Flat key collides last-write-wins, with a warning; qualified keys
	// stay distinct.
	assert.Equal(t, "second", rc.Snapshot()["id"])
	assert.Equal(t, "first", rc.Vars()["step-1.id"])
	assert.Equal(t, "second", rc.Vars()["step-2.id"])
	assert.Contains(t, buf.String(), "context key overwritten")
}

func TestRunContextSnapshotIsCopy(t *testing.T) {
	rc := NewRunContext()
	rc.Merge(nil, "step-1", map[string]any{"k": "v"})

	snap := rc.Snapshot()
	snap["k"] = "mutated"
	assert.Equal(t, "v", rc.Snapshot()["k"])
}

func TestRunContextSameStepRewriteIsQuiet(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	rc := NewRunContext()
	rc.Merge(logger, "step-1", map[string]any{"id": "a"})
	rc.Merge(logger, "step-1", map[string]any{"id": "b"})

	assert.Equal(t, "b", rc.Snapshot()["id"])
	assert.NotContains(t, buf.String(), "context key overwritten")
}
