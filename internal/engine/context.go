package engine

import (
	"log/slog"
)

// RunContext is the accumulator of resolved variables for one run. It is
// exclusively owned by the run's step loop and never shared between runs.
//
// Two views are maintained: interpolation variables keyed "stepId.key"
// (what {{stepId.key}} references resolve against) and a flat snapshot
// keyed by the declared output-mapping name (what is persisted on the run
// record). Both grow monotonically; neither ever shrinks.
type RunContext struct {
	vars     map[string]any
	snapshot map[string]any
	owners   map[string]string // flat key -> step that last wrote it
}

// NewRunContext returns an empty run context.
func NewRunContext() *RunContext {
	return &RunContext{
		vars:     make(map[string]any),
		snapshot: make(map[string]any),
		owners:   make(map[string]string),
	}
}

// Merge records the extracted outputs of a completed step. Interpolation
// keys are qualified by the step ID and cannot collide; flat snapshot keys
// are chosen by the step author and collide last-write-wins, with a
// warning when a later step overwrites another step's key.
func (rc *RunContext) Merge(logger *slog.Logger, stepID string, outputs map[string]any) {
	for key, val := range outputs {
		rc.vars[stepID+"."+key] = val
		if prev, ok := rc.owners[key]; ok && prev != stepID && logger != nil {
			logger.Warn("context key overwritten",
				slog.String("key", key),
				slog.String("previous_step", prev),
				slog.String("step", stepID))
		}
		rc.snapshot[key] = val
		rc.owners[key] = stepID
	}
}

// Vars returns the interpolation view (qualified stepId.key names).
func (rc *RunContext) Vars() map[string]any {
	return rc.vars
}

// Snapshot returns a copy of the flat context for persistence.
func (rc *RunContext) Snapshot() map[string]any {
	out := make(map[string]any, len(rc.snapshot))
	for k, v := range rc.snapshot {
		out[k] = v
	}
	return out
}

// Len reports the number of flat context keys.
func (rc *RunContext) Len() int {
	return len(rc.snapshot)
}
