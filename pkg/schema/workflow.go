package schema

import "time"

// WorkflowStatus is the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"
	WorkflowStatusActive   WorkflowStatus = "active"
	WorkflowStatusArchived WorkflowStatus = "archived"
)

// TargetType scopes a workflow to an authoring entity.
type TargetType string

const (
	TargetSeries  TargetType = "series"
	TargetBook    TargetType = "book"
	TargetChapter TargetType = "chapter"
	TargetGlobal  TargetType = "global"
)

// WorkflowDefinition is the persisted, step-based workflow format.
// The authoring collaborator creates and edits definitions; the engine
// only reads them, except for the aggregate counters and last-run fields
// which the executor updates after each run finalizes.
type WorkflowDefinition struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	TargetType  TargetType     `json:"target_type,omitempty"`
	TargetID    string         `json:"target_id,omitempty"`
	Steps       []WorkflowStep `json:"steps"`
	Status      WorkflowStatus `json:"status"`
	Version     int            `json:"version"`
	AutoRun     bool           `json:"auto_run"`
	Schedule    string         `json:"schedule,omitempty"`    // cron expression, required when AutoRun
	NextRunAt   *time.Time     `json:"next_run_at,omitempty"` // scheduler bookkeeping, maintained by the scheduler only

	// Aggregates, mutated only by the executor on run finalization.
	RunCount      int        `json:"run_count"`
	SuccessCount  int        `json:"success_count"`
	FailureCount  int        `json:"failure_count"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	LastRunStatus RunStatus  `json:"last_run_status,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WorkflowStep is one unit of work within a workflow: a plugin/action pair
// with configuration and output mapping. Steps are ordered and immutable
// once a run starts.
type WorkflowStep struct {
	ID       string `json:"id"`   // unique within the workflow; interpolation namespace
	Name     string `json:"name"`
	PluginID string `json:"plugin_id"`
	Action   string `json:"action"`

	// Config is an arbitrary JSON tree. String scalars may contain
	// {{stepId.key}} references resolved against the run context.
	Config map[string]any `json:"config,omitempty"`

	// OutputMapping maps a context variable name to a path expression
	// (rooted at $) evaluated against the step's result payload.
	OutputMapping map[string]string `json:"output_mapping,omitempty"`
}

// Step returns the step with the given ID, or nil.
func (d *WorkflowDefinition) Step(id string) *WorkflowStep {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i]
		}
	}
	return nil
}
