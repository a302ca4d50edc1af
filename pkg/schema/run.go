package schema

import "time"

// RunStatus is the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether s is a terminal run state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// StepLogStatus is the outcome recorded for one step in the execution log.
type StepLogStatus string

const (
	StepLogSuccess StepLogStatus = "success"
	StepLogFailed  StepLogStatus = "failed"
)

// TriggerSource identifies what started a run.
type TriggerSource string

const (
	TriggerManual   TriggerSource = "manual"
	TriggerSchedule TriggerSource = "schedule"
	TriggerEvent    TriggerSource = "event"
	TriggerAPI      TriggerSource = "api"
)

// TriggerInput is the request that starts a run.
type TriggerInput struct {
	WorkflowID      string        `json:"workflow_id"`
	TriggeredBy     TriggerSource `json:"triggered_by"`
	TriggeredByUser string        `json:"triggered_by_user,omitempty"`
}

// StepLogEntry is one record in a run's append-only execution log.
type StepLogEntry struct {
	StepID      string         `json:"step_id"`
	Status      StepLogStatus  `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// WorkflowRun is one execution attempt of a workflow.
//
// Invariants: CompletedAt is set iff Status is terminal; ErrorStep is set
// iff Status == failed; CurrentStep <= TotalSteps. Context grows
// monotonically and the execution log is append-only.
type WorkflowRun struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	Status     RunStatus `json:"status"`

	CurrentStep int `json:"current_step"` // zero-based index of the step in progress or last attempted
	TotalSteps  int `json:"total_steps"`  // snapshot at start, immutable for the run

	ExecutionLog []StepLogEntry `json:"execution_log,omitempty"`
	Context      map[string]any `json:"context,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	ErrorStep    *int   `json:"error_step,omitempty"`

	TriggeredBy     TriggerSource `json:"triggered_by"`
	TriggeredByUser string        `json:"triggered_by_user,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
