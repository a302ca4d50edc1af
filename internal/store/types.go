package store

import (
	"time"

	"github.com/storyforge/weft/pkg/schema"
)

// WorkflowFilter specifies criteria for listing workflow definitions.
type WorkflowFilter struct {
	Status     *schema.WorkflowStatus `json:"status,omitempty"`
	TargetType schema.TargetType      `json:"target_type,omitempty"`
	TargetID   string                 `json:"target_id,omitempty"`
	AutoRun    *bool                  `json:"auto_run,omitempty"`
	DueBefore  *time.Time             `json:"due_before,omitempty"` // next_run_at <= DueBefore
	Limit      int                    `json:"limit,omitempty"`
	Offset     int                    `json:"offset,omitempty"`
}

// WorkflowUpdate specifies the fields the authoring collaborator may edit.
// Editing steps bumps the version.
type WorkflowUpdate struct {
	Name        *string                `json:"name,omitempty"`
	Description *string                `json:"description,omitempty"`
	Steps       []schema.WorkflowStep  `json:"steps,omitempty"`
	Status      *schema.WorkflowStatus `json:"status,omitempty"`
	AutoRun     *bool                  `json:"auto_run,omitempty"`
	Schedule    *string                `json:"schedule,omitempty"`
}

// RunFilter specifies criteria for listing runs of a workflow.
type RunFilter struct {
	Status *schema.RunStatus `json:"status,omitempty"`
	Since  *time.Time        `json:"since,omitempty"`
	Limit  int               `json:"limit,omitempty"`
	Offset int               `json:"offset,omitempty"`
}

// RunFinal carries the terminal fields written exactly once when a run
// finalizes. ErrorStep and ErrorMessage are set iff Status is failed.
type RunFinal struct {
	Status       schema.RunStatus `json:"status"`
	ErrorStep    *int             `json:"error_step,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	CompletedAt  time.Time        `json:"completed_at"`
}
