package store

import (
	"context"
	"time"

	"github.com/storyforge/weft/pkg/schema"
)

// Store is the persistence contract for workflow definitions and run
// records. All writes are durable on return: the engine never retries a
// persistence failure, it fails the run instead, so the in-memory and
// durable views cannot diverge.
// Implementations must be safe for concurrent use.
type Store interface {
	// Workflow definitions (system of record for the authoring collaborator)
	CreateWorkflow(ctx context.Context, def *schema.WorkflowDefinition) error
	GetWorkflow(ctx context.Context, id string) (*schema.WorkflowDefinition, error)
	UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate) error
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.WorkflowDefinition, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// Runs
	CreateRun(ctx context.Context, run *schema.WorkflowRun) error
	GetRun(ctx context.Context, id string) (*schema.WorkflowRun, error)
	ListRuns(ctx context.Context, workflowID string, filter RunFilter) ([]*schema.WorkflowRun, error)

	// Incremental run progress (durability point after every step)
	AppendStepLog(ctx context.Context, runID string, entry schema.StepLogEntry) error
	SaveProgress(ctx context.Context, runID string, currentStep int, runContext map[string]any) error
	FinalizeRun(ctx context.Context, runID string, final RunFinal) error

	// Aggregate counters on the parent workflow. Increments are atomic at
	// the storage layer so concurrent finalizations never lose updates.
	UpdateWorkflowAggregates(ctx context.Context, workflowID string, status schema.RunStatus) error

	// Scheduler bookkeeping
	UpdateNextRun(ctx context.Context, workflowID string, nextRunAt time.Time) error

	// Maintenance
	Migrate(ctx context.Context) error
	Close() error
}
