package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storyforge/weft/internal/dispatch"
	"github.com/storyforge/weft/internal/logging"
	"github.com/storyforge/weft/internal/store"
	"github.com/storyforge/weft/pkg/schema"
)

// Executor is the engine proper: it owns the run lifecycle from trigger
// to terminal state.
type Executor interface {
	// Trigger accepts a trigger, creates a run and starts executing it.
	// The run ID is returned immediately on acceptance; completion is
	// observed via Wait or by polling Status.
	Trigger(ctx context.Context, input schema.TriggerInput) (string, error)

	// Cancel requests cooperative cancellation of a running run. It takes
	// effect before the next step begins; an in-flight dispatch is never
	// interrupted.
	Cancel(runID string) error

	// Wait blocks until the run reaches a terminal state, or ctx expires.
	Wait(ctx context.Context, runID string) (*schema.WorkflowRun, error)

	// Status returns the current run record.
	Status(ctx context.Context, runID string) (*schema.WorkflowRun, error)

	// Shutdown requests cancellation of every in-flight run and waits for
	// them to finalize, or until ctx expires.
	Shutdown(ctx context.Context) error
}

type executorImpl struct {
	store  store.Store
	steps  *StepExecutor
	logger *slog.Logger

	// mu guards running.
	mu      sync.Mutex
	running map[string]*activeRun
}

// activeRun tracks a single in-flight run.
type activeRun struct {
	workflowID string

	mu        sync.Mutex
	cancelled bool

	done chan struct{}
}

func (a *activeRun) requestCancel() {
	a.mu.Lock()
	a.cancelled = true
	a.mu.Unlock()
}

func (a *activeRun) cancelRequested() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancelled
}

// NewExecutor creates an Executor over the given store and dispatcher.
func NewExecutor(s store.Store, d dispatch.Dispatcher, logger *slog.Logger) Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &executorImpl{
		store:   s,
		steps:   NewStepExecutor(d, logger),
		logger:  logger,
		running: make(map[string]*activeRun),
	}
}

func (e *executorImpl) Trigger(ctx context.Context, input schema.TriggerInput) (string, error) {
	// Unknown workflow fails fast with no run record.
	def, err := e.store.GetWorkflow(ctx, input.WorkflowID)
	if err != nil {
		return "", err
	}
	if def.Status == schema.WorkflowStatusArchived {
		return "", schema.NewErrorf(schema.ErrCodeConflict,
			"workflow %s is archived and cannot be triggered", def.ID)
	}

	triggeredBy := input.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = schema.TriggerManual
	}

	run := &schema.WorkflowRun{
		ID:              uuid.NewString(),
		WorkflowID:      def.ID,
		Status:          schema.RunStatusRunning,
		CurrentStep:     0,
		TotalSteps:      len(def.Steps),
		Context:         map[string]any{},
		TriggeredBy:     triggeredBy,
		TriggeredByUser: input.TriggeredByUser,
		StartedAt:       time.Now().UTC(),
	}

	// Entering running creates the record.
	if err := Transition(run.ID, schema.RunStatusPending, schema.RunStatusRunning); err != nil {
		return "", err
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return "", schema.NewErrorf(schema.ErrCodeStore, "create run: %s", err.Error()).WithCause(err)
	}

	active := &activeRun{
		workflowID: def.ID,
		done:       make(chan struct{}),
	}
	e.mu.Lock()
	e.running[run.ID] = active
	e.mu.Unlock()

	// The run outlives the trigger call; correlation IDs are rebuilt on a
	// fresh context so the caller's deadline does not leak into the run.
	runCtx := logging.WithWorkflowID(context.Background(), def.ID)
	runCtx = logging.WithRunID(runCtx, run.ID)

	e.logger.InfoContext(runCtx, "run started",
		slog.Int("total_steps", run.TotalSteps),
		slog.String("triggered_by", string(triggeredBy)))

	go e.execute(runCtx, def, run, active)

	return run.ID, nil
}

// execute is the sequential step loop of one run. It always finalizes the
// run and releases the active-run slot before returning.
func (e *executorImpl) execute(ctx context.Context, def *schema.WorkflowDefinition, run *schema.WorkflowRun, active *activeRun) {
	defer func() {
		e.mu.Lock()
		delete(e.running, run.ID)
		e.mu.Unlock()
		close(active.done)
	}()

	rc := NewRunContext()

	for i := range def.Steps {
		// Cancellation is checked only at step boundaries.
		if active.cancelRequested() {
			e.logger.InfoContext(ctx, "run cancelled", slog.Int("at_step", i))
			e.finalize(ctx, def.ID, run.ID, store.RunFinal{
				Status:      schema.RunStatusCancelled,
				CompletedAt: time.Now().UTC(),
			})
			return
		}

		step := &def.Steps[i]
		entry, stepErr := e.steps.Execute(ctx, step, rc)

		if err := e.store.AppendStepLog(ctx, run.ID, entry); err != nil {
			e.failRun(ctx, def.ID, run.ID, i,
				schema.NewErrorf(schema.ErrCodeStore, "append step log: %s", err.Error()).WithCause(err))
			return
		}

		if stepErr != nil {
			e.failRun(ctx, def.ID, run.ID, i, stepErr)
			return
		}

		// Durability point: a crash after this leaves a running record
		// reflecting the last completed step.
		if err := e.store.SaveProgress(ctx, run.ID, i+1, rc.Snapshot()); err != nil {
			e.failRun(ctx, def.ID, run.ID, i,
				schema.NewErrorf(schema.ErrCodeStore, "persist progress: %s", err.Error()).WithCause(err))
			return
		}
	}

	e.logger.InfoContext(ctx, "run completed", slog.Int("steps", len(def.Steps)))
	e.finalize(ctx, def.ID, run.ID, store.RunFinal{
		Status:      schema.RunStatusCompleted,
		CompletedAt: time.Now().UTC(),
	})
}

func (e *executorImpl) failRun(ctx context.Context, workflowID, runID string, stepIndex int, cause error) {
	e.logger.ErrorContext(ctx, "run failed",
		slog.Int("error_step", stepIndex),
		slog.String("error", cause.Error()))
	e.finalize(ctx, workflowID, runID, store.RunFinal{
		Status:       schema.RunStatusFailed,
		ErrorStep:    &stepIndex,
		ErrorMessage: cause.Error(),
		CompletedAt:  time.Now().UTC(),
	})
}

// finalize writes the terminal state and updates the parent workflow's
// aggregate counters. The counter update is atomic at the storage layer
// so concurrent finalizations of the same workflow never lose increments.
func (e *executorImpl) finalize(ctx context.Context, workflowID, runID string, final store.RunFinal) {
	if err := Transition(runID, schema.RunStatusRunning, final.Status); err != nil {
		e.logger.ErrorContext(ctx, "finalize rejected", slog.String("error", err.Error()))
		return
	}
	if err := e.store.FinalizeRun(ctx, runID, final); err != nil {
		e.logger.ErrorContext(ctx, "finalize run", slog.String("error", err.Error()))
		return
	}
	if err := e.store.UpdateWorkflowAggregates(ctx, workflowID, final.Status); err != nil {
		e.logger.ErrorContext(ctx, "update aggregates", slog.String("error", err.Error()))
	}
}

func (e *executorImpl) Cancel(runID string) error {
	e.mu.Lock()
	active, ok := e.running[runID]
	e.mu.Unlock()
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "run %q is not in flight", runID)
	}
	active.requestCancel()
	e.logger.Info("cancellation requested",
		slog.String("run_id", runID),
		slog.String("workflow_id", active.workflowID))
	return nil
}

func (e *executorImpl) Wait(ctx context.Context, runID string) (*schema.WorkflowRun, error) {
	e.mu.Lock()
	active, ok := e.running[runID]
	e.mu.Unlock()
	if ok {
		select {
		case <-active.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return e.store.GetRun(ctx, runID)
}

func (e *executorImpl) Status(ctx context.Context, runID string) (*schema.WorkflowRun, error) {
	return e.store.GetRun(ctx, runID)
}

func (e *executorImpl) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	pending := make([]*activeRun, 0, len(e.running))
	for _, active := range e.running {
		active.requestCancel()
		pending = append(pending, active)
	}
	e.mu.Unlock()

	for _, active := range pending {
		select {
		case <-active.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
