package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/storyforge/weft/internal/dispatch"
	"github.com/storyforge/weft/internal/expressions"
	"github.com/storyforge/weft/internal/logging"
	"github.com/storyforge/weft/pkg/schema"
)

// StepExecutor runs one step's full cycle: interpolate the config against
// the run context, dispatch the action, extract declared outputs, merge
// them into the context. Any failure in the cycle is fatal to the run;
// the executor never retries.
type StepExecutor struct {
	interpolator *expressions.Interpolator
	dispatcher   dispatch.Dispatcher
	logger       *slog.Logger
}

// NewStepExecutor wires a step executor over the given dispatcher.
func NewStepExecutor(d dispatch.Dispatcher, logger *slog.Logger) *StepExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &StepExecutor{
		interpolator: expressions.NewInterpolator(),
		dispatcher:   d,
		logger:       logger,
	}
}

// Execute runs a single step against the run context. On success the
// extracted outputs are merged into rc and a success log entry is
// returned. On failure the returned entry records the failure and err
// carries the typed cause; rc is left untouched.
func (se *StepExecutor) Execute(ctx context.Context, step *schema.WorkflowStep, rc *RunContext) (schema.StepLogEntry, error) {
	ctx = logging.WithStepID(ctx, step.ID)
	startedAt := time.Now().UTC()

	fail := func(err error) (schema.StepLogEntry, error) {
		if we, ok := err.(*schema.WeftError); ok && we.StepID == "" {
			err = we.WithStep(step.ID)
		}
		se.logger.ErrorContext(ctx, "step failed", slog.String("error", err.Error()))
		return schema.StepLogEntry{
			StepID:      step.ID,
			Status:      schema.StepLogFailed,
			StartedAt:   startedAt,
			CompletedAt: time.Now().UTC(),
			Error:       err.Error(),
		}, err
	}

	// Steps see only outputs of previously completed steps.
	config, err := se.interpolator.Interpolate(step.Config, rc.Vars())
	if err != nil {
		return fail(err)
	}

	se.logger.DebugContext(ctx, "dispatching step",
		slog.String("plugin_id", step.PluginID),
		slog.String("action", step.Action))

	result, err := se.dispatcher.Dispatch(ctx, step.PluginID, step.Action, config)
	if err != nil {
		return fail(err)
	}

	outputs, err := expressions.ExtractOutputs(result, step.OutputMapping)
	if err != nil {
		return fail(err)
	}

	rc.Merge(se.logger, step.ID, outputs)

	se.logger.InfoContext(ctx, "step completed",
		slog.Int("outputs", len(outputs)),
		slog.Duration("duration", time.Since(startedAt)))

	return schema.StepLogEntry{
		StepID:      step.ID,
		Status:      schema.StepLogSuccess,
		StartedAt:   startedAt,
		CompletedAt: time.Now().UTC(),
		Outputs:     outputs,
	}, nil
}
