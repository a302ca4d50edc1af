package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyforge/weft/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dbPath := "file:" + filepath.Join(t.TempDir(), "weft_test.db")
	s, err := NewLibSQLStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testWorkflow(id string) *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		ID:         id,
		Name:       "Chapter pipeline",
		TargetType: schema.TargetBook,
		TargetID:   "book-1",
		Status:     schema.WorkflowStatusActive,
		Version:    1,
		Steps: []schema.WorkflowStep{
			{ID: "outline", Name: "Generate outline", PluginID: "transform", Action: "jq",
				Config: map[string]any{"expression": ".title"}},
			{ID: "draft", Name: "Draft chapter", PluginID: "http", Action: "request",
				Config:        map[string]any{"url": "https://example.com/draft"},
				OutputMapping: map[string]string{"chapterId": "$.result.id"}},
		},
	}
}

func TestWorkflowCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateWorkflow(ctx, testWorkflow("wf-1")))

	got, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Chapter pipeline", got.Name)
	assert.Equal(t, schema.TargetBook, got.TargetType)
	assert.Len(t, got.Steps, 2)
	assert.Equal(t, "$.result.id", got.Steps[1].OutputMapping["chapterId"])
	assert.Equal(t, 1, got.Version)
	assert.Zero(t, got.RunCount)

	newName := "Chapter pipeline v2"
	require.NoError(t, s.UpdateWorkflow(ctx, "wf-1", WorkflowUpdate{Name: &newName}))
	got, err = s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, newName, got.Name)
	assert.Equal(t, 1, got.Version, "name change must not bump version")

	steps := got.Steps[:1]
	require.NoError(t, s.UpdateWorkflow(ctx, "wf-1", WorkflowUpdate{Steps: steps}))
	got, err = s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Len(t, got.Steps, 1)
	assert.Equal(t, 2, got.Version, "step edit bumps version")

	require.NoError(t, s.DeleteWorkflow(ctx, "wf-1"))
	_, err = s.GetWorkflow(ctx, "wf-1")
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestWorkflowNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetWorkflow(ctx, "missing")
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))

	name := "x"
	err = s.UpdateWorkflow(ctx, "missing", WorkflowUpdate{Name: &name})
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))

	err = s.DeleteWorkflow(ctx, "missing")
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestListWorkflowsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	active := testWorkflow("wf-active")
	require.NoError(t, s.CreateWorkflow(ctx, active))

	draft := testWorkflow("wf-draft")
	draft.Status = schema.WorkflowStatusDraft
	draft.TargetType = schema.TargetSeries
	draft.TargetID = "series-1"
	require.NoError(t, s.CreateWorkflow(ctx, draft))

	auto := testWorkflow("wf-auto")
	auto.AutoRun = true
	auto.Schedule = "0 6 * * *"
	require.NoError(t, s.CreateWorkflow(ctx, auto))

	all, err := s.ListWorkflows(ctx, WorkflowFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	st := schema.WorkflowStatusActive
	activeOnly, err := s.ListWorkflows(ctx, WorkflowFilter{Status: &st})
	require.NoError(t, err)
	assert.Len(t, activeOnly, 2)

	bySeries, err := s.ListWorkflows(ctx, WorkflowFilter{TargetType: schema.TargetSeries})
	require.NoError(t, err)
	require.Len(t, bySeries, 1)
	assert.Equal(t, "wf-draft", bySeries[0].ID)

	on := true
	autoOnly, err := s.ListWorkflows(ctx, WorkflowFilter{AutoRun: &on})
	require.NoError(t, err)
	require.Len(t, autoOnly, 1)
	assert.Equal(t, "wf-auto", autoOnly[0].ID)
}

func TestRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateWorkflow(ctx, testWorkflow("wf-1")))

	run := &schema.WorkflowRun{
		ID:          "run-1",
		WorkflowID:  "wf-1",
		Status:      schema.RunStatusRunning,
		TotalSteps:  2,
		TriggeredBy: schema.TriggerManual,
		Context:     map[string]any{},
	}
	require.NoError(t, s.CreateRun(ctx, run))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusRunning, got.Status)
	assert.Empty(t, got.ExecutionLog)
	assert.Nil(t, got.CompletedAt)

	entry := schema.StepLogEntry{
		StepID:    "outline",
		Status:    schema.StepLogSuccess,
		StartedAt: time.Now().UTC(),
		Outputs:   map[string]any{"outlineId": "ol-1"},
	}
	require.NoError(t, s.AppendStepLog(ctx, "run-1", entry))
	require.NoError(t, s.SaveProgress(ctx, "run-1", 1, map[string]any{"outlineId": "ol-1"}))

	got, err = s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got.ExecutionLog, 1)
	assert.Equal(t, "outline", got.ExecutionLog[0].StepID)
	assert.Equal(t, 1, got.CurrentStep)
	assert.Equal(t, "ol-1", got.Context["outlineId"])

	now := time.Now().UTC()
	require.NoError(t, s.FinalizeRun(ctx, "run-1", RunFinal{
		Status:      schema.RunStatusCompleted,
		CompletedAt: now,
	}))

	got, err = s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestFinalizeRunGuards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateWorkflow(ctx, testWorkflow("wf-1")))
	run := &schema.WorkflowRun{
		ID: "run-1", WorkflowID: "wf-1",
		Status: schema.RunStatusRunning, TotalSteps: 2,
		TriggeredBy: schema.TriggerManual,
	}
	require.NoError(t, s.CreateRun(ctx, run))

	err := s.FinalizeRun(ctx, "run-1", RunFinal{Status: schema.RunStatusRunning})
	assert.Equal(t, schema.ErrCodeInvalidTransition, schema.CodeOf(err))

	require.NoError(t, s.FinalizeRun(ctx, "run-1", RunFinal{Status: schema.RunStatusFailed,
		ErrorMessage: "dispatch failed", ErrorStep: intPtr(1)}))

	// Already terminal; a second finalize must not overwrite history.
	err = s.FinalizeRun(ctx, "run-1", RunFinal{Status: schema.RunStatusCompleted})
	assert.Equal(t, schema.ErrCodeConflict, schema.CodeOf(err))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, got.Status)
	assert.Equal(t, "dispatch failed", got.ErrorMessage)
	require.NotNil(t, got.ErrorStep)
	assert.Equal(t, 1, *got.ErrorStep)
}

func TestUpdateWorkflowAggregates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateWorkflow(ctx, testWorkflow("wf-1")))

	require.NoError(t, s.UpdateWorkflowAggregates(ctx, "wf-1", schema.RunStatusCompleted))
	require.NoError(t, s.UpdateWorkflowAggregates(ctx, "wf-1", schema.RunStatusCompleted))
	require.NoError(t, s.UpdateWorkflowAggregates(ctx, "wf-1", schema.RunStatusFailed))
	require.NoError(t, s.UpdateWorkflowAggregates(ctx, "wf-1", schema.RunStatusCancelled))

	got, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 4, got.RunCount)
	assert.Equal(t, 2, got.SuccessCount)
	assert.Equal(t, 1, got.FailureCount)
	assert.Equal(t, schema.RunStatusCancelled, got.LastRunStatus)
	require.NotNil(t, got.LastRunAt)
}

func TestListRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateWorkflow(ctx, testWorkflow("wf-1")))
	for i, status := range []schema.RunStatus{schema.RunStatusCompleted, schema.RunStatusFailed, schema.RunStatusRunning} {
		run := &schema.WorkflowRun{
			ID: "run-" + string(rune('a'+i)), WorkflowID: "wf-1",
			Status: status, TotalSteps: 2, TriggeredBy: schema.TriggerManual,
			StartedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.CreateRun(ctx, run))
	}

	all, err := s.ListRuns(ctx, "wf-1", RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	failed := schema.RunStatusFailed
	failedOnly, err := s.ListRuns(ctx, "wf-1", RunFilter{Status: &failed})
	require.NoError(t, err)
	require.Len(t, failedOnly, 1)
	assert.Equal(t, "run-b", failedOnly[0].ID)

	limited, err := s.ListRuns(ctx, "wf-1", RunFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func intPtr(n int) *int { return &n }
