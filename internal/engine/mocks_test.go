package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/storyforge/weft/internal/store"
	"github.com/storyforge/weft/pkg/schema"
)

// memStore is an in-memory store.Store for executor tests.
type memStore struct {
	mu        sync.Mutex
	workflows map[string]*schema.WorkflowDefinition
	runs      map[string]*schema.WorkflowRun

	// failSaveProgressAt makes SaveProgress fail when called with this
	// currentStep value (0 disables).
	failSaveProgressAt int
}

func newMemStore() *memStore {
	return &memStore{
		workflows: make(map[string]*schema.WorkflowDefinition),
		runs:      make(map[string]*schema.WorkflowRun),
	}
}

func (m *memStore) CreateWorkflow(_ context.Context, def *schema.WorkflowDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[def.ID] = def
	return nil
}

func (m *memStore) GetWorkflow(_ context.Context, id string) (*schema.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.workflows[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", id)
	}
	cp := *def
	return &cp, nil
}

func (m *memStore) UpdateWorkflow(_ context.Context, id string, _ store.WorkflowUpdate) error {
	return nil
}

func (m *memStore) ListWorkflows(_ context.Context, _ store.WorkflowFilter) ([]*schema.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*schema.WorkflowDefinition, 0, len(m.workflows))
	for _, def := range m.workflows {
		out = append(out, def)
	}
	return out, nil
}

func (m *memStore) DeleteWorkflow(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workflows, id)
	return nil
}

func (m *memStore) CreateRun(_ context.Context, run *schema.WorkflowRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *memStore) GetRun(_ context.Context, id string) (*schema.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", id)
	}
	cp := *run
	cp.ExecutionLog = append([]schema.StepLogEntry(nil), run.ExecutionLog...)
	return &cp, nil
}

func (m *memStore) ListRuns(_ context.Context, workflowID string, _ store.RunFilter) ([]*schema.WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*schema.WorkflowRun
	for _, run := range m.runs {
		if run.WorkflowID == workflowID {
			out = append(out, run)
		}
	}
	return out, nil
}

func (m *memStore) AppendStepLog(_ context.Context, runID string, entry schema.StepLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", runID)
	}
	run.ExecutionLog = append(run.ExecutionLog, entry)
	return nil
}

func (m *memStore) SaveProgress(_ context.Context, runID string, currentStep int, runContext map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSaveProgressAt > 0 && currentStep == m.failSaveProgressAt {
		return fmt.Errorf("disk full")
	}
	run, ok := m.runs[runID]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", runID)
	}
	run.CurrentStep = currentStep
	run.Context = runContext
	return nil
}

func (m *memStore) FinalizeRun(_ context.Context, runID string, final store.RunFinal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", runID)
	}
	if run.Status != schema.RunStatusRunning {
		return schema.NewErrorf(schema.ErrCodeConflict, "run %s is not running", runID)
	}
	run.Status = final.Status
	run.ErrorStep = final.ErrorStep
	run.ErrorMessage = final.ErrorMessage
	completed := final.CompletedAt
	run.CompletedAt = &completed
	return nil
}

func (m *memStore) UpdateWorkflowAggregates(_ context.Context, workflowID string, status schema.RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.workflows[workflowID]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", workflowID)
	}
	def.RunCount++
	switch status {
	case schema.RunStatusCompleted:
		def.SuccessCount++
	case schema.RunStatusFailed:
		def.FailureCount++
	}
	now := time.Now().UTC()
	def.LastRunAt = &now
	def.LastRunStatus = status
	return nil
}

func (m *memStore) UpdateNextRun(_ context.Context, _ string, _ time.Time) error { return nil }
func (m *memStore) Migrate(_ context.Context) error                             { return nil }
func (m *memStore) Close() error                                                { return nil }

var _ store.Store = (*memStore)(nil)

// dispatchCall records one dispatcher invocation.
type dispatchCall struct {
	PluginID string
	Action   string
	Config   map[string]any
}

// scriptedDispatcher returns canned results per step, keyed by the
// "name" value in the interpolated config, and counts calls.
type scriptedDispatcher struct {
	mu      sync.Mutex
	calls   []dispatchCall
	results map[string]map[string]any // config["name"] -> result
	errors  map[string]error          // config["name"] -> error

	// block, when non-nil, is closed by the test to release an in-flight
	// dispatch. Used to test step-boundary cancellation.
	block chan struct{}
}

func newScriptedDispatcher() *scriptedDispatcher {
	return &scriptedDispatcher{
		results: make(map[string]map[string]any),
		errors:  make(map[string]error),
	}
}

func (d *scriptedDispatcher) Dispatch(_ context.Context, pluginID, action string, config map[string]any) (map[string]any, error) {
	d.mu.Lock()
	d.calls = append(d.calls, dispatchCall{PluginID: pluginID, Action: action, Config: config})
	block := d.block
	d.mu.Unlock()

	if block != nil {
		<-block
	}

	name, _ := config["name"].(string)
	if err, ok := d.errors[name]; ok {
		return nil, err
	}
	if result, ok := d.results[name]; ok {
		return result, nil
	}
	return map[string]any{"result": map[string]any{"ok": true}}, nil
}

func (d *scriptedDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *scriptedDispatcher) call(i int) dispatchCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[i]
}
