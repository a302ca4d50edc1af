package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyforge/weft/internal/plugins"
	"github.com/storyforge/weft/pkg/schema"
)

type fakeAction struct {
	name   string
	result map[string]any
	err    error
	calls  int
}

func (a *fakeAction) Name() string        { return a.name }
func (a *fakeAction) Description() string { return "test action" }
func (a *fakeAction) Execute(_ context.Context, _ map[string]any) (map[string]any, error) {
	a.calls++
	return a.result, a.err
}

type fakePlugin struct {
	id      string
	actions []plugins.Action
}

func (p *fakePlugin) ID() string                { return p.id }
func (p *fakePlugin) Actions() []plugins.Action { return p.actions }

func newLocalWith(t *testing.T, p plugins.Plugin) *Local {
	t.Helper()
	registry := plugins.NewRegistry()
	require.NoError(t, registry.Register(p))
	return NewLocal(registry, slog.Default())
}

func TestLocalDispatch(t *testing.T) {
	act := &fakeAction{name: "create", result: map[string]any{"result": map[string]any{"id": "S1"}}}
	d := newLocalWith(t, &fakePlugin{id: "catalog", actions: []plugins.Action{act}})

	result, err := d.Dispatch(context.Background(), "catalog", "create", map[string]any{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "S1"}, result["result"])
	assert.Equal(t, 1, act.calls)
}

func TestLocalDispatchUnknownPlugin(t *testing.T) {
	d := NewLocal(plugins.NewRegistry(), slog.Default())
	_, err := d.Dispatch(context.Background(), "ghost", "create", nil)
	assert.Equal(t, schema.ErrCodeDispatch, schema.CodeOf(err))
	assert.Contains(t, err.Error(), "ghost")
}

func TestLocalDispatchUnknownAction(t *testing.T) {
	act := &fakeAction{name: "create"}
	d := newLocalWith(t, &fakePlugin{id: "catalog", actions: []plugins.Action{act}})

	_, err := d.Dispatch(context.Background(), "catalog", "delete", nil)
	assert.Equal(t, schema.ErrCodeDispatch, schema.CodeOf(err))
	assert.Equal(t, 0, act.calls)
}

func TestLocalDispatchWrapsActionError(t *testing.T) {
	act := &fakeAction{name: "create", err: errors.New("series already exists")}
	d := newLocalWith(t, &fakePlugin{id: "catalog", actions: []plugins.Action{act}})

	_, err := d.Dispatch(context.Background(), "catalog", "create", nil)
	assert.Equal(t, schema.ErrCodeDispatch, schema.CodeOf(err))
	// The underlying message passes through verbatim.
	assert.Contains(t, err.Error(), "series already exists")
}

func TestLocalDispatchPreservesDispatchErrors(t *testing.T) {
	orig := schema.NewError(schema.ErrCodeDispatch, "remote plugin timed out")
	act := &fakeAction{name: "create", err: orig}
	d := newLocalWith(t, &fakePlugin{id: "catalog", actions: []plugins.Action{act}})

	_, err := d.Dispatch(context.Background(), "catalog", "create", nil)
	assert.Same(t, orig, err)
}
