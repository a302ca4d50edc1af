package plugins

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyforge/weft/pkg/schema"
)

type stubAction struct {
	name string
}

func (a *stubAction) Name() string        { return a.name }
func (a *stubAction) Description() string { return "stub" }
func (a *stubAction) Execute(_ context.Context, _ map[string]any) (map[string]any, error) {
	return map[string]any{"ok": true}, nil
}

type stubPlugin struct {
	id      string
	actions []Action
}

func (p *stubPlugin) ID() string        { return p.id }
func (p *stubPlugin) Actions() []Action { return p.actions }

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubPlugin{
		id:      "catalog",
		actions: []Action{&stubAction{name: "create"}, &stubAction{name: "archive"}},
	}))

	assert.True(t, r.Has("catalog"))
	assert.False(t, r.Has("ghost"))

	act, err := r.Action("catalog", "create")
	require.NoError(t, err)
	assert.Equal(t, "create", act.Name())
}

func TestRegistryDuplicatePlugin(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubPlugin{id: "catalog"}))
	err := r.Register(&stubPlugin{id: "catalog"})
	assert.Equal(t, schema.ErrCodeConflict, schema.CodeOf(err))
}

func TestRegistryDuplicateActionName(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&stubPlugin{
		id:      "catalog",
		actions: []Action{&stubAction{name: "create"}, &stubAction{name: "create"}},
	})
	assert.Equal(t, schema.ErrCodeConflict, schema.CodeOf(err))
}

func TestRegistryValidation(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(r.Register(nil)))
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(r.Register(&stubPlugin{id: ""})))
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(r.Register(&stubPlugin{
		id: "p", actions: []Action{&stubAction{name: ""}},
	})))
}

func TestRegistryLookupErrors(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubPlugin{id: "catalog", actions: []Action{&stubAction{name: "create"}}}))

	_, err := r.Action("ghost", "create")
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))

	_, err = r.Action("catalog", "ghost")
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubPlugin{id: "zeta", actions: []Action{&stubAction{name: "b"}, &stubAction{name: "a"}}}))
	require.NoError(t, r.Register(&stubPlugin{id: "alpha"}))

	infos := r.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "alpha", infos[0].ID)
	assert.Equal(t, "zeta", infos[1].ID)
	assert.Equal(t, []string{"a", "b"}, infos[1].Actions)
}
