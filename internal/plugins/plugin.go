package plugins

import (
	"context"
	"sort"
	"sync"

	"github.com/storyforge/weft/pkg/schema"
)

// Action is one executable operation a plugin exposes.
type Action interface {
	Name() string
	Description() string
	Execute(ctx context.Context, config map[string]any) (map[string]any, error)
}

// Plugin is an independent executable unit the engine dispatches to.
type Plugin interface {
	ID() string
	Actions() []Action
}

// PluginInfo is a summary of a registered plugin for listing.
type PluginInfo struct {
	ID      string   `json:"id"`
	Actions []string `json:"actions"`
}

// Registry is a thread-safe lookup of plugins and their actions.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	actions map[string]map[string]Action // plugin ID -> action name -> Action
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]Plugin),
		actions: make(map[string]map[string]Action),
	}
}

// Register adds a plugin and indexes its actions. Returns an error on a
// duplicate plugin ID or duplicate action name within the plugin.
func (r *Registry) Register(p Plugin) error {
	if p == nil {
		return schema.NewError(schema.ErrCodeValidation, "plugin is nil")
	}
	id := p.ID()
	if id == "" {
		return schema.NewError(schema.ErrCodeValidation, "plugin id is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[id]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "plugin %q already registered", id)
	}

	byName := make(map[string]Action)
	for _, a := range p.Actions() {
		name := a.Name()
		if name == "" {
			return schema.NewErrorf(schema.ErrCodeValidation, "plugin %q has an action with empty name", id)
		}
		if _, dup := byName[name]; dup {
			return schema.NewErrorf(schema.ErrCodeConflict, "plugin %q action %q registered twice", id, name)
		}
		byName[name] = a
	}

	r.plugins[id] = p
	r.actions[id] = byName
	return nil
}

// Action retrieves an action by plugin ID and action name.
func (r *Registry) Action(pluginID, name string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byName, ok := r.actions[pluginID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "plugin %q not registered", pluginID)
	}
	a, ok := byName[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "plugin %q has no action %q", pluginID, name)
	}
	return a, nil
}

// Has checks whether a plugin is registered.
func (r *Registry) Has(pluginID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.plugins[pluginID]
	return ok
}

// List returns info for all registered plugins, sorted by ID.
func (r *Registry) List() []PluginInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]PluginInfo, 0, len(r.plugins))
	for id, byName := range r.actions {
		names := make([]string, 0, len(byName))
		for name := range byName {
			names = append(names, name)
		}
		sort.Strings(names)
		infos = append(infos, PluginInfo{ID: id, Actions: names})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}
