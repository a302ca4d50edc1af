package dispatch

import (
	"context"
	"log/slog"

	"github.com/storyforge/weft/internal/plugins"
	"github.com/storyforge/weft/pkg/schema"
)

// Local dispatches to in-process plugins through a Registry.
type Local struct {
	registry *plugins.Registry
	logger   *slog.Logger
}

// NewLocal creates a Local dispatcher backed by the given registry.
func NewLocal(registry *plugins.Registry, logger *slog.Logger) *Local {
	return &Local{registry: registry, logger: logger}
}

// Dispatch looks up the plugin action and executes it. Any failure,
// whether an unknown plugin, an unknown action, or an action error,
// surfaces as a DISPATCH_ERROR with the underlying message intact.
func (d *Local) Dispatch(ctx context.Context, pluginID, action string, config map[string]any) (map[string]any, error) {
	act, err := d.registry.Action(pluginID, action)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeDispatch, "%s", err.Error()).WithCause(err)
	}

	d.logger.DebugContext(ctx, "dispatching action",
		slog.String("plugin_id", pluginID),
		slog.String("action", action),
	)

	result, err := act.Execute(ctx, config)
	if err != nil {
		if we, ok := err.(*schema.WeftError); ok && we.Code == schema.ErrCodeDispatch {
			return nil, we
		}
		return nil, schema.NewErrorf(schema.ErrCodeDispatch, "%s", err.Error()).WithCause(err)
	}
	return result, nil
}

var _ Dispatcher = (*Local)(nil)
