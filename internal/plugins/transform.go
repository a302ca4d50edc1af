package plugins

import (
	"context"

	"github.com/storyforge/weft/internal/expressions"
	"github.com/storyforge/weft/pkg/schema"
)

// TransformPlugin reshapes data between steps without leaving the engine
// process: a jq action for filtering and restructuring, and an eval action
// for deterministic logic over prior step outputs.
type TransformPlugin struct {
	jq   *expressions.GoJQEngine
	expr *expressions.ExprEngine
}

// NewTransformPlugin creates the built-in transform plugin.
func NewTransformPlugin() *TransformPlugin {
	return &TransformPlugin{
		jq:   expressions.NewGoJQEngine(),
		expr: expressions.NewExprEngine(),
	}
}

func (p *TransformPlugin) ID() string { return "transform" }

func (p *TransformPlugin) Actions() []Action {
	return []Action{
		&engineAction{name: "jq", desc: "Evaluate a jq expression against the 'data' param.", engine: p.jq},
		&engineAction{name: "eval", desc: "Evaluate an expr expression with the 'data' param as environment.", engine: p.expr},
	}
}

// engineAction adapts an expression Engine to the plugin Action contract.
// Both actions take {expression, data} and return {result}.
type engineAction struct {
	name   string
	desc   string
	engine expressions.Engine
}

func (a *engineAction) Name() string        { return a.name }
func (a *engineAction) Description() string { return a.desc }

func (a *engineAction) Execute(ctx context.Context, config map[string]any) (map[string]any, error) {
	expression := stringParam(config, "expression", "")
	if expression == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"transform.%s requires non-empty 'expression' string parameter", a.name)
	}

	data, _ := config["data"].(map[string]any)

	result, err := a.engine.Evaluate(ctx, expression, data)
	if err != nil {
		return nil, err
	}

	return map[string]any{"result": result}, nil
}
