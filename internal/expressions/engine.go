package expressions

import "context"

// Engine evaluates expressions for the built-in transform plugin.
// Two implementations: GoJQ (reshaping) and Expr (logic).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
