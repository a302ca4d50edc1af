package expressions

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/storyforge/weft/pkg/schema"
)

// Interpolator resolves {{stepId.key}} references in step config trees.
//
// The variable map is keyed by qualified name ("stepId.key") and holds the
// outputs of all previously completed steps. A reference to a name absent
// from the map aborts interpolation; references are never substituted with
// an empty string.
type Interpolator struct{}

// NewInterpolator creates a new Interpolator.
func NewInterpolator() *Interpolator {
	return &Interpolator{}
}

// Interpolate returns a copy of config with every {{stepId.key}} occurrence
// inside string scalars replaced by the stringified context value.
// Non-string scalars and structural shape are preserved unchanged.
func (in *Interpolator) Interpolate(config map[string]any, vars map[string]any) (map[string]any, error) {
	if config == nil {
		return nil, nil
	}
	out, err := in.interpolateValue(config, vars)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

// interpolateValue recurses over the JSON-like tree. Only string scalars
// are rewritten; maps and slices are rebuilt so the input stays untouched.
func (in *Interpolator) interpolateValue(v any, vars map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		return in.interpolateString(val, vars)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			resolved, err := in.interpolateValue(child, vars)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			resolved, err := in.interpolateValue(child, vars)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// interpolateString scans a string scalar for {{...}} tokens and replaces
// each with the stringified context value.
func (in *Interpolator) interpolateString(s string, vars map[string]any) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}

	var result strings.Builder
	result.Grow(len(s))

	i := 0
	for i < len(s) {
		idx := strings.Index(s[i:], "{{")
		if idx == -1 {
			result.WriteString(s[i:])
			break
		}

		result.WriteString(s[i : i+idx])
		start := i + idx + 2

		end := strings.Index(s[start:], "}}")
		if end == -1 {
			return "", schema.NewErrorf(schema.ErrCodeUnresolvedReference,
				"unclosed {{ reference in %q", s)
		}
		end += start

		ref := strings.TrimSpace(s[start:end])
		if ref == "" {
			return "", schema.NewError(schema.ErrCodeUnresolvedReference,
				"empty variable reference: {{ }}")
		}
		if strings.Contains(ref, "{{") {
			return "", schema.NewErrorf(schema.ErrCodeUnresolvedReference,
				"nested interpolation not allowed in %q", s)
		}

		val, ok := vars[ref]
		if !ok {
			return "", missingRefErr(ref, vars)
		}

		result.WriteString(Stringify(val))
		i = end + 2
	}

	return result.String(), nil
}

// HasReferences reports whether a config tree contains any {{...}} tokens.
func HasReferences(v any) bool {
	switch val := v.(type) {
	case string:
		return strings.Contains(val, "{{")
	case map[string]any:
		for _, child := range val {
			if HasReferences(child) {
				return true
			}
		}
	case []any:
		for _, child := range val {
			if HasReferences(child) {
				return true
			}
		}
	}
	return false
}

// Stringify converts a resolved context value into its in-string form.
// Strings embed as-is; scalars use their JSON spelling; maps and slices
// are JSON-encoded inline.
func Stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// missingRefErr builds an unresolved-reference error listing the names that
// are available, which makes step authoring mistakes diagnosable from the
// run record alone.
func missingRefErr(ref string, vars map[string]any) *schema.WeftError {
	available := make([]string, 0, len(vars))
	for k := range vars {
		available = append(available, k)
	}
	sort.Strings(available)
	return schema.NewErrorf(schema.ErrCodeUnresolvedReference,
		"reference {{%s}} not found in context; available: [%s]", ref, strings.Join(available, ", ")).
		WithDetails(map[string]any{"reference": ref, "available": available})
}
