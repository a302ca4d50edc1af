package expressions

import (
	"sort"
	"strings"

	"github.com/storyforge/weft/pkg/schema"
)

// Extract evaluates a path expression rooted at $ (e.g. "$.result.seriesId")
// against a step's result payload and returns the value at that path.
//
// The syntax is dotted field access only. No array indices, no wildcards:
// the deliberate minimal subset the step-chaining contract needs, not a
// general query language. A missing field is a contract violation and
// returns a PATH_NOT_FOUND error, never a silent nil.
func Extract(payload any, path string) (any, error) {
	segments, err := parsePath(path)
	if err != nil {
		return nil, err
	}

	current := payload
	for i, seg := range segments {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodePathNotFound,
				"cannot descend into non-object at %q in path %q (type: %T)",
				seg, path, current)
		}
		val, ok := obj[seg]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodePathNotFound,
				"field %q not found in path %q; available: [%s]",
				seg, path, strings.Join(objKeys(obj), ", ")).
				WithDetails(map[string]any{
					"path":     path,
					"segment":  seg,
					"position": i,
				})
		}
		current = val
	}

	return current, nil
}

// ExtractOutputs applies an output mapping (variable name -> path) to a
// result payload and returns the extracted values keyed by variable name.
// Extraction is pure: the same payload and mapping always yield the same
// result, and the payload is never mutated.
func ExtractOutputs(payload any, mapping map[string]string) (map[string]any, error) {
	if len(mapping) == 0 {
		return nil, nil
	}

	outputs := make(map[string]any, len(mapping))
	for name, path := range mapping {
		val, err := Extract(payload, path)
		if err != nil {
			if we, ok := err.(*schema.WeftError); ok {
				return nil, we.WithDetails(mergeDetails(we.Details, map[string]any{"output": name}))
			}
			return nil, err
		}
		outputs[name] = val
	}
	return outputs, nil
}

// parsePath splits "$.a.b" into ["a", "b"]. A bare "$" yields no segments,
// addressing the whole payload.
func parsePath(path string) ([]string, error) {
	if path == "$" {
		return nil, nil
	}
	if !strings.HasPrefix(path, "$.") {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid path %q: must be rooted at $ (e.g. $.result.field)", path)
	}

	segments := strings.Split(path[2:], ".")
	for _, seg := range segments {
		if seg == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"invalid path %q: empty segment", path)
		}
	}
	return segments, nil
}

func objKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func mergeDetails(base, extra map[string]any) map[string]any {
	if base == nil {
		return extra
	}
	for k, v := range extra {
		base[k] = v
	}
	return base
}
