package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/storyforge/weft/pkg/schema"
)

var refPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// SemanticValidator checks rules JSON Schema cannot express: step ID
// uniqueness, reference resolvability, output name collisions, and
// schedule coherence.
type SemanticValidator struct {
	cronParser cron.Parser
}

// NewSemanticValidator creates a semantic validator with a standard
// 5-field cron parser.
func NewSemanticValidator() *SemanticValidator {
	return &SemanticValidator{
		cronParser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Validate runs all semantic checks against the definition.
func (v *SemanticValidator) Validate(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if def == nil {
		result.AddError("/", "nil_definition", "workflow definition is nil")
		return result
	}

	v.checkStepIDs(def, result)
	v.checkReferences(def, result)
	v.checkOutputNames(def, result)
	v.checkSchedule(def, result)
	return result
}

func (v *SemanticValidator) checkStepIDs(def *schema.WorkflowDefinition, result *schema.ValidationResult) {
	seen := make(map[string]int, len(def.Steps))
	for i, step := range def.Steps {
		path := fmt.Sprintf("/steps/%d/id", i)
		if strings.Contains(step.ID, ".") {
			result.AddError(path, "dotted_step_id",
				fmt.Sprintf("step id %q must not contain '.': it is the interpolation namespace separator", step.ID))
		}
		if first, dup := seen[step.ID]; dup {
			result.AddError(path, "duplicate_step_id",
				fmt.Sprintf("step id %q already used by step %d", step.ID, first))
			continue
		}
		seen[step.ID] = i
	}
}

// checkReferences verifies that every {{stepId.key}} in a step's config
// points at a declared output of an earlier step. References to the same
// or a later step can never resolve: steps only see outputs of previously
// completed steps.
func (v *SemanticValidator) checkReferences(def *schema.WorkflowDefinition, result *schema.ValidationResult) {
	// Outputs declared by each step, by position.
	declared := make([]map[string]struct{}, len(def.Steps))
	position := make(map[string]int, len(def.Steps))
	for i, step := range def.Steps {
		position[step.ID] = i
		outs := make(map[string]struct{}, len(step.OutputMapping))
		for name := range step.OutputMapping {
			outs[name] = struct{}{}
		}
		declared[i] = outs
	}

	for i, step := range def.Steps {
		path := fmt.Sprintf("/steps/%d/config", i)
		for _, ref := range collectRefs(step.Config) {
			stepID, key, ok := strings.Cut(ref, ".")
			if !ok {
				result.AddError(path, "malformed_reference",
					fmt.Sprintf("reference {{%s}} is not of the form stepId.key", ref))
				continue
			}
			src, known := position[stepID]
			if !known {
				result.AddError(path, "unknown_step_reference",
					fmt.Sprintf("reference {{%s}} points at unknown step %q", ref, stepID))
				continue
			}
			if src >= i {
				result.AddError(path, "forward_reference",
					fmt.Sprintf("reference {{%s}} points at step %q which has not completed when step %q runs", ref, stepID, step.ID))
				continue
			}
			if _, declares := declared[src][key]; !declares {
				result.AddError(path, "undeclared_output",
					fmt.Sprintf("reference {{%s}}: step %q does not declare output %q", ref, stepID, key))
			}
		}
	}
}

// checkOutputNames flags flat context key collisions, which resolve
// last-write-wins at run time.
func (v *SemanticValidator) checkOutputNames(def *schema.WorkflowDefinition, result *schema.ValidationResult) {
	owner := make(map[string]string)
	for i, step := range def.Steps {
		for name := range step.OutputMapping {
			if prev, taken := owner[name]; taken {
				result.AddWarning(fmt.Sprintf("/steps/%d/output_mapping/%s", i, name),
					"output_name_collision",
					fmt.Sprintf("output %q is also produced by step %q; the later value overwrites the earlier one", name, prev))
				continue
			}
			owner[name] = step.ID
		}
	}
}

func (v *SemanticValidator) checkSchedule(def *schema.WorkflowDefinition, result *schema.ValidationResult) {
	if def.AutoRun && def.Schedule == "" {
		result.AddError("/schedule", "missing_schedule",
			"auto_run requires a cron schedule expression")
		return
	}
	if def.Schedule != "" {
		if _, err := v.cronParser.Parse(def.Schedule); err != nil {
			result.AddError("/schedule", "invalid_schedule",
				fmt.Sprintf("invalid cron expression %q: %s", def.Schedule, err.Error()))
		}
		if !def.AutoRun {
			result.AddWarning("/schedule", "unused_schedule",
				"schedule is set but auto_run is disabled; the workflow will not run on its own")
		}
	}
}

// collectRefs gathers every {{...}} token in a config tree.
func collectRefs(v any) []string {
	var refs []string
	switch val := v.(type) {
	case string:
		for _, m := range refPattern.FindAllStringSubmatch(val, -1) {
			refs = append(refs, m[1])
		}
	case map[string]any:
		for _, child := range val {
			refs = append(refs, collectRefs(child)...)
		}
	case []any:
		for _, child := range val {
			refs = append(refs, collectRefs(child)...)
		}
	}
	return refs
}
