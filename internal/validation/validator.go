package validation

import (
	"github.com/storyforge/weft/pkg/schema"
)

// Validator is the full definition validation pipeline: structural (JSON
// Schema) first, semantic second. Semantic checks only run on a
// structurally sound definition.
type Validator struct {
	structural *StructuralValidator
	semantic   *SemanticValidator
}

// NewValidator builds the pipeline. Fails only if the embedded workflow
// schema does not compile.
func NewValidator() (*Validator, error) {
	structural, err := NewStructuralValidator()
	if err != nil {
		return nil, err
	}
	return &Validator{
		structural: structural,
		semantic:   NewSemanticValidator(),
	}, nil
}

// Validate runs the pipeline and returns all issues found.
func (v *Validator) Validate(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := v.structural.Validate(def)
	if !result.Valid() {
		return result
	}
	result.Merge(v.semantic.Validate(def))
	return result
}

// ValidateOrError runs the pipeline and collapses failures into a single
// WeftError for callers that do not inspect individual issues.
func (v *Validator) ValidateOrError(def *schema.WorkflowDefinition) error {
	return v.Validate(def).ToError()
}
