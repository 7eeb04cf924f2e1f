package materialize

import (
	"github.com/roach88/canon/internal/ir"
)

// ModelConfig is how a model's fields are materialized.
// Sealed: PerFieldPolicies and RecordLevelOverride are the only variants.
type ModelConfig interface {
	modelConfig()
}

// PerFieldPolicies resolves each field with its own policy.
type PerFieldPolicies struct {
	// Default is the model's default policy name. Empty defers to the
	// engine default.
	Default string

	// Fields binds policy names to field paths.
	Fields map[string]string
}

func (PerFieldPolicies) modelConfig() {}

// RecordLevelOverride hands the whole history to one transformer,
// bypassing per-field policies.
type RecordLevelOverride struct {
	Transformer RecordTransformer
}

func (RecordLevelOverride) modelConfig() {}

// RecordTransformer materializes a whole reference at once.
//
// history maps field path to that field's values, oldest first. The returned
// policies map names the rule that produced each value; fields missing from
// it are attributed to the transformer's Name.
type RecordTransformer interface {
	Name() string
	Transform(history map[string][]ir.FieldValue) (values map[string]ir.Value, policies map[string]string, err error)
}

// ConfigFromModel builds the model configuration a compiled model spec
// declares. transformers resolves RecordTransformer names; an unresolvable
// transformer name yields ok=false.
func ConfigFromModel(spec ir.ModelSpec, transformers map[string]RecordTransformer) (cfg ModelConfig, ok bool) {
	if spec.RecordTransformer != "" {
		t, found := transformers[spec.RecordTransformer]
		if !found {
			return nil, false
		}
		return RecordLevelOverride{Transformer: t}, true
	}
	return PerFieldPolicies{Default: spec.DefaultPolicy, Fields: spec.FieldPolicies}, true
}
