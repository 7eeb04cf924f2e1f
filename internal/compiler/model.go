package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/canon/internal/ir"
)

// CompileModel parses a CUE value into a ModelSpec.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value is the model struct itself:
//
//	model: device: {
//		keys: ["serial", "asset.tag"]
//		business_key: "serial"
//		default_policy: "last"
//		policies: { "specs.cores": "max" }
//		payload_schema: { type: "object", required: ["serial"] }
//	}
//
// The model name is the struct label. A model may name a record-level
// transformer instead of policies, never both.
func CompileModel(v cue.Value) (*ir.ModelSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.ModelSpec{}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.Name = labels[len(labels)-1].String()
	}

	keysVal := v.LookupPath(cue.ParsePath("keys"))
	if !keysVal.Exists() {
		return nil, &CompileError{
			Field:   "keys",
			Message: "keys are required",
			Pos:     v.Pos(),
		}
	}
	keys, err := stringList(keysVal)
	if err != nil {
		return nil, err
	}
	spec.Keys = keys

	if spec.BusinessKey, err = optionalString(v, "business_key"); err != nil {
		return nil, err
	}
	if spec.DefaultPolicy, err = optionalString(v, "default_policy"); err != nil {
		return nil, err
	}
	if spec.RecordTransformer, err = optionalString(v, "transformer"); err != nil {
		return nil, err
	}

	policiesVal := v.LookupPath(cue.ParsePath("policies"))
	if policiesVal.Exists() {
		iter, err := policiesVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		spec.FieldPolicies = make(map[string]string)
		for iter.Next() {
			name, err := iter.Value().String()
			if err != nil {
				return nil, &CompileError{
					Field:   "policies." + iter.Label(),
					Message: "policy must be a string",
					Pos:     iter.Value().Pos(),
				}
			}
			spec.FieldPolicies[iter.Label()] = name
		}
	}

	viewsVal := v.LookupPath(cue.ParsePath("views"))
	if viewsVal.Exists() {
		if spec.Views, err = stringList(viewsVal); err != nil {
			return nil, err
		}
	}

	schemaVal := v.LookupPath(cue.ParsePath("payload_schema"))
	if schemaVal.Exists() {
		if schemaVal.IncompleteKind() != cue.StructKind {
			return nil, &CompileError{
				Field:   "payload_schema",
				Message: "payload_schema must be a JSON Schema object",
				Pos:     schemaVal.Pos(),
			}
		}
		doc, err := schemaVal.MarshalJSON()
		if err != nil {
			return nil, formatCUEError(err)
		}
		spec.PayloadSchema = doc
	}

	return spec, nil
}

func optionalString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", &CompileError{
			Field:   field,
			Message: field + " must be a string",
			Pos:     fv.Pos(),
		}
	}
	return s, nil
}

func stringList(v cue.Value) ([]string, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{
				Field:   v.Path().String(),
				Message: "list elements must be strings",
				Pos:     iter.Value().Pos(),
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
