package registry

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/roach88/canon/internal/ir"
)

// schemaBaseURL namespaces model schemas inside the compiler. Nothing is
// fetched from it.
const schemaBaseURL = "https://schemas.canon.local/models/"

// SchemaSet holds the compiled payload schemas of every model that declares
// one.
//
// Thread-safety: SchemaSet is immutable after compilation.
type SchemaSet struct {
	schemas map[string]*jsonschema.Schema
}

// compileSchemas compiles every declared payload schema, collecting errors.
func compileSchemas(models []ir.ModelSpec) (*SchemaSet, error) {
	set := &SchemaSet{schemas: make(map[string]*jsonschema.Schema)}
	var errs []error

	for _, m := range models {
		if len(m.PayloadSchema) == 0 {
			continue
		}
		sch, err := compileSchema(m.Name, m.PayloadSchema)
		if err != nil {
			errs = append(errs, fmt.Errorf("model %s: payload schema: %w", m.Name, err))
			continue
		}
		set.schemas[m.Name] = sch
	}
	return set, errors.Join(errs...)
}

func compileSchema(model string, doc []byte) (*jsonschema.Schema, error) {
	parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(doc))
	if err != nil {
		return nil, err
	}
	url := schemaBaseURL + model + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, parsed); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// Validate checks payload against the model's schema. Models without a
// schema always pass.
func (s *SchemaSet) Validate(model string, payload ir.Object) error {
	if s == nil {
		return nil
	}
	sch, ok := s.schemas[model]
	if !ok {
		return nil
	}

	// Round-trip through canonical JSON so the validator sees plain JSON
	// values with json.Number integers.
	data, err := ir.MarshalCanonical(payload)
	if err != nil {
		return fmt.Errorf("validate %s payload: %w", model, err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("validate %s payload: %w", model, err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("%s payload: %w", model, err)
	}
	return nil
}

// Has reports whether a model declares a payload schema.
func (s *SchemaSet) Has(model string) bool {
	if s == nil {
		return false
	}
	_, ok := s.schemas[model]
	return ok
}
