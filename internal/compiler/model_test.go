package compiler

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileModel(t *testing.T, src, path string) cue.Value {
	t.Helper()
	v := cuecontext.New().CompileString(src)
	require.NoError(t, v.Err())
	return v.LookupPath(cue.ParsePath(path))
}

func TestCompileModelBasic(t *testing.T) {
	v := compileModel(t, `
		model: device: {
			keys: ["serial", "asset.tag"]
			business_key: "serial"
			default_policy: "last"
			policies: {
				"specs.cores": "max"
				hostname: "coalesce"
			}
			views: ["Canonical"]
			payload_schema: {
				type: "object"
				required: ["serial"]
			}
		}
	`, "model.device")

	spec, err := CompileModel(v)
	require.NoError(t, err)

	assert.Equal(t, "device", spec.Name)
	assert.Equal(t, []string{"serial", "asset.tag"}, spec.Keys)
	assert.Equal(t, "serial", spec.BusinessKey)
	assert.Equal(t, "last", spec.DefaultPolicy)
	assert.Equal(t, map[string]string{"specs.cores": "max", "hostname": "coalesce"}, spec.FieldPolicies)
	assert.Equal(t, []string{"Canonical"}, spec.Views)
	assert.Empty(t, spec.RecordTransformer)
	assert.JSONEq(t, `{"type":"object","required":["serial"]}`, string(spec.PayloadSchema))
}

func TestCompileModelMinimal(t *testing.T) {
	v := compileModel(t, `model: person: keys: ["email"]`, "model.person")

	spec, err := CompileModel(v)
	require.NoError(t, err)

	assert.Equal(t, "person", spec.Name)
	assert.Equal(t, []string{"email"}, spec.Keys)
	assert.Nil(t, spec.FieldPolicies)
	assert.Nil(t, spec.PayloadSchema)
	assert.Nil(t, spec.Views)
}

func TestCompileModelTransformer(t *testing.T) {
	v := compileModel(t, `
		model: invoice: {
			keys: ["number"]
			transformer: "invoice-merge"
		}
	`, "model.invoice")

	spec, err := CompileModel(v)
	require.NoError(t, err)
	assert.Equal(t, "invoice-merge", spec.RecordTransformer)
}

func TestCompileModelMissingKeys(t *testing.T) {
	v := compileModel(t, `model: bad: business_key: "x"`, "model.bad")

	_, err := CompileModel(v)
	require.Error(t, err)

	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
	assert.Equal(t, "keys", compileErr.Field)
	assert.Contains(t, err.Error(), "required")
}

func TestCompileModelWrongTypes(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{"non-string key", `model: m: keys: [1]`, "list elements must be strings"},
		{"non-string business key", `model: m: { keys: ["a"], business_key: 3 }`, "business_key must be a string"},
		{"non-string policy", `model: m: { keys: ["a"], policies: { a: true } }`, "policy must be a string"},
		{"scalar schema", `model: m: { keys: ["a"], payload_schema: "object" }`, "JSON Schema object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := compileModel(t, tt.src, "model.m")
			_, err := CompileModel(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestCompileModelInvalidCUESyntax(t *testing.T) {
	v := cuecontext.New().CompileString(`
		model: bad: {
			this is not valid CUE
		}
	`)

	require.Error(t, v.Err())
}

func TestCompileErrorFormat(t *testing.T) {
	err := &CompileError{
		Field:   "keys",
		Message: "keys are required",
	}
	assert.Equal(t, "keys: keys are required", err.Error())
}
