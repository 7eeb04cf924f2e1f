package stages

import (
	"context"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/canon/internal/ir"
	"github.com/roach88/canon/internal/pipeline"
)

// Standardize trims and NFC-normalizes every string in the payload,
// including strings nested in arrays and objects. Object keys are left as-is.
type Standardize struct{}

func (Standardize) Name() string { return "standardize.strings" }

func (Standardize) Intercept(_ context.Context, item *pipeline.WorkItem) pipeline.Action {
	payload, changed := standardizeObject(item.Record.Payload)
	if !changed {
		return pipeline.Continue{Item: item}
	}

	next := item.Clone()
	next.Record.Payload = payload
	return pipeline.Transform{
		Original:    item,
		Transformed: next,
		Reason:      "normalized payload strings",
	}
}

// StandardizeString is the normalization applied to each payload string.
func StandardizeString(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func standardizeObject(obj ir.Object) (ir.Object, bool) {
	out := make(ir.Object, len(obj))
	changed := false
	for k, v := range obj {
		nv, c := standardizeValue(v)
		out[k] = nv
		changed = changed || c
	}
	return out, changed
}

func standardizeValue(v ir.Value) (ir.Value, bool) {
	switch val := v.(type) {
	case ir.String:
		s := StandardizeString(string(val))
		return ir.String(s), s != string(val)
	case ir.Array:
		out := make(ir.Array, len(val))
		changed := false
		for i, elem := range val {
			nv, c := standardizeValue(elem)
			out[i] = nv
			changed = changed || c
		}
		return out, changed
	case ir.Object:
		return standardizeObject(val)
	default:
		return v, false
	}
}
