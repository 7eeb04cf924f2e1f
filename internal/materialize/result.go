package materialize

import (
	"github.com/roach88/canon/internal/ir"
)

// ValueKey holds a field's own value in the document when other fields are
// nested under the same path, e.g. "address" next to "address.city".
const ValueKey = "_value"

// FieldResult is one materialized field.
type FieldResult struct {
	Value  ir.Value
	Policy string
}

// Result is a materialized reference: one value per field path.
type Result struct {
	Model  string
	Fields map[string]FieldResult
}

func newResult(model string) Result {
	return Result{Model: model, Fields: make(map[string]FieldResult)}
}

// Paths returns field paths in sorted order.
func (r Result) Paths() []string {
	return sortedPaths(r.Fields)
}

// Document rebuilds the nested payload shape from dotted field paths. A
// field that is also the parent of other fields is written under ValueKey
// so neither is lost.
func (r Result) Document() ir.Object {
	paths := r.Paths()
	parents := make(map[string]bool)
	for _, path := range paths {
		for i := range len(path) {
			if path[i] == '.' {
				parents[path[:i]] = true
			}
		}
	}

	doc := ir.Object{}
	for _, path := range paths {
		target := path
		if parents[path] {
			target = path + "." + ValueKey
		}
		ir.SetPath(doc, target, r.Fields[path].Value)
	}
	return doc
}

// Policies maps each field path to the policy that produced it.
func (r Result) Policies() map[string]string {
	out := make(map[string]string, len(r.Fields))
	for path, f := range r.Fields {
		out[path] = f.Policy
	}
	return out
}

// Canonical serializes the document as RFC 8785 canonical JSON.
func (r Result) Canonical() ([]byte, error) {
	return ir.MarshalCanonical(r.Document())
}

// Lineage describes, per field, the winning value, its policy and every
// contribution in arrival order. history must be the same input given to
// Materialize.
func Lineage(r Result, history []ir.FieldValue) ir.Object {
	byField := groupByField(history)
	fields := make(ir.Object, len(r.Fields))
	for _, path := range r.Paths() {
		contributions := make(ir.Array, 0, len(byField[path]))
		for _, fv := range byField[path] {
			contributions = append(contributions, ir.Object{
				"seq":         ir.Int(fv.Seq),
				"version":     ir.Int(fv.Version),
				"record_id":   ir.String(fv.RecordID),
				"source_id":   ir.String(fv.SourceID),
				"occurred_at": ir.String(ir.FormatTime(fv.OccurredAt)),
				"value":       valueOrNull(fv.Value),
			})
		}
		f := r.Fields[path]
		fields[path] = ir.Object{
			"policy":        ir.String(f.Policy),
			"value":         f.Value,
			"contributions": contributions,
		}
	}
	return ir.Object{"model": ir.String(r.Model), "fields": fields}
}
