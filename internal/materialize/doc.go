// Package materialize merges a canonical reference's field history into one
// value per field.
//
// Each field path is resolved by a Policy chosen with this precedence:
//
//  1. a policy bound to (model, field path)
//  2. the model's default policy
//  3. the engine-wide default (built-in: last)
//
// Built-in policies are last, first, max, min and coalesce. An unknown
// policy name falls back to last and is warned about once per name.
//
// A model may instead register a RecordLevelOverride: a transformer that
// sees the whole history map and returns values and policy names itself.
// The choice between the two is made once, when the Engine is built.
//
// Output is deterministic. Fields are visited in sorted order, histories are
// consumed in arrival order, and documents are serialized as RFC 8785
// canonical JSON, so the same history always yields the same bytes.
package materialize
