package ir

import "time"

// NOTE: These are store-layer types used by the key resolution write path,
// not durable entities in their own right.

// FieldUpdate is one payload leaf accepted from a record.
type FieldUpdate struct {
	Path  string `json:"field_path"`
	Value Value  `json:"value"`
}

// Binding is the atomic unit of work for key resolution: claim every key for
// one reference and append the record's fields, or do nothing at all.
type Binding struct {
	// ReferenceID is the existing owner, or the freshly minted id when Create is set.
	ReferenceID string

	// Create inserts the canonical reference row in the same transaction.
	Create bool

	Model string

	// Keys must be sorted with CompareKeys.
	Keys []AggregationKey

	// BusinessKey is assigned only if the reference has none yet.
	BusinessKey string

	RecordID   string
	SourceID   string
	OccurredAt time.Time
	Fields     []FieldUpdate
	At         time.Time
}

// BindResult reports the outcome of a Binding.
// A non-empty Conflicts map means nothing was written.
type BindResult struct {
	ReferenceID string
	Version     int64
	Created     bool

	// Conflicts maps keys found bound to another reference at write time to
	// that reference's id.
	Conflicts map[AggregationKey]string

	// AlreadyBound reports that the record was accepted by an earlier Bind;
	// ReferenceID and Version describe that first binding.
	AlreadyBound bool
}

// Committed reports whether the binding took effect.
func (r BindResult) Committed() bool {
	return len(r.Conflicts) == 0
}
