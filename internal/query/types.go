package query

import "github.com/roach88/canon/internal/ir"

// Predicate is a filter condition over one entity table.
//
// This is a sealed interface - only types in this package implement it.
//
// Predicate types:
//   - Equals: field = value
//   - AtLeast: field >= value (inclusive lower bound)
//   - Before: field < value (exclusive upper bound)
//   - IsNull: field IS NULL
//   - And: all predicates must be true
//
// There is no OR. Callers needing a union issue two queries.
type Predicate interface {
	predicateNode()
}

// Equals matches rows whose field equals a scalar value.
// Null never equals anything; use IsNull.
type Equals struct {
	Field string
	Value ir.Value
}

func (Equals) predicateNode() {}

// AtLeast matches rows whose field is >= Value. Used for window lower bounds.
type AtLeast struct {
	Field string
	Value ir.Value
}

func (AtLeast) predicateNode() {}

// Before matches rows whose field is < Value. Used for window upper bounds.
type Before struct {
	Field string
	Value ir.Value
}

func (Before) predicateNode() {}

// IsNull matches rows whose field is NULL.
type IsNull struct {
	Field string
}

func (IsNull) predicateNode() {}

// And is a conjunction. An empty And is always true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Select reads rows from one table.
type Select struct {
	Table  Table
	Filter Predicate // nil = no filter
	Limit  int       // 0 = unlimited
}

// Table describes an entity table to the compiler.
type Table struct {
	Name    string
	Columns []string

	// OrderBy is the stable order, e.g. "seq ASC, id COLLATE BINARY ASC".
	OrderBy string
}

func (t Table) hasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Where builds an And from the given predicates, dropping nils.
// Returns nil when nothing remains.
func Where(preds ...Predicate) Predicate {
	var kept []Predicate
	for _, p := range preds {
		if p != nil {
			kept = append(kept, p)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return And{Predicates: kept}
	}
}
