package materialize

import (
	"github.com/roach88/canon/internal/ir"
)

// Built-in policy names.
const (
	PolicyLast     = "last"
	PolicyFirst    = "first"
	PolicyMax      = "max"
	PolicyMin      = "min"
	PolicyCoalesce = "coalesce"
)

// DefaultPolicy is the engine-wide default when none is configured.
const DefaultPolicy = PolicyLast

// Policy reduces one field's history to a single value.
//
// History is never empty and is ordered oldest first by arrival. Resolve
// must be a pure function of its input.
type Policy interface {
	Name() string
	Resolve(history []ir.FieldValue) ir.Value
}

// PolicyFunc adapts a function to the Policy interface.
type PolicyFunc struct {
	PolicyName string
	Fn         func(history []ir.FieldValue) ir.Value
}

func (p PolicyFunc) Name() string { return p.PolicyName }

func (p PolicyFunc) Resolve(history []ir.FieldValue) ir.Value { return p.Fn(history) }

// BuiltinPolicies returns fresh instances of the built-in policies.
func BuiltinPolicies() []Policy {
	return []Policy{lastPolicy{}, firstPolicy{}, maxPolicy{}, minPolicy{}, coalescePolicy{}}
}

func valueOrNull(v ir.Value) ir.Value {
	if v == nil {
		return ir.Null{}
	}
	return v
}

// lastPolicy returns the most recent value, null included.
type lastPolicy struct{}

func (lastPolicy) Name() string { return PolicyLast }

func (lastPolicy) Resolve(history []ir.FieldValue) ir.Value {
	return valueOrNull(history[len(history)-1].Value)
}

// firstPolicy returns the earliest value, null included.
type firstPolicy struct{}

func (firstPolicy) Name() string { return PolicyFirst }

func (firstPolicy) Resolve(history []ir.FieldValue) ir.Value {
	return valueOrNull(history[0].Value)
}

// maxPolicy returns the greatest non-null value under ir.Compare.
// Equal maxima resolve to the earliest arrival.
type maxPolicy struct{}

func (maxPolicy) Name() string { return PolicyMax }

func (maxPolicy) Resolve(history []ir.FieldValue) ir.Value {
	return extreme(history, 1)
}

// minPolicy is maxPolicy reversed.
type minPolicy struct{}

func (minPolicy) Name() string { return PolicyMin }

func (minPolicy) Resolve(history []ir.FieldValue) ir.Value {
	return extreme(history, -1)
}

// extreme scans oldest first and replaces the best only on a strict
// improvement, which is what makes the earliest arrival win ties.
func extreme(history []ir.FieldValue, sign int) ir.Value {
	var best ir.Value
	for _, fv := range history {
		if ir.IsNull(fv.Value) {
			continue
		}
		if best == nil || sign*ir.Compare(fv.Value, best) > 0 {
			best = fv.Value
		}
	}
	return valueOrNull(best)
}

// coalescePolicy returns the first non-null value scanning from the most
// recent.
type coalescePolicy struct{}

func (coalescePolicy) Name() string { return PolicyCoalesce }

func (coalescePolicy) Resolve(history []ir.FieldValue) ir.Value {
	for i := len(history) - 1; i >= 0; i-- {
		if !ir.IsNull(history[i].Value) {
			return history[i].Value
		}
	}
	return ir.Null{}
}
