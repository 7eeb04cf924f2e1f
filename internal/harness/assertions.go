package harness

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/canon/internal/ir"
	"github.com/roach88/canon/internal/query"
	"github.com/roach88/canon/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure
// messages, in assertion order.
func EvaluateAssertions(ctx context.Context, st *store.Store, result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(ctx, st, result, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func evaluate(ctx context.Context, st *store.Store, result *Result, a Assertion) error {
	switch a.Type {
	case AssertAccepted:
		return assertAccepted(result, a)
	case AssertParked:
		return assertParked(result, a)
	case AssertSameReference:
		return assertSameReference(result, a)
	case AssertReferenceCount:
		return assertReferenceCount(ctx, st, a)
	case AssertRejectionCount:
		return assertRejectionCount(ctx, st, a)
	case AssertProjection:
		return assertProjection(ctx, st, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertAccepted(result *Result, a Assertion) error {
	ev, _ := result.Event(a.Record)
	if ev.Outcome != OutcomeAccepted {
		return &AssertionError{
			Type:     AssertAccepted,
			Expected: fmt.Sprintf("record %s accepted", a.Record),
			Actual:   describe(ev),
		}
	}
	if a.Reference != "" && ev.ReferenceID != a.Reference {
		return &AssertionError{
			Type:     AssertAccepted,
			Expected: fmt.Sprintf("record %s bound to %s", a.Record, a.Reference),
			Actual:   fmt.Sprintf("bound to %s", ev.ReferenceID),
		}
	}
	if a.Version != 0 && ev.Version != a.Version {
		return &AssertionError{
			Type:     AssertAccepted,
			Expected: fmt.Sprintf("record %s accepted at version %d", a.Record, a.Version),
			Actual:   fmt.Sprintf("accepted at version %d", ev.Version),
		}
	}
	return nil
}

func assertParked(result *Result, a Assertion) error {
	ev, _ := result.Event(a.Record)
	matches := ev.Outcome == OutcomeParked &&
		(a.Stage == "" || ev.Stage == a.Stage) &&
		(a.Reason == "" || ev.Reason == a.Reason)
	if !matches {
		return &AssertionError{
			Type:     AssertParked,
			Expected: fmt.Sprintf("record %s parked (stage=%q reason=%q)", a.Record, a.Stage, a.Reason),
			Actual:   describe(ev),
		}
	}
	return nil
}

func assertSameReference(result *Result, a Assertion) error {
	var refs []string
	for _, id := range a.Records {
		ev, _ := result.Event(id)
		if ev.Outcome != OutcomeAccepted {
			return &AssertionError{
				Type:     AssertSameReference,
				Expected: fmt.Sprintf("record %s accepted", id),
				Actual:   describe(ev),
			}
		}
		refs = append(refs, ev.ReferenceID)
	}
	if len(slices.Compact(slices.Clone(refs))) != 1 {
		return &AssertionError{
			Type:     AssertSameReference,
			Expected: fmt.Sprintf("records %v share one reference", a.Records),
			Actual:   fmt.Sprintf("references %v", refs),
		}
	}
	return nil
}

func assertReferenceCount(ctx context.Context, st *store.Store, a Assertion) error {
	var filter query.Predicate
	if a.Model != "" {
		filter = query.Equals{Field: "model", Value: ir.String(a.Model)}
	}
	refs, err := st.QueryReferences(ctx, filter, 0)
	if err != nil {
		return err
	}
	if len(refs) != *a.Count {
		return &AssertionError{
			Type:     AssertReferenceCount,
			Expected: fmt.Sprintf("%d references (model=%q)", *a.Count, a.Model),
			Actual:   fmt.Sprintf("%d references", len(refs)),
		}
	}
	return nil
}

func assertRejectionCount(ctx context.Context, st *store.Store, a Assertion) error {
	var filter query.Predicate
	if a.Reason != "" {
		filter = query.Equals{Field: "reason_code", Value: ir.String(a.Reason)}
	}
	rejections, err := st.QueryRejections(ctx, filter, 0)
	if err != nil {
		return err
	}
	if len(rejections) != *a.Count {
		return &AssertionError{
			Type:     AssertRejectionCount,
			Expected: fmt.Sprintf("%d rejections (reason=%q)", *a.Count, a.Reason),
			Actual:   fmt.Sprintf("%d rejections", len(rejections)),
		}
	}
	return nil
}

// assertProjection checks expected values (subset semantics) at dotted
// paths of a projection document.
func assertProjection(ctx context.Context, st *store.Store, a Assertion) error {
	view := a.View
	if view == "" {
		view = ir.ViewCanonical
	}
	p, err := st.ReadProjection(ctx, a.Reference, view)
	if errors.Is(err, store.ErrNotFound) {
		return &AssertionError{
			Type:     AssertProjection,
			Expected: fmt.Sprintf("%s projection of %s", view, a.Reference),
			Actual:   "not found",
		}
	}
	if err != nil {
		return err
	}
	doc, err := ir.UnmarshalValue(p.Document)
	if err != nil {
		return fmt.Errorf("decode projection: %w", err)
	}
	obj, ok := doc.(ir.Object)
	if !ok {
		return fmt.Errorf("projection document is %s, not an object", ir.Kind(doc))
	}

	paths := make([]string, 0, len(a.Expect))
	for path := range a.Expect {
		paths = append(paths, path)
	}
	slices.Sort(paths)

	for _, path := range paths {
		want, err := ir.FromAny(a.Expect[path])
		if err != nil {
			return fmt.Errorf("expect[%q]: %w", path, err)
		}
		got, found := ir.Lookup(obj, path)
		if !found || !valuesEqual(want, got) {
			actual := "missing"
			if found {
				actual = formatValue(got)
			}
			return &AssertionError{
				Type:     AssertProjection,
				Expected: fmt.Sprintf("%s %s: %s = %s", a.Reference, view, path, formatValue(want)),
				Actual:   actual,
			}
		}
	}
	return nil
}

func valuesEqual(a, b ir.Value) bool {
	return ir.Kind(a) == ir.Kind(b) && ir.Compare(a, b) == 0
}

func formatValue(v ir.Value) string {
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func describe(ev TraceEvent) string {
	switch ev.Outcome {
	case OutcomeAccepted:
		return fmt.Sprintf("accepted into %s at version %d", ev.ReferenceID, ev.Version)
	case OutcomeParked:
		return fmt.Sprintf("parked at %s: %s", ev.Stage, ev.Reason)
	case "":
		return "record not in scenario"
	default:
		return ev.Outcome
	}
}
