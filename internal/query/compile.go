package query

import (
	"fmt"
	"strings"

	"github.com/roach88/canon/internal/ir"
)

// Compile converts a Select to parameterised SQL for SQLite.
// Returns (sql, params, error).
//
// MANDATORY: every query ends with the table's stable ORDER BY.
// MANDATORY: values are bound with ? placeholders, never interpolated.
func Compile(q Select) (string, []any, error) {
	if q.Table.Name == "" {
		return "", nil, fmt.Errorf("cannot compile query without a table")
	}
	if q.Table.OrderBy == "" {
		return "", nil, fmt.Errorf("table %s has no stable order", q.Table.Name)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", strings.Join(q.Table.Columns, ", "), q.Table.Name)

	var params []any
	if q.Filter != nil {
		where, whereParams, err := compilePredicate(q.Table, q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
		params = whereParams
	}

	sb.WriteString(" ORDER BY ")
	sb.WriteString(q.Table.OrderBy)

	if q.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		params = append(params, q.Limit)
	}

	return sb.String(), params, nil
}

// compilePredicate compiles one predicate to a WHERE fragment.
func compilePredicate(t Table, p Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case Equals:
		return compileComparison(t, pred.Field, "=", pred.Value)
	case AtLeast:
		return compileComparison(t, pred.Field, ">=", pred.Value)
	case Before:
		return compileComparison(t, pred.Field, "<", pred.Value)
	case IsNull:
		if !t.hasColumn(pred.Field) {
			return "", nil, fmt.Errorf("unknown field %q on %s", pred.Field, t.Name)
		}
		return pred.Field + " IS NULL", nil, nil
	case And:
		return compileAnd(t, pred)
	case nil:
		return "1 = 1", nil, nil
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func compileComparison(t Table, field, op string, v ir.Value) (string, []any, error) {
	if !t.hasColumn(field) {
		return "", nil, fmt.Errorf("unknown field %q on %s", field, t.Name)
	}
	param, err := valueToParam(v)
	if err != nil {
		return "", nil, fmt.Errorf("field %q: %w", field, err)
	}
	return fmt.Sprintf("%s %s ?", field, op), []any{param}, nil
}

func compileAnd(t Table, and And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil
	}

	parts := make([]string, 0, len(and.Predicates))
	var params []any
	for _, pred := range and.Predicates {
		sql, predParams, err := compilePredicate(t, pred)
		if err != nil {
			return "", nil, err
		}
		if _, nested := pred.(And); nested {
			sql = "(" + sql + ")"
		}
		parts = append(parts, sql)
		params = append(params, predParams...)
	}
	return strings.Join(parts, " AND "), params, nil
}

// valueToParam converts a scalar ir.Value to a SQL parameter.
// Null, arrays and objects cannot be compared with =, >= or <.
func valueToParam(v ir.Value) (any, error) {
	switch val := v.(type) {
	case ir.String:
		return string(val), nil
	case ir.Int:
		return int64(val), nil
	case ir.Bool:
		return bool(val), nil
	case nil, ir.Null:
		return nil, fmt.Errorf("null cannot be compared; use IsNull")
	default:
		return nil, fmt.Errorf("%s cannot be used as SQL parameter", ir.Kind(v))
	}
}
