package store

import (
	"context"
	"fmt"

	"github.com/roach88/canon/internal/ir"
	"github.com/roach88/canon/internal/query"
)

// Rejections is the query descriptor for the rejections table.
var Rejections = query.Table{
	Name:    "rejections",
	Columns: []string{"seq", "reason_code", "record_id", "model", "stage", "evidence", "at"},
	OrderBy: "seq ASC",
}

// PutRejection appends a rejection. Rejections are an audit log: a record
// redelivered and rejected again gets a second row.
func (s *Store) PutRejection(ctx context.Context, r ir.Rejection) (int64, error) {
	evidence, err := marshalObject(r.Evidence)
	if err != nil {
		return 0, fmt.Errorf("put rejection: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rejections (reason_code, record_id, model, stage, evidence, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(r.Code), r.RecordID, r.Model, r.Stage, evidence, toNanos(r.At))
	if err != nil {
		return 0, fmt.Errorf("put rejection: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("put rejection: last insert id: %w", err)
	}
	return seq, nil
}

// QueryRejections lists rejections matching filter in arrival order.
func (s *Store) QueryRejections(ctx context.Context, filter query.Predicate, limit int) ([]ir.Rejection, error) {
	stmt, params, err := query.Compile(query.Select{Table: Rejections, Filter: filter, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("query rejections: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, stmt, params...)
	if err != nil {
		return nil, fmt.Errorf("query rejections: %w", err)
	}
	defer rows.Close()

	out := []ir.Rejection{}
	for rows.Next() {
		var r ir.Rejection
		var code, evidence string
		var at int64
		if err := rows.Scan(&r.Seq, &code, &r.RecordID, &r.Model, &r.Stage, &evidence, &at); err != nil {
			return nil, fmt.Errorf("scan rejection: %w", err)
		}
		r.Code = ir.RejectionCode(code)
		r.At = fromNanos(at)
		if r.Evidence, err = unmarshalObject(evidence); err != nil {
			return nil, fmt.Errorf("rejection %d: %w", r.Seq, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rejections: %w", err)
	}
	return out, nil
}
