package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/canon/internal/ir"
	"github.com/roach88/canon/internal/query"
)

// Parked is the query descriptor for parked_records.
var Parked = query.Table{
	Name: "parked_records",
	Columns: []string{
		"id", "record_id", "model", "stage", "reason_code", "evidence",
		"item", "attempts", "parked_at", "reinjected_at",
	},
	OrderBy: "parked_at ASC, id COLLATE BINARY ASC",
}

// PutParked moves a work item into the stage-scoped holding area.
// Uses ON CONFLICT(id) DO NOTHING so a redelivered park is a no-op.
func (s *Store) PutParked(ctx context.Context, p ir.ParkedRecord) (bool, error) {
	evidence, err := marshalObject(p.Evidence)
	if err != nil {
		return false, fmt.Errorf("put parked: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO parked_records
		(id, record_id, model, stage, reason_code, evidence, item, attempts, parked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, p.ID, p.RecordID, p.Model, p.Stage, p.ReasonCode, evidence, p.Item, p.Attempts, toNanos(p.ParkedAt))
	if err != nil {
		return false, fmt.Errorf("put parked: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("put parked: rows affected: %w", err)
	}
	return n > 0, nil
}

// GetParked retrieves a parked record. Returns ErrNotFound (wrapped) if absent.
func (s *Store) GetParked(ctx context.Context, id string) (ir.ParkedRecord, error) {
	list, err := s.QueryParked(ctx, query.Equals{Field: "id", Value: ir.String(id)}, 1)
	if err != nil {
		return ir.ParkedRecord{}, err
	}
	if len(list) == 0 {
		return ir.ParkedRecord{}, fmt.Errorf("get parked %s: %w", id, ErrNotFound)
	}
	return list[0], nil
}

// QueryParked lists parked records matching filter, oldest first.
// Filter on IsNull{"reinjected_at"} for the items still awaiting an operator.
func (s *Store) QueryParked(ctx context.Context, filter query.Predicate, limit int) ([]ir.ParkedRecord, error) {
	stmt, params, err := query.Compile(query.Select{Table: Parked, Filter: filter, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("query parked: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, stmt, params...)
	if err != nil {
		return nil, fmt.Errorf("query parked: %w", err)
	}
	defer rows.Close()

	out := []ir.ParkedRecord{}
	for rows.Next() {
		var p ir.ParkedRecord
		var evidence string
		var parkedAt int64
		var reinjectedAt sql.NullInt64
		if err := rows.Scan(
			&p.ID, &p.RecordID, &p.Model, &p.Stage, &p.ReasonCode, &evidence,
			&p.Item, &p.Attempts, &parkedAt, &reinjectedAt,
		); err != nil {
			return nil, fmt.Errorf("scan parked: %w", err)
		}
		p.ParkedAt = fromNanos(parkedAt)
		if reinjectedAt.Valid {
			t := fromNanos(reinjectedAt.Int64)
			p.ReinjectedAt = &t
		}
		if p.Evidence, err = unmarshalObject(evidence); err != nil {
			return nil, fmt.Errorf("parked %s: %w", p.ID, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate parked: %w", err)
	}
	return out, nil
}

// MarkReinjected stamps a parked record as handed back to the pipeline.
// Returns false if it was already reinjected, so an operator double-submit
// re-enqueues at most once.
func (s *Store) MarkReinjected(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE parked_records
		SET reinjected_at = ?
		WHERE id = ? AND reinjected_at IS NULL
	`, toNanos(at), id)
	if err != nil {
		return false, fmt.Errorf("mark reinjected: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark reinjected: rows affected: %w", err)
	}
	return n > 0, nil
}

// ClearReinjected undoes MarkReinjected when the re-enqueue that followed it
// failed, leaving the record parked for another attempt.
func (s *Store) ClearReinjected(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE parked_records SET reinjected_at = NULL WHERE id = ?
	`, id); err != nil {
		return fmt.Errorf("clear reinjected: %w", err)
	}
	return nil
}
