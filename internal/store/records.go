package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/canon/internal/ir"
	"github.com/roach88/canon/internal/query"
)

// Records is the query descriptor for the records table.
var Records = query.Table{
	Name: "records",
	Columns: []string{
		"id", "source_id", "model", "occurred_at", "received_at",
		"policy_version", "correlation_id", "payload", "source_metadata", "diagnostics",
	},
	OrderBy: "seq ASC, id COLLATE BINARY ASC",
}

// PutRecord persists an intake envelope for audit.
// Uses ON CONFLICT(id) DO NOTHING: records are immutable, so a redelivered
// record is not an error. Returns whether a new row was inserted.
func (s *Store) PutRecord(ctx context.Context, rec ir.Record) (bool, error) {
	payload, err := marshalObject(rec.Payload)
	if err != nil {
		return false, fmt.Errorf("put record: %w", err)
	}
	meta, err := marshalObject(rec.SourceMetadata)
	if err != nil {
		return false, fmt.Errorf("put record: %w", err)
	}
	diags, err := marshalStrings(rec.Diagnostics)
	if err != nil {
		return false, fmt.Errorf("put record: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO records
		(id, source_id, model, occurred_at, received_at, policy_version, correlation_id, payload, source_metadata, diagnostics)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID,
		rec.SourceID,
		rec.Model,
		toNanos(rec.OccurredAt),
		toNanos(rec.ReceivedAt),
		rec.PolicyVersion,
		rec.CorrelationID,
		payload,
		meta,
		diags,
	)
	if err != nil {
		return false, fmt.Errorf("put record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("put record: rows affected: %w", err)
	}
	return n > 0, nil
}

// GetRecord retrieves a record by id. Returns ErrNotFound (wrapped) if absent.
func (s *Store) GetRecord(ctx context.Context, id string) (ir.Record, error) {
	recs, err := s.QueryRecords(ctx, query.Equals{Field: "id", Value: ir.String(id)}, 1)
	if err != nil {
		return ir.Record{}, err
	}
	if len(recs) == 0 {
		return ir.Record{}, fmt.Errorf("get record %s: %w", id, ErrNotFound)
	}
	return recs[0], nil
}

// QueryRecords lists records matching filter in arrival order.
func (s *Store) QueryRecords(ctx context.Context, filter query.Predicate, limit int) ([]ir.Record, error) {
	stmt, params, err := query.Compile(query.Select{Table: Records, Filter: filter, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, stmt, params...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	recs := []ir.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return recs, nil
}

func scanRecord(rows *sql.Rows) (ir.Record, error) {
	var rec ir.Record
	var occurred, received int64
	var payload, meta, diags string

	if err := rows.Scan(
		&rec.ID, &rec.SourceID, &rec.Model, &occurred, &received,
		&rec.PolicyVersion, &rec.CorrelationID, &payload, &meta, &diags,
	); err != nil {
		return ir.Record{}, fmt.Errorf("scan record: %w", err)
	}

	var err error
	rec.OccurredAt = fromNanos(occurred)
	rec.ReceivedAt = fromNanos(received)
	if rec.Payload, err = unmarshalObject(payload); err != nil {
		return ir.Record{}, fmt.Errorf("scan record %s: %w", rec.ID, err)
	}
	if rec.SourceMetadata, err = unmarshalObject(meta); err != nil {
		return ir.Record{}, fmt.Errorf("scan record %s: %w", rec.ID, err)
	}
	if rec.Diagnostics, err = unmarshalStrings(diags); err != nil {
		return ir.Record{}, fmt.Errorf("scan record %s: %w", rec.ID, err)
	}
	return rec, nil
}

// isNoRows maps sql.ErrNoRows to ErrNotFound.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
