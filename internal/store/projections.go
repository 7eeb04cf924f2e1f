package store

import (
	"context"
	"fmt"

	"github.com/roach88/canon/internal/ir"
)

// PutProjection upserts a view document. A stored projection is only
// replaced by one at the same or a higher version, so a late task for an old
// version never overwrites newer output. Returns whether the row changed.
func (s *Store) PutProjection(ctx context.Context, p ir.Projection) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO projections (reference_id, view_name, version, document, materialized_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(reference_id, view_name) DO UPDATE SET
			version = excluded.version,
			document = excluded.document,
			materialized_at = excluded.materialized_at
		WHERE excluded.version >= projections.version
	`, p.ReferenceID, p.View, p.Version, string(p.Document), toNanos(p.MaterializedAt))
	if err != nil {
		return false, fmt.Errorf("put projection: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("put projection: rows affected: %w", err)
	}
	return n > 0, nil
}

// ReadProjection returns the materialized view for a reference.
// Returns ErrNotFound (wrapped) if it has not been materialized yet.
func (s *Store) ReadProjection(ctx context.Context, referenceID, view string) (ir.Projection, error) {
	p := ir.Projection{ReferenceID: referenceID, View: view}
	var doc string
	var at int64

	err := s.db.QueryRowContext(ctx, `
		SELECT version, document, materialized_at
		FROM projections
		WHERE reference_id = ? AND view_name = ?
	`, referenceID, view).Scan(&p.Version, &doc, &at)
	if isNoRows(err) {
		return ir.Projection{}, fmt.Errorf("read projection %s/%s: %w", referenceID, view, ErrNotFound)
	}
	if err != nil {
		return ir.Projection{}, fmt.Errorf("read projection: %w", err)
	}

	p.Document = []byte(doc)
	p.MaterializedAt = fromNanos(at)
	return p, nil
}
