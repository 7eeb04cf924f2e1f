package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/canon/internal/ir"
	"github.com/roach88/canon/internal/query"
)

// References is the query descriptor for canonical_references.
// Time columns compare as unix nanoseconds; build values with TimeValue.
var References = query.Table{
	Name: "canonical_references",
	Columns: []string{
		"id", "model", "business_key", "version", "requires_projection",
		"retired", "created_at", "updated_at",
	},
	OrderBy: "id COLLATE BINARY ASC",
}

// GetReference retrieves a canonical reference by id.
// Returns ErrNotFound (wrapped) if absent.
func (s *Store) GetReference(ctx context.Context, id string) (ir.CanonicalReference, error) {
	refs, err := s.QueryReferences(ctx, query.Equals{Field: "id", Value: ir.String(id)}, 1)
	if err != nil {
		return ir.CanonicalReference{}, err
	}
	if len(refs) == 0 {
		return ir.CanonicalReference{}, fmt.Errorf("get reference %s: %w", id, ErrNotFound)
	}
	return refs[0], nil
}

// QueryReferences lists references matching filter ordered by id.
func (s *Store) QueryReferences(ctx context.Context, filter query.Predicate, limit int) ([]ir.CanonicalReference, error) {
	stmt, params, err := query.Compile(query.Select{Table: References, Filter: filter, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("query references: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, stmt, params...)
	if err != nil {
		return nil, fmt.Errorf("query references: %w", err)
	}
	defer rows.Close()

	refs := []ir.CanonicalReference{}
	for rows.Next() {
		var ref ir.CanonicalReference
		var businessKey sql.NullString
		var created, updated int64
		if err := rows.Scan(
			&ref.ID, &ref.Model, &businessKey, &ref.Version, &ref.RequiresProjection,
			&ref.Retired, &created, &updated,
		); err != nil {
			return nil, fmt.Errorf("scan reference: %w", err)
		}
		ref.BusinessKey = businessKey.String
		ref.CreatedAt = fromNanos(created)
		ref.UpdatedAt = fromNanos(updated)
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate references: %w", err)
	}
	return refs, nil
}

// ClearProjectionFlag clears requires_projection only if the reference is
// still at version. Returns false when a newer mutation arrived in between,
// in which case the flag stays set for the next sweep.
func (s *Store) ClearProjectionFlag(ctx context.Context, id string, version int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE canonical_references
		SET requires_projection = 0
		WHERE id = ? AND version = ? AND requires_projection = 1
	`, id, version)
	if err != nil {
		return false, fmt.Errorf("clear projection flag: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("clear projection flag: rows affected: %w", err)
	}
	return n > 0, nil
}

// Retire soft-retires a reference. Retired references keep their keys and
// history but are skipped by replay.
func (s *Store) Retire(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE canonical_references
		SET retired = 1, updated_at = ?
		WHERE id = ?
	`, toNanos(at), id)
	if err != nil {
		return fmt.Errorf("retire reference: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("retire reference: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("retire reference %s: %w", id, ErrNotFound)
	}
	return nil
}
