package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/canon/internal/ir"
)

// LookupKeys returns the index entries for the given keys.
// Keys with no entry are absent from the result.
func (s *Store) LookupKeys(ctx context.Context, keys []ir.AggregationKey) (map[ir.AggregationKey]ir.KeyIndexEntry, error) {
	out := make(map[ir.AggregationKey]ir.KeyIndexEntry, len(keys))
	for _, k := range keys {
		entry, err := lookupKey(ctx, s.db, k)
		if isNoRows(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lookup key %s: %w", k, err)
		}
		out[k] = entry
	}
	return out, nil
}

func lookupKey(ctx context.Context, q querier, k ir.AggregationKey) (ir.KeyIndexEntry, error) {
	var entry ir.KeyIndexEntry
	var businessKey sql.NullString
	var boundAt int64

	err := q.QueryRowContext(ctx, `
		SELECT k.reference_id, r.business_key, k.bound_by, k.bound_at
		FROM key_index k
		JOIN canonical_references r ON r.id = k.reference_id
		WHERE k.namespace = ? AND k.value = ?
	`, k.Namespace, k.Value).Scan(&entry.ReferenceID, &businessKey, &entry.BoundBy, &boundAt)
	if err != nil {
		return ir.KeyIndexEntry{}, err
	}

	entry.Key = k
	entry.BusinessKey = businessKey.String
	entry.BoundAt = fromNanos(boundAt)
	return entry, nil
}

// KeysForReference lists every key bound to a reference, sorted by
// namespace then value.
func (s *Store) KeysForReference(ctx context.Context, referenceID string) ([]ir.KeyIndexEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT k.namespace, k.value, k.reference_id, r.business_key, k.bound_by, k.bound_at
		FROM key_index k
		JOIN canonical_references r ON r.id = k.reference_id
		WHERE k.reference_id = ?
		ORDER BY k.namespace COLLATE BINARY ASC, k.value COLLATE BINARY ASC
	`, referenceID)
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	entries := []ir.KeyIndexEntry{}
	for rows.Next() {
		var entry ir.KeyIndexEntry
		var businessKey sql.NullString
		var boundAt int64
		if err := rows.Scan(
			&entry.Key.Namespace, &entry.Key.Value, &entry.ReferenceID,
			&businessKey, &entry.BoundBy, &boundAt,
		); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		entry.BusinessKey = businessKey.String
		entry.BoundAt = fromNanos(boundAt)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return entries, nil
}

// Bind atomically claims every key in b for b.ReferenceID and appends the
// record's fields to the reference's history, in one transaction.
//
// Each key is claimed with INSERT ... ON CONFLICT DO NOTHING. A key that was
// already bound to this reference is fine; a key bound to any other
// reference is a lost race: the transaction rolls back and the conflict is
// reported in BindResult.Conflicts with a nil error. Nothing is written in
// that case, including the reference row when b.Create is set.
//
// A record is bound at most once. When b.RecordID was already accepted,
// nothing is written and the first binding's reference and version are
// returned with AlreadyBound set.
//
// On success the reference version increments by one, requires_projection is
// set, and the business key is assigned if the reference has none and no
// other reference of the model holds it.
func (s *Store) Bind(ctx context.Context, b ir.Binding) (ir.BindResult, error) {
	result := ir.BindResult{ReferenceID: b.ReferenceID, Created: b.Create}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("bind: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	at := toNanos(b.At)
	var version int64

	// Step 0: claim the record
	res, err := tx.ExecContext(ctx, `
		INSERT INTO record_bindings (record_id, reference_id, version, bound_at)
		VALUES (?, ?, 0, ?)
		ON CONFLICT(record_id) DO NOTHING
	`, b.RecordID, b.ReferenceID, at)
	if err != nil {
		return result, fmt.Errorf("bind: claim record %s: %w", b.RecordID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return result, fmt.Errorf("bind: rows affected: %w", err)
	}
	if n == 0 {
		if err := tx.QueryRowContext(ctx, `
			SELECT reference_id, version FROM record_bindings WHERE record_id = ?
		`, b.RecordID).Scan(&result.ReferenceID, &result.Version); err != nil {
			return result, fmt.Errorf("bind: read binding of %s: %w", b.RecordID, err)
		}
		result.Created = false
		result.AlreadyBound = true
		return result, nil
	}

	if b.Create {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO canonical_references
			(id, model, version, requires_projection, retired, created_at, updated_at)
			VALUES (?, ?, 0, 0, 0, ?, ?)
		`, b.ReferenceID, b.Model, at, at)
		if err != nil {
			return result, fmt.Errorf("bind: create reference: %w", err)
		}
	} else {
		err := tx.QueryRowContext(ctx, `
			SELECT version FROM canonical_references WHERE id = ?
		`, b.ReferenceID).Scan(&version)
		if isNoRows(err) {
			return result, fmt.Errorf("bind: reference %s: %w", b.ReferenceID, ErrNotFound)
		}
		if err != nil {
			return result, fmt.Errorf("bind: read version: %w", err)
		}
	}

	// Step 1: claim keys (compare-and-set per key)
	for _, k := range b.Keys {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO key_index (namespace, value, reference_id, bound_by, bound_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(namespace, value) DO NOTHING
		`, k.Namespace, k.Value, b.ReferenceID, b.RecordID, at)
		if err != nil {
			return result, fmt.Errorf("bind: claim key %s: %w", k, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return result, fmt.Errorf("bind: rows affected: %w", err)
		}
		if n > 0 {
			continue
		}

		var owner string
		if err := tx.QueryRowContext(ctx, `
			SELECT reference_id FROM key_index WHERE namespace = ? AND value = ?
		`, k.Namespace, k.Value).Scan(&owner); err != nil {
			return result, fmt.Errorf("bind: read owner of %s: %w", k, err)
		}
		if owner != b.ReferenceID {
			if result.Conflicts == nil {
				result.Conflicts = make(map[ir.AggregationKey]string)
			}
			result.Conflicts[k] = owner
		}
	}

	if len(result.Conflicts) > 0 {
		result.Created = false
		return result, nil
	}

	// Step 2: bump version and flag for projection
	version++
	if _, err := tx.ExecContext(ctx, `
		UPDATE canonical_references
		SET version = ?, requires_projection = 1, updated_at = ?
		WHERE id = ?
	`, version, at, b.ReferenceID); err != nil {
		return result, fmt.Errorf("bind: update reference: %w", err)
	}

	if b.BusinessKey != "" {
		if _, err := tx.ExecContext(ctx, `
			UPDATE canonical_references
			SET business_key = ?
			WHERE id = ? AND business_key IS NULL
			AND NOT EXISTS (
				SELECT 1 FROM canonical_references WHERE model = ? AND business_key = ?
			)
		`, b.BusinessKey, b.ReferenceID, b.Model, b.BusinessKey); err != nil {
			return result, fmt.Errorf("bind: assign business key: %w", err)
		}
	}

	// Step 3: append field history
	for _, f := range b.Fields {
		value, err := marshalValue(f.Value)
		if err != nil {
			return result, fmt.Errorf("bind: field %s: %w", f.Path, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO field_history
			(reference_id, field_path, version, record_id, source_id, occurred_at, value)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, b.ReferenceID, f.Path, version, b.RecordID, b.SourceID, toNanos(b.OccurredAt), value); err != nil {
			return result, fmt.Errorf("bind: append field %s: %w", f.Path, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE record_bindings SET version = ? WHERE record_id = ?
	`, version, b.RecordID); err != nil {
		return result, fmt.Errorf("bind: record binding: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("bind: commit: %w", err)
	}

	result.Version = version
	return result, nil
}
