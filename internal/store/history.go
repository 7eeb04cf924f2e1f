package store

import (
	"context"
	"fmt"

	"github.com/roach88/canon/internal/ir"
)

// ReadHistory returns a reference's field contributions in arrival order
// (seq ASC). When upToVersion > 0 only contributions accepted at or before
// that version are returned, so a projection task for version N always sees
// the same input.
func (s *Store) ReadHistory(ctx context.Context, referenceID string, upToVersion int64) ([]ir.FieldValue, error) {
	stmt := `
		SELECT seq, field_path, version, record_id, source_id, occurred_at, value
		FROM field_history
		WHERE reference_id = ?`
	args := []any{referenceID}
	if upToVersion > 0 {
		stmt += ` AND version <= ?`
		args = append(args, upToVersion)
	}
	stmt += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	defer rows.Close()

	history := []ir.FieldValue{}
	for rows.Next() {
		fv := ir.FieldValue{ReferenceID: referenceID}
		var occurred int64
		var value string
		if err := rows.Scan(&fv.Seq, &fv.Path, &fv.Version, &fv.RecordID, &fv.SourceID, &occurred, &value); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		fv.OccurredAt = fromNanos(occurred)
		if fv.Value, err = unmarshalValue(value); err != nil {
			return nil, fmt.Errorf("history seq %d: %w", fv.Seq, err)
		}
		history = append(history, fv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return history, nil
}

// AcceptedRecord reports whether a record was already bound, and to which
// reference and version. Lets a redelivered associate step skip resolution;
// Bind enforces the same rule inside its transaction.
func (s *Store) AcceptedRecord(ctx context.Context, recordID string) (referenceID string, version int64, found bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT reference_id, version FROM record_bindings
		WHERE record_id = ?
	`, recordID).Scan(&referenceID, &version)
	if isNoRows(err) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, fmt.Errorf("accepted record %s: %w", recordID, err)
	}
	return referenceID, version, true, nil
}
