package resolve

import (
	"errors"
	"fmt"

	"github.com/roach88/canon/internal/ir"
)

// RejectionError is a terminal resolution outcome. The record must not be
// retried; it is surfaced to operators with Code and Evidence.
type RejectionError struct {
	// Code is one of NO_KEYS, MULTI_OWNER_COLLISION, KEY_OWNER_MISMATCH.
	Code ir.RejectionCode

	// RecordID identifies the rejected record.
	RecordID string

	// Evidence carries the conflicting reference ids and key bindings.
	Evidence ir.Object
}

// Error implements the error interface.
func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: record %s rejected", e.Code, e.RecordID)
}

// IsRejection reports whether err is a resolution rejection.
// Uses errors.As to handle wrapped errors.
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}

// RejectionCode extracts the rejection code from err, or "" if err is not a
// rejection.
func RejectionCode(err error) ir.RejectionCode {
	var re *RejectionError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

func newNoKeys(rec ir.Record) *RejectionError {
	return &RejectionError{
		Code:     ir.RejectNoKeys,
		RecordID: rec.ID,
		Evidence: ir.Object{
			"model":     ir.String(rec.Model),
			"source_id": ir.String(rec.SourceID),
		},
	}
}

// newMultiOwner reports the distinct owners (sorted) and which key pointed
// at which.
func newMultiOwner(recordID string, owners []string, bound map[ir.AggregationKey]ir.KeyIndexEntry) *RejectionError {
	refs := make(ir.Array, len(owners))
	for i, id := range owners {
		refs[i] = ir.String(id)
	}
	keys := make(ir.Object, len(bound))
	for k, entry := range bound {
		keys[k.String()] = ir.String(entry.ReferenceID)
	}
	return &RejectionError{
		Code:     ir.RejectMultiOwner,
		RecordID: recordID,
		Evidence: ir.Object{
			"reference_ids": refs,
			"keys":          keys,
		},
	}
}

// newOwnerMismatch reports a key lost to a concurrent resolution.
func newOwnerMismatch(recordID, target string, conflicts map[ir.AggregationKey]string) *RejectionError {
	keys := make(ir.Object, len(conflicts))
	for k, owner := range conflicts {
		keys[k.String()] = ir.String(owner)
	}
	return &RejectionError{
		Code:     ir.RejectKeyOwnerMismatch,
		RecordID: recordID,
		Evidence: ir.Object{
			"reference_id": ir.String(target),
			"conflicts":    keys,
		},
	}
}
