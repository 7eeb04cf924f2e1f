package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for algorithm migration.
const (
	DomainProjectionTask = "canon/projection-task/v1"
	DomainRecord         = "canon/record/v1"
	DomainParked         = "canon/parked/v1"
	DomainDigest         = "canon/digest/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator keeps the domain/data boundary unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ProjectionTaskID is the identity of a projection task. The same
// (reference, version, view) triple always yields the same id, which is what
// makes task creation idempotent.
func ProjectionTaskID(referenceID string, version int64, viewName string) string {
	obj := Object{
		"reference_id": String(referenceID),
		"version":      Int(version),
		"view_name":    String(viewName),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		// Strings and ints always marshal.
		panic(fmt.Sprintf("ProjectionTaskID: %v", err))
	}
	return hashWithDomain(DomainProjectionTask, canonical)
}

// RecordID derives a record id for adapters that do not supply one.
// Occurrence time is part of the identity so repeated observations of the
// same payload stay distinct.
func RecordID(sourceID, model string, payload Object, occurredAt string) (string, error) {
	obj := Object{
		"model":       String(model),
		"occurred_at": String(occurredAt),
		"payload":     payload,
		"source_id":   String(sourceID),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("RecordID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainRecord, canonical), nil
}

// ParkedID is the identity of a parked work item: one row per
// (record, stage, attempt generation).
func ParkedID(recordID string, stage string, generation int) string {
	obj := Object{
		"generation": Int(generation),
		"record_id":  String(recordID),
		"stage":      String(stage),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		panic(fmt.Sprintf("ParkedID: %v", err))
	}
	return hashWithDomain(DomainParked, canonical)
}

// Digest hashes any canonical-serializable value. Used to compare replay output.
func Digest(v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("Digest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainDigest, canonical), nil
}
