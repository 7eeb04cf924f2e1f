package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/canon/internal/ir"
)

// createTestStore creates a new temp-dir store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return testEpoch.Add(time.Duration(sec) * time.Second)
}

func key(ns, value string) ir.AggregationKey {
	return ir.AggregationKey{Namespace: ns, Value: value}
}

// createTestBinding builds a binding with minimal required fields.
func createTestBinding(refID string, create bool, recordID string, keys ...ir.AggregationKey) ir.Binding {
	return ir.Binding{
		ReferenceID: refID,
		Create:      create,
		Model:       "device",
		Keys:        keys,
		RecordID:    recordID,
		SourceID:    "src-a",
		OccurredAt:  at(0),
		At:          at(1),
	}
}
