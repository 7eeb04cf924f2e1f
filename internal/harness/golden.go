package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/canon/internal/ir"
)

// Snapshot renders a result's trace and canonical projections as
// canonical JSON for golden comparison.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	return ir.MarshalCanonical(snapshotValue(scenarioName, result))
}

// SnapshotDigest is the content hash of Snapshot. Two runs of a scenario
// agree exactly when their digests do.
func SnapshotDigest(scenarioName string, result *Result) (string, error) {
	return ir.Digest(snapshotValue(scenarioName, result))
}

func snapshotValue(scenarioName string, result *Result) map[string]any {
	trace := make([]any, len(result.Trace))
	for i, ev := range result.Trace {
		m := map[string]any{
			"record_id": ev.RecordID,
			"outcome":   ev.Outcome,
		}
		if ev.ReferenceID != "" {
			m["reference_id"] = ev.ReferenceID
			m["version"] = ev.Version
		}
		if ev.Stage != "" {
			m["stage"] = ev.Stage
		}
		if ev.Reason != "" {
			m["reason"] = ev.Reason
		}
		trace[i] = m
	}

	projections := make(map[string]any, len(result.Projections))
	for ref, doc := range result.Projections {
		projections[ref] = doc
	}

	return map[string]any{
		"scenario_name": scenarioName,
		"trace":         trace,
		"projections":   projections,
	}
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can also check Pass.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}

	snapshot, err := Snapshot(scenario.Name, result)
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, snapshot)
	return result, nil
}
