package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runScenario(t *testing.T, path string) *Result {
	t.Helper()
	s, err := LoadScenario(path)
	require.NoError(t, err)
	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	return result
}

func TestRun_MergeSourcesGolden(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/merge_sources.yaml")
	require.NoError(t, err)

	result, err := RunWithGolden(t, s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_Deterministic(t *testing.T) {
	first := runScenario(t, "testdata/scenarios/schema_and_reinject.yaml")
	second := runScenario(t, "testdata/scenarios/schema_and_reinject.yaml")

	d1, err := SnapshotDigest("schema-and-reinject", first)
	require.NoError(t, err)
	d2, err := SnapshotDigest("schema-and-reinject", second)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
	assert.Equal(t, first.Trace, second.Trace)
}

func TestRun_MultiOwner(t *testing.T) {
	result := runScenario(t, "testdata/scenarios/multi_owner.yaml")
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	ev, ok := result.Event("bridge")
	require.True(t, ok)
	assert.Equal(t, OutcomeParked, ev.Outcome)
	assert.Len(t, result.Projections, 2)
}

func TestRun_SchemaAndReinject(t *testing.T) {
	result := runScenario(t, "testdata/scenarios/schema_and_reinject.yaml")
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ReportsFailedAssertions(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/merge_sources.yaml")
	require.NoError(t, err)

	two := 2
	s.Assertions = []Assertion{
		{Type: AssertReferenceCount, Count: &two},
		{Type: AssertAccepted, Record: "rec-3"},
		{Type: AssertProjection, Reference: "ref-0001", Expect: map[string]any{"fields.hostname": "alpha"}},
		{Type: AssertProjection, Reference: "ref-0009", Expect: map[string]any{"version": 1}},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "2 references")
	assert.Contains(t, result.Errors[1], "parked at associate: NO_KEYS")
	assert.Contains(t, result.Errors[2], `"beta"`)
	assert.Contains(t, result.Errors[3], "not found")
}

func TestRun_BadModelsDir(t *testing.T) {
	s := &Scenario{Name: "x", Models: t.TempDir()}
	_, err := Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load models")
}
