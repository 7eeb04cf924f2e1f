package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ResolvesModelsDir(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/merge_sources.yaml")
	require.NoError(t, err)

	assert.Equal(t, "merge-sources", s.Name)
	assert.Equal(t, filepath.Join("testdata", "models"), s.Models)
	require.Len(t, s.Records, 3)
	assert.Equal(t, "cmdb", s.Records[0].Source)
	assert.Equal(t, map[string]any{"cores": 4}, s.Records[0].Payload["specs"])
	require.Len(t, s.Assertions, 6)
	require.NotNil(t, s.Assertions[3].Count)
	assert.Equal(t, 1, *s.Assertions[3].Count)
}

func TestLoadScenario_MissingModelsDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: s
models: ./nope
records: [{id: r, model: device, payload: {}}]
assertions: [{type: accepted, record: r}]
`), 0o644))

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "models directory")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", `
name: s
models: m
record: []
`, "field record not found"},
		{"missing name", `
models: m
records: [{id: r, payload: {}}]
assertions: [{type: accepted, record: r}]
`, "name is required"},
		{"no records", `
name: s
models: m
records: []
assertions: [{type: accepted, record: r}]
`, "records list is required"},
		{"duplicate record", `
name: s
models: m
records: [{id: r, payload: {}}, {id: r, payload: {}}]
assertions: [{type: accepted, record: r}]
`, "duplicate id"},
		{"missing payload", `
name: s
models: m
records: [{id: r}]
assertions: [{type: accepted, record: r}]
`, "payload is required"},
		{"unknown reinject", `
name: s
models: m
records: [{id: r, payload: {}}]
reinject: [x]
assertions: [{type: accepted, record: r}]
`, "unknown record"},
		{"count required", `
name: s
models: m
records: [{id: r, payload: {}}]
assertions: [{type: reference_count}]
`, "non-negative count"},
		{"projection expect", `
name: s
models: m
records: [{id: r, payload: {}}]
assertions: [{type: projection, reference: ref-0001}]
`, "expect is required"},
		{"unknown assertion", `
name: s
models: m
records: [{id: r, payload: {}}]
assertions: [{type: final_state}]
`, "unknown assertion type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseScenario_ExplicitZeroCount(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: s
models: m
records: [{id: r, payload: {}}]
assertions: [{type: rejection_count, count: 0}]
`))
	require.NoError(t, err)
	require.NotNil(t, s.Assertions[0].Count)
	assert.Zero(t, *s.Assertions[0].Count)
}
