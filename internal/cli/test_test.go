package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scenariosDir = filepath.Join("..", "harness", "testdata", "scenarios")

func runTestCmd(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTestCommand_AllScenariosPass(t *testing.T) {
	out, err := runTestCmd(t, FormatText, scenariosDir)
	require.NoError(t, err, out)

	assert.Contains(t, out, "✓ merge-sources")
	assert.Contains(t, out, "✓ multi-owner")
	assert.Contains(t, out, "✓ schema-and-reinject")
	assert.Contains(t, out, "Test Summary: 3 passed, 0 failed, 3 total")
}

func TestTestCommand_FilterJSON(t *testing.T) {
	out, err := runTestCmd(t, FormatJSON, scenariosDir, "--filter", "merge_*")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "merge-sources", resp.Data.Scenarios[0].Name)
	assert.Len(t, resp.Data.Scenarios[0].Digest, 64)
}

func TestTestCommand_FailingScenario(t *testing.T) {
	dir := t.TempDir()
	models, err := filepath.Abs(filepath.Join("testdata", "models"))
	require.NoError(t, err)

	scenario := `
name: wrong-count
models: ` + models + `
records:
  - id: r1
    source: cmdb
    model: device
    payload: {serial: SN-9}
assertions:
  - type: reference_count
    count: 5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(scenario), 0644))

	out, err := runTestCmd(t, FormatText, dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong-count")
	assert.Contains(t, out, "Expected: 5 references")
	assert.Contains(t, out, "1 failed")
}

func TestTestCommand_UpdateWritesGolden(t *testing.T) {
	golden := t.TempDir()
	file := filepath.Join(scenariosDir, "merge_sources.yaml")

	_, err := runTestCmd(t, FormatText, file, "--update", "--golden", golden)
	require.NoError(t, err)

	written, err := os.ReadFile(filepath.Join(golden, "merge-sources.golden"))
	require.NoError(t, err)
	committed, err := os.ReadFile(filepath.Join("..", "harness", "testdata", "golden", "merge-sources.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(committed), string(written))

	// The freshly written golden file is then used for comparison.
	_, err = runTestCmd(t, FormatText, file, "--golden", golden)
	require.NoError(t, err)
}

func TestTestCommand_GoldenMismatch(t *testing.T) {
	golden := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(golden, "merge-sources.golden"), []byte(`{}`), 0644))

	out, err := runTestCmd(t, FormatText, filepath.Join(scenariosDir, "merge_sources.yaml"), "--golden", golden)
	require.Error(t, err)
	assert.Contains(t, out, "does not match golden file")
}

func TestTestCommand_MissingPath(t *testing.T) {
	_, err := runTestCmd(t, FormatText, "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
