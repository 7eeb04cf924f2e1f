package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runValidateCmd(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidateValidModels(t *testing.T) {
	out, err := runValidateCmd(t, FormatText, filepath.Join("testdata", "models"))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ All models valid (2 model(s) in 2 file(s))")
}

func TestValidateValidModelsJSON(t *testing.T) {
	out, err := runValidateCmd(t, FormatJSON, filepath.Join("testdata", "models"))
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, []string{"device", "person"}, resp.Data.Models)
}

func TestValidateNonExistentDirectory(t *testing.T) {
	out, err := runValidateCmd(t, FormatText, "/nonexistent/directory/path")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "E005")
	assert.Contains(t, out, "not found")
}

func TestValidateEmptyDirectory(t *testing.T) {
	_, err := runValidateCmd(t, FormatText, t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "E003")
}

func TestValidateReportsEveryBrokenFile(t *testing.T) {
	out, err := runValidateCmd(t, FormatText, filepath.Join("testdata", "invalid"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "validation failed with 2 error(s)")

	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "broken.cue")
	assert.Contains(t, out, "E006")
	assert.Contains(t, out, "nokeys.cue")
	assert.Contains(t, out, "E102")
}

func TestValidateReportsEveryBrokenFileJSON(t *testing.T) {
	out, err := runValidateCmd(t, FormatJSON, filepath.Join("testdata", "invalid"))
	require.Error(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	assert.Equal(t, 3, resp.Data.FileCount)
	assert.Equal(t, []string{"person"}, resp.Data.Models, "valid files still load")
	require.Len(t, resp.Data.Errors, 2)
	require.NotNil(t, resp.Error)
	assert.Equal(t, resp.Data.Errors[0].Code, resp.Error.Code)
}

func TestValidateDefaultsToModelsFlag(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: FormatText, ModelsDir: filepath.Join("testdata", "models")})
	cmd.SetOut(buf)
	cmd.SetArgs(nil)

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "All models valid")
}
