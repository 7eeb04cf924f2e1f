package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deviceModel = `
model: device: {
	keys: ["serial", "asset.tag"]
	business_key: "serial"
	policies: "specs.cores": "max"
}
`

const personModel = `
model: person: {
	keys: ["email"]
	default_policy: "coalesce"
}
`

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func loadErrorCodes(t *testing.T, errs []error) []string {
	t.Helper()
	out := make([]string, len(errs))
	for i, err := range errs {
		var le *LoadError
		require.ErrorAs(t, err, &le)
		out[i] = le.Code
	}
	return out
}

func TestLoadModels(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"person.cue":        personModel,
		"nested/device.cue": deviceModel,
		"README.md":         "not cue",
	})

	result, errs := LoadModels(dir, LoadModeCollectAll)
	require.Empty(t, errs)

	assert.Equal(t, 2, result.FileCount)
	require.Len(t, result.Models, 2)
	assert.Equal(t, "device", result.Models[0].Name)
	assert.Equal(t, map[string]string{"specs.cores": "max"}, result.Models[0].FieldPolicies)
	assert.Equal(t, "person", result.Models[1].Name)
	assert.Equal(t, "coalesce", result.Models[1].DefaultPolicy)
	assert.Empty(t, result.Skipped)
}

func TestLoadModelsToleratesBrokenFile(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a_broken.cue": "model: broken: {\n\tthis is not valid CUE\n}\n",
		"b_person.cue": personModel,
	})

	result, errs := LoadModels(dir, LoadModeCollectAll)
	require.Len(t, errs, 1)
	assert.Equal(t, []string{ErrCodeBuildFailed}, loadErrorCodes(t, errs))
	assert.Contains(t, errs[0].Error(), "a_broken.cue")

	require.Len(t, result.Models, 1)
	assert.Equal(t, "person", result.Models[0].Name)
	assert.Equal(t, []string{filepath.Join(dir, "a_broken.cue")}, result.Skipped)
}

func TestLoadModelsFailFast(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a_broken.cue": "model: broken: {\n\tthis is not valid CUE\n}\n",
		"b_person.cue": personModel,
	})

	result, errs := LoadModels(dir, LoadModeFailFast)
	require.Len(t, errs, 1)
	assert.Empty(t, result.Models, "loading stops before the valid file")
}

func TestLoadModelsValidationErrors(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"device.cue": `
model: device: {
	keys: ["serial"]
	business_key: "hostname"
	views: ["Summary"]
}
`,
		"person.cue": personModel,
	})

	result, errs := LoadModels(dir, LoadModeCollectAll)
	assert.Equal(t, []string{ErrBusinessKeyNotKey, ErrUnknownView}, loadErrorCodes(t, errs))
	assert.Contains(t, errs[0].Error(), "model.device: business_key")

	require.Len(t, result.Models, 1)
	assert.Equal(t, "person", result.Models[0].Name)
}

func TestLoadModelsMissingKeys(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"device.cue": `model: device: business_key: "serial"`,
	})

	_, errs := LoadModels(dir, LoadModeCollectAll)
	assert.Equal(t, []string{ErrModelNoKeys}, loadErrorCodes(t, errs))
}

func TestLoadModelsDuplicateAcrossFiles(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a.cue": personModel,
		"b.cue": personModel,
	})

	result, errs := LoadModels(dir, LoadModeCollectAll)
	assert.Equal(t, []string{ErrDuplicateModel}, loadErrorCodes(t, errs))
	assert.Contains(t, errs[0].Error(), "already defined in")

	require.Len(t, result.Models, 1)
	assert.Equal(t, []string{filepath.Join(dir, "b.cue")}, result.Skipped)
}

func TestLoadModelsDirectoryErrors(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		_, errs := LoadModels(filepath.Join(t.TempDir(), "nope"), LoadModeCollectAll)
		assert.Equal(t, []string{ErrCodeNotFound}, loadErrorCodes(t, errs))
	})

	t.Run("file not dir", func(t *testing.T) {
		dir := writeFiles(t, map[string]string{"x.cue": personModel})
		_, errs := LoadModels(filepath.Join(dir, "x.cue"), LoadModeCollectAll)
		assert.Equal(t, []string{ErrCodeNotFound}, loadErrorCodes(t, errs))
	})

	t.Run("no cue files", func(t *testing.T) {
		_, errs := LoadModels(t.TempDir(), LoadModeCollectAll)
		assert.Equal(t, []string{ErrCodeNoFiles}, loadErrorCodes(t, errs))
	})

	t.Run("no models", func(t *testing.T) {
		dir := writeFiles(t, map[string]string{"other.cue": `settings: debug: true`})
		_, errs := LoadModels(dir, LoadModeCollectAll)
		assert.Equal(t, []string{ErrCodeNoModels}, loadErrorCodes(t, errs))
	})
}

func TestLoadErrorFormat(t *testing.T) {
	err := &LoadError{Code: ErrCodeNoFiles, Message: "no CUE files found in /tmp"}
	assert.Equal(t, "E003: no CUE files found in /tmp", err.Error())

	err.File = "models/a.cue"
	assert.Equal(t, "models/a.cue: E003: no CUE files found in /tmp", err.Error())
}
