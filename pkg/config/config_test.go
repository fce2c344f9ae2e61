package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGlobalMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadGlobal(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "anthropic/claude-opus-4", cfg.Chairman)
	assert.Equal(t, float32(0.5), cfg.Deliberation.Temperatures.Stage1)
}

func TestLoadGlobalMergesOverUserOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
chairman: openai/gpt-5.1
deliberation:
  temperatures:
    stage1: 0.9
`), 0o644))

	cfg, err := LoadGlobal(path)
	require.NoError(t, err)

	assert.Equal(t, "openai/gpt-5.1", cfg.Chairman)
	assert.Equal(t, float32(0.9), cfg.Deliberation.Temperatures.Stage1)
	// fields the override didn't set keep the built-in default
	assert.Equal(t, "google/gemini-2.5-flash", cfg.TitleModel)
}

func TestLoadCouncilsMissingDirReturnsEmpty(t *testing.T) {
	councils, err := LoadCouncils(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, councils)
}

func TestLoadCouncilsKeyedByFilenameStem(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "general.yaml"), []byte(`
name: General
personas:
  - id: a
    display_name: A
    role: Engineer
  - id: b
    display_name: B
    role: Strategist
routing:
  min_advisors: 1
  max_advisors: 2
  default_advisors: 2
available_backends: [model-a, model-b]
`), 0o644))

	councils, err := LoadCouncils(dir)
	require.NoError(t, err)
	require.Contains(t, councils, "general")
	assert.Equal(t, "General", councils["general"].Name)
	assert.Len(t, councils["general"].Personas, 2)
}

func TestLoadCouncilsRejectsDuplicatePersonaID(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte(`
name: Bad
personas:
  - id: a
    display_name: A
    role: Engineer
  - id: a
    display_name: A2
    role: Engineer
routing:
  min_advisors: 1
  max_advisors: 2
  default_advisors: 1
`), 0o644))

	_, err := LoadCouncils(dir)
	require.Error(t, err)
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
}

func TestLoadCouncilsRejectsInvalidRoutingPolicy(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte(`
name: Bad
personas:
  - id: a
    display_name: A
    role: Engineer
routing:
  min_advisors: 2
  max_advisors: 3
  default_advisors: 2
`), 0o644))

	_, err := LoadCouncils(dir)
	require.Error(t, err)
}
