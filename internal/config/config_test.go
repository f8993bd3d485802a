package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "24h", cfg.Policy.Cooldown)
	assert.Equal(t, 0.15, cfg.Policy.ErrorRateThreshold)
	assert.Equal(t, 0.8, cfg.Policy.SuccessRateThreshold)
	assert.Equal(t, 3.5, cfg.Policy.FeedbackThreshold)
	assert.Equal(t, 3.0, cfg.Policy.ImmediateFeedback)
	assert.Equal(t, "file", cfg.Storage.Backend)
	require.NoError(t, cfg.Validate())

	d, err := cfg.CooldownDuration()
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, d)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.Storage.Backend)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	ws := t.TempDir()
	dir := filepath.Join(ws, ".agenttune")
	require.NoError(t, os.MkdirAll(dir, 0755))

	yaml := `
policy:
  cooldown: 1h
  error_rate_threshold: 0.25
storage:
  backend: sqlite
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load(ws)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, 0.25, cfg.Policy.ErrorRateThreshold)

	d, err := cfg.CooldownDuration()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, d)

	// Untouched fields keep defaults.
	assert.Equal(t, 3.5, cfg.Policy.FeedbackThreshold)
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	ws := t.TempDir()
	dir := filepath.Join(ws, ".agenttune")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"),
		[]byte("storage:\n  backend: redis\n"), 0644))

	_, err := Load(ws)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("GEMINI_API_KEY sets key and provider", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "g-key")
		t.Setenv("AGENTTUNE_API_KEY", "")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "g-key", cfg.LLM.APIKey)
		assert.Equal(t, "gemini", cfg.LLM.Provider)
	})

	t.Run("AGENTTUNE_API_KEY wins over GEMINI_API_KEY", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "g-key")
		t.Setenv("AGENTTUNE_API_KEY", "at-key")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "at-key", cfg.LLM.APIKey)
	})

	t.Run("AGENTTUNE_STORAGE_BACKEND overrides file value", func(t *testing.T) {
		t.Setenv("AGENTTUNE_STORAGE_BACKEND", "sqlite")

		cfg := Default()
		cfg.applyEnvOverrides()

		assert.Equal(t, "sqlite", cfg.Storage.Backend)
	})
}

func TestSaveRoundTrip(t *testing.T) {
	ws := t.TempDir()

	cfg := Default()
	cfg.Policy.Cooldown = "12h"
	require.NoError(t, Save(ws, cfg))

	loaded, err := Load(ws)
	require.NoError(t, err)
	assert.Equal(t, "12h", loaded.Policy.Cooldown)
}
