package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresVaultPath(t *testing.T) {
	t.Setenv("VAULT_PATH", "")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("VAULT_PATH", dir)
	t.Setenv("CACHE_PATH", "")
	t.Setenv("DEBOUNCE_MS", "")
	t.Setenv("MAX_INFLIGHT_RUNS", "")
	t.Setenv("STEP_RETENTION_DAYS", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ".weaver-data", "cache"), cfg.CachePath)
	assert.Equal(t, 500, cfg.DebounceMS)
	assert.Equal(t, 8, cfg.MaxInflightRuns)
	assert.Equal(t, 30, cfg.StepRetentionDays)
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("VAULT_PATH", dir)
	t.Setenv("DEBOUNCE_MS", "750")
	t.Setenv("MAX_INFLIGHT_RUNS", "3")
	t.Setenv("STEP_RETENTION_DAYS", "7")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 750, cfg.DebounceMS)
	assert.Equal(t, 3, cfg.MaxInflightRuns)
	assert.Equal(t, 7, cfg.StepRetentionDays)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Logging.DebugMode)
}

func TestLoad_YAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, ".weaver-data")
	require.NoError(t, os.MkdirAll(dataDir, 0755))
	yamlContent := "debounce_ms: 900\nstep_retention_days: 60\n"
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "config.yaml"), []byte(yamlContent), 0644))

	t.Setenv("VAULT_PATH", dir)
	t.Setenv("DEBOUNCE_MS", "")
	t.Setenv("STEP_RETENTION_DAYS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 900, cfg.DebounceMS)
	assert.Equal(t, 60, cfg.StepRetentionDays)
}

func TestLoad_RejectsNonDirectoryVault(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "notadir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	t.Setenv("VAULT_PATH", file)
	_, err := Load()
	require.Error(t, err)
}
