package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "storage/datasets", cfg.Storage.DatasetsPath)
	assert.Equal(t, 25, cfg.Storage.MaxFileSizeMB)
	assert.Equal(t, int64(25<<20), cfg.Storage.MaxFileBytes())
	assert.Equal(t, []int{10, 20, 50}, cfg.Analysis.DefaultThresholds)
	assert.Equal(t, 10000, cfg.Analysis.LargeDatasetThreshold)
	assert.Equal(t, 60, cfg.Security.RateLimit)
	assert.True(t, cfg.LLM.Enabled)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 10, cfg.LLM.CallBudget)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATASETS_PATH", "/tmp/ds")
	t.Setenv("MAX_FILE_SIZE_MB", "5")
	t.Setenv("USE_LLM", "false")
	t.Setenv("API_KEY", "sekrit")
	t.Setenv("DEFAULT_THRESHOLDS", "5,25")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/ds", cfg.Storage.DatasetsPath)
	assert.Equal(t, 5, cfg.Storage.MaxFileSizeMB)
	assert.False(t, cfg.LLM.Enabled)
	assert.Equal(t, "sekrit", cfg.Security.APIKey)
	assert.Equal(t, []int{5, 25}, cfg.Analysis.DefaultThresholds)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Security.AllowedOrigins)
}

func TestLoadFileUnderEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9191
storage:
  datasets_path: /data/from-file
  max_file_size_mb: 50
llm:
  use_llm: false
`), 0o644))
	t.Setenv("CONFIG_FILE", path)
	// Env beats the file; the file beats tag defaults.
	t.Setenv("MAX_FILE_SIZE_MB", "7")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "/data/from-file", cfg.Storage.DatasetsPath)
	assert.Equal(t, 7, cfg.Storage.MaxFileSizeMB)
	assert.False(t, cfg.LLM.Enabled, "explicit use_llm: false applies")
	// Untouched sections keep their defaults.
	assert.Equal(t, []int{10, 20, 50}, cfg.Analysis.DefaultThresholds)
}

func TestLoadFileLLMSectionAbsent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.LLM.Enabled, "absent use_llm key leaves the default on")
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("MAX_FILE_SIZE_MB", "0")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("MAX_FILE_SIZE_MB", "10")
	t.Setenv("DEFAULT_THRESHOLDS", "10,200")
	_, err = Load()
	require.Error(t, err)
}
