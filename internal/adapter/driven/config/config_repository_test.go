package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Resilience.MaxAttempts)
	assert.EqualValues(t, 1<<30, cfg.Ingestion.MaxFileSizeBytes)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
env = "prod"

[log]
level = "debug"

[ingestion]
file_concurrency = 8
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 8, cfg.Ingestion.FileConcurrency)
	// Unset fields fall back to defaults.
	assert.Equal(t, 120, cfg.Ingestion.ProcessingStaleAfterMinutes)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
database:
  driver: postgres
  dsn: host=localhost user=ingest dbname=costs
resilience:
  failure_threshold: 10
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 10, cfg.Resilience.FailureThreshold)
	assert.Equal(t, 60, cfg.Resilience.CooldownSeconds)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{"aws": {"region": "eu-west-1"}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", cfg.AWS.Region)
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	path := writeFile(t, "config.ini", "env=prod")
	_, err := Load(path)
	assert.ErrorContains(t, err, "unsupported config file format")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoadDirectory(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.ErrorContains(t, err, "is a directory")
}
