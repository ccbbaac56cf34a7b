package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Hardware.NBatch)
	assert.Equal(t, 0.9, cfg.InferenceParams.TopP)
}

func TestValidateRejectsBadBatchSize(t *testing.T) {
	cfg := Default()
	cfg.Hardware.NBatch = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadTemperature(t *testing.T) {
	cfg := Default()
	cfg.InferenceParams.Temperature = 5
	assert.Error(t, cfg.Validate())
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := Default()
	cfg.Server.Port = 9999
	cfg.Hardware.NBatch = 5

	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, loaded.Server.Port)
	assert.Equal(t, 5, loaded.Hardware.NBatch)
}

func TestLoadOrDefaultFallsBackOnMissingFile(t *testing.T) {
	cfg := LoadOrDefault("/nonexistent/path/config.yaml")
	assert.Equal(t, Default(), cfg)
}
