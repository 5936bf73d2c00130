package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 3, cfg.Segmentation.FreshRetainCount)
	assert.Equal(t, 7, cfg.Segmentation.AccumulatedRetainCount)
	assert.Equal(t, 0.4, cfg.Segmentation.GaussianSigma)
	assert.Equal(t, 150.0, cfg.Editing.Tolerance)
	assert.Equal(t, 8, cfg.Editing.PatchHalfSize)
	assert.Equal(t, 10000, cfg.Editing.GrowBudget)
	assert.Equal(t, [3]int32{255, 0, 0}, cfg.Editing.PaintColor)
	assert.Equal(t, 100.0, cfg.Composite.ScaleFactor)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Editing, cfg.Editing)
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ctsegment.yaml")

	cfg := DefaultConfig()
	cfg.Processing.NumCores = 2
	cfg.Editing.GrowBudget = 500
	cfg.Logging.Format = "json"
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Processing.NumCores)
	assert.Equal(t, 500, loaded.Editing.GrowBudget)
	assert.Equal(t, "json", loaded.Logging.Format)
}

func TestLoadConfig_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("editing:\n  tolerance: 75\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 75.0, cfg.Editing.Tolerance)
	assert.Equal(t, 10000, cfg.Editing.GrowBudget)
}

func TestLoadConfig_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("editing: [unclosed"), 0644))

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv(EnvNumCores, "3")
	t.Setenv(EnvLogLevel, "debug")

	cfg := DefaultConfig()
	require.NoError(t, ApplyEnv(cfg))
	assert.Equal(t, 3, cfg.Processing.NumCores)
	assert.Equal(t, "debug", cfg.Logging.Level)

	t.Setenv(EnvNumCores, "many")
	require.Error(t, ApplyEnv(cfg))
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Processing.Backend = "cuda"
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Editing.GrowBudget = 0
	require.Error(t, cfg.Validate())
}
