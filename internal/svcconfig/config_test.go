package svcconfig_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentvault/vault/internal/svcconfig"
)

func TestDefaultsAreUsable(t *testing.T) {
	cfg := svcconfig.Defaults()
	assert.True(t, cfg.Storage.EnableSQLite)
	assert.Greater(t, cfg.Workers.PoolSize, 0)
	assert.Greater(t, cfg.RateLimit.PerSecond, 0.0)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := svcconfig.Defaults()
	cfg.Workers.PoolSize = 16
	cfg.Logging.Level = "debug"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, svcconfig.Save(cfg, path))

	loaded, err := svcconfig.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, loaded.Workers.PoolSize)
	assert.Equal(t, "debug", loaded.Logging.Level)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := svcconfig.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestParamsResolvers(t *testing.T) {
	cfg := svcconfig.Defaults()
	mod := cfg.ModerateParams()
	inter := cfg.InteractiveParams()
	assert.Greater(t, mod.Memory, inter.Memory)
}
