package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 30*time.Second, cfg.HTTP.ReadTimeout)
	// Development forces verbose logging unless LOG_LEVEL overrides it.
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 0, cfg.Optimization.WorkerCount)
	assert.Equal(t, 0.05, cfg.Optimization.EvalSecondsPer10kVoxels)
	assert.Equal(t, 30*time.Minute, cfg.Optimization.TimeoutFloor)
	assert.Equal(t, 4*time.Hour, cfg.Optimization.TimeoutCeiling)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LEADFIELD_MANIFEST", "/data/leadfield.json")
	t.Setenv("OPT_WORKER_COUNT", "8")
	t.Setenv("OPT_EVAL_SECONDS_PER_10K_VOXELS", "0.2")
	t.Setenv("OPT_TIMEOUT_FLOOR", "1m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "/data/leadfield.json", cfg.Leadfield.Manifest)
	assert.Equal(t, 8, cfg.Optimization.WorkerCount)
	assert.Equal(t, 0.2, cfg.Optimization.EvalSecondsPer10kVoxels)
	assert.Equal(t, time.Minute, cfg.Optimization.TimeoutFloor)
}

func TestLoadBadValue(t *testing.T) {
	t.Setenv("HTTP_PORT", "not-a-port")

	_, err := Load()
	require.Error(t, err)
}
