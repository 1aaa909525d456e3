package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestNewAppliesEnvOverrides(t *testing.T) {
	t.Setenv("HTN_EXECUTOR_MAX_WORKERS", "9")
	t.Setenv("HTN_LOG_LEVEL", "debug")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Executor.MaxWorkers)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestOptionsOverrideEnv(t *testing.T) {
	t.Setenv("HTN_EXECUTOR_MAX_WORKERS", "9")

	cfg, err := New(WithExecutorWorkers(16))
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Executor.MaxWorkers)
}

func TestValidateRejectsUnknownExecutorStrategy(t *testing.T) {
	cfg := Default()
	cfg.Executor.DefaultStrategy = "bogus"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownVerifierLevel(t *testing.T) {
	cfg := Default()
	cfg.Verifier.DefaultLevel = "bogus"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsOutOfRangeHybridThreshold(t *testing.T) {
	cfg := Default()
	cfg.Planner.HybridRuleThreshold = 1.5
	assert.Error(t, cfg.Validate())
}

func TestWithCacheSizeOverridesBoth(t *testing.T) {
	cfg, err := New(WithCacheSize(10, 5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Cache.MaxSize)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
}
