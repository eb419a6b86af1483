package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// Not parallel: Load reads process environment.
	t.Setenv("TASKFORGE_STORE_DATABASE_URL", "postgres://localhost:5432/taskforge")
	t.Setenv("TASKFORGE_LLM_GEMINI_API_KEY", "test-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 24, cfg.Worker.RetentionHours)
	assert.Equal(t, "gemini-2.0-flash", cfg.LLM.ModelName)
}

func TestLoadRedisDriver(t *testing.T) {
	t.Setenv("TASKFORGE_STORE_DRIVER", "redis")
	t.Setenv("TASKFORGE_STORE_REDIS_ADDR", "localhost:6379")
	t.Setenv("TASKFORGE_LLM_GEMINI_API_KEY", "test-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "localhost:6379", cfg.Store.RedisAddr)
}

func TestLoadRejectsMissingAPIKey(t *testing.T) {
	t.Setenv("TASKFORGE_STORE_DATABASE_URL", "postgres://localhost:5432/taskforge")
	t.Setenv("TASKFORGE_LLM_GEMINI_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("TASKFORGE_STORE_DRIVER", "dynamo")
	t.Setenv("TASKFORGE_LLM_GEMINI_API_KEY", "test-key")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Driver")
}
