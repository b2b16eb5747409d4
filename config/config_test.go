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

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 7*24*time.Hour, cfg.Cache.TranscriptTTL)
	assert.Equal(t, 3, cfg.Workflow.StuckThreshold)
	assert.Equal(t, 5*time.Second, cfg.Workflow.PollInterval)
	assert.True(t, cfg.Extraction.EnableCaptionsAPI)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("WORKFLOW_STUCK_THRESHOLD", "5")
	t.Setenv("WORKFLOW_POLL_INTERVAL", "250ms")
	t.Setenv("EXTRACT_BROWSER_ENABLED", "false")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.ServerPort)
	assert.Equal(t, 5, cfg.Workflow.StuckThreshold)
	assert.Equal(t, 250*time.Millisecond, cfg.Workflow.PollInterval)
	assert.False(t, cfg.Extraction.EnableBrowser)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("WORKFLOW_STUCK_THRESHOLD", "0")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsAllStrategiesDisabled(t *testing.T) {
	t.Setenv("EXTRACT_CAPTIONS_ENABLED", "false")
	t.Setenv("EXTRACT_BROWSER_ENABLED", "false")
	t.Setenv("EXTRACT_STT_ENABLED", "false")
	_, err := Load()
	assert.Error(t, err)
}

func TestInvalidEnvValueFallsBackToDefault(t *testing.T) {
	t.Setenv("JOB_WORKERS", "not-a-number")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Jobs.Workers)
}
