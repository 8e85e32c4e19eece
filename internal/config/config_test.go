package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SHAREQ_API_BASE_URL", "https://api.journal.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "file", cfg.StorageBackend)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "shareq:pending:v1", cfg.StorageKey)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.BaseBackoff)
	assert.Equal(t, 30*time.Minute, cfg.MaxBackoff)
	assert.Equal(t, 7*24*time.Hour, cfg.ExpiryWindow)
	assert.Equal(t, "@hourly", cfg.PruneSchedule)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.NotEmpty(t, cfg.InstallationID, "installation ID is generated when unset")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SHAREQ_API_BASE_URL", "https://api.journal.example")
	t.Setenv("SHAREQ_MAX_RETRIES", "3")
	t.Setenv("SHAREQ_BASE_BACKOFF", "10s")
	t.Setenv("SHAREQ_MAX_BACKOFF", "5m")
	t.Setenv("SHAREQ_EXPIRY_WINDOW", "48h")
	t.Setenv("SHAREQ_INSTALLATION_ID", "device-1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.BaseBackoff)
	assert.Equal(t, 5*time.Minute, cfg.MaxBackoff)
	assert.Equal(t, 48*time.Hour, cfg.ExpiryWindow)
	assert.Equal(t, "device-1", cfg.InstallationID)
}

func TestLoadRequiresAPIBaseURL(t *testing.T) {
	t.Setenv("SHAREQ_API_BASE_URL", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("SHAREQ_API_BASE_URL", "https://api.journal.example")
	t.Setenv("SHAREQ_STORAGE_BACKEND", "floppy")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadValidatesBackendRequirements(t *testing.T) {
	t.Setenv("SHAREQ_API_BASE_URL", "https://api.journal.example")
	t.Setenv("SHAREQ_STORAGE_BACKEND", "redis")
	t.Setenv("SHAREQ_REDIS_ADDR", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadValidatesBackoffOrdering(t *testing.T) {
	t.Setenv("SHAREQ_API_BASE_URL", "https://api.journal.example")
	t.Setenv("SHAREQ_BASE_BACKOFF", "2h")
	t.Setenv("SHAREQ_MAX_BACKOFF", "30m")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadInvalidScalarFallsBack(t *testing.T) {
	t.Setenv("SHAREQ_API_BASE_URL", "https://api.journal.example")
	t.Setenv("SHAREQ_MAX_RETRIES", "many")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxRetries)
}
