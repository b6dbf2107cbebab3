package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 100000, cfg.BufferCapacity)
	assert.Equal(t, 60*time.Second, cfg.CleanupInterval)
	assert.Equal(t, 24*time.Hour, cfg.StalenessThreshold)
	assert.Equal(t, 2*time.Second, cfg.FlushInterval)
	assert.Equal(t, 10000, cfg.FlushSize)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, 10*time.Second, cfg.PongTimeout)
	assert.Equal(t, time.Second, cfg.ReconnectInitialDelay)
	assert.Equal(t, 30*time.Second, cfg.ReconnectMaxDelay)
	assert.Equal(t, 10, cfg.ReconnectMaxAttempts)
	assert.Empty(t, cfg.AuthSecret)
	assert.Empty(t, cfg.StoreURL)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().BufferCapacity, cfg.BufferCapacity)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "termbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"listen_addr: \":9999\"\nbuffer_capacity: 5000\nstaleness_threshold: 1h\n",
	), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, 5000, cfg.BufferCapacity)
	assert.Equal(t, time.Hour, cfg.StalenessThreshold)
	// untouched keys keep their defaults
	assert.Equal(t, 10000, cfg.FlushSize)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: [unclosed"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TERMBRIDGE_ADDR", ":7070")
	t.Setenv("TERMBRIDGE_AUTH_SECRET", "hunter2")
	t.Setenv("TERMBRIDGE_BUFFER_CAPACITY", "42000")
	t.Setenv("TERMBRIDGE_STALENESS", "30m")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.ListenAddr)
	assert.Equal(t, "hunter2", cfg.AuthSecret)
	assert.Equal(t, 42000, cfg.BufferCapacity)
	assert.Equal(t, 30*time.Minute, cfg.StalenessThreshold)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "termbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: \":1111\"\n"), 0o644))
	t.Setenv("TERMBRIDGE_ADDR", ":2222")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":2222", cfg.ListenAddr)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.BufferCapacity = 0
	assert.Error(t, cfg.validate())

	cfg = Default()
	cfg.FlushSize = -1
	assert.Error(t, cfg.validate())

	cfg = Default()
	cfg.PongTimeout = cfg.PingInterval
	assert.Error(t, cfg.validate())
}
