package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnv map[string]string

func (f fakeEnv) Getenv(key string) string { return f[key] }

func TestDefaults(t *testing.T) {
	cfg, err := LoadFromEnv("", fakeEnv{})
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.BaseURL)
	assert.Equal(t, "ws://localhost:8000/api/ws", cfg.WSURL)
	assert.Equal(t, ReconnectConstant, cfg.ReconnectPolicy)
	assert.Equal(t, 3*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
}

func TestYAMLFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("base_url: https://tasks.example.com\nreconnect_policy: exponential\n"), 0600))

	cfg, err := LoadFromEnv(path, fakeEnv{})
	require.NoError(t, err)

	assert.Equal(t, "https://tasks.example.com", cfg.BaseURL)
	assert.Equal(t, "wss://tasks.example.com/api/ws", cfg.WSURL)
	assert.Equal(t, ReconnectExponential, cfg.ReconnectPolicy)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("base_url: https://file.example.com\n"), 0600))

	cfg, err := LoadFromEnv(path, fakeEnv{
		"TASKFLOW_BASE_URL":        "https://env.example.com",
		"TASKFLOW_RECONNECT_DELAY": "5s",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.ReconnectDelay)
}

func TestMissingFileIsNotAnError(t *testing.T) {
	_, err := LoadFromEnv(filepath.Join(t.TempDir(), "absent.yaml"), fakeEnv{})
	assert.NoError(t, err)
}

func TestInvalidValues(t *testing.T) {
	_, err := LoadFromEnv("", fakeEnv{"TASKFLOW_BASE_URL": "not a url"})
	assert.Error(t, err)

	_, err = LoadFromEnv("", fakeEnv{"TASKFLOW_RECONNECT_DELAY": "-2s"})
	assert.Error(t, err)

	_, err = LoadFromEnv("", fakeEnv{"TASKFLOW_RECONNECT_POLICY": "random"})
	assert.Error(t, err)
}
