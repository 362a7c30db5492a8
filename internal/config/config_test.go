package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "https://api.mail.tm", cfg.API.BaseURL)
	assert.Equal(t, 30, cfg.API.TimeoutSec)
	assert.Empty(t, cfg.API.ProxyURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, DefaultStorePath(), cfg.Store.Path)
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: http://localhost:8080
  proxy_url: http://proxy.local:3128
account:
  address: alice@example.com
store:
  path: /tmp/mailtm-test.db
log:
  level: debug
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.API.BaseURL)
	assert.Equal(t, 30, cfg.API.TimeoutSec, "unset keys keep their default")
	assert.Equal(t, "http://proxy.local:3128", cfg.API.ProxyURL)
	assert.Equal(t, "alice@example.com", cfg.Account.Address)
	assert.Equal(t, "/tmp/mailtm-test.db", cfg.Store.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("MAILTM_ACCOUNT_ADDRESS", "env@example.com")
	t.Setenv("MAILTM_API_TIMEOUT_SEC", "5")

	path := writeConfig(t, "account:\n  address: file@example.com\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "env@example.com", cfg.Account.Address)
	assert.Equal(t, 5, cfg.API.TimeoutSec)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "bad yaml", content: "api: [unclosed"},
		{name: "bad level", content: "log:\n  level: verbose\n"},
		{name: "zero timeout", content: "api:\n  timeout_sec: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	want := defaultAppConfig()
	want.Account.Address = "saved@example.com"
	want.API.ProxyURL = "http://proxy:8080"
	want.Log.Level = "warn"

	require.NoError(t, SaveConfig(path, want))

	got, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
