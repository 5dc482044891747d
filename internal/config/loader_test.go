package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0o600))
}

func TestLoadConfig_DefaultOnly(t *testing.T) {
	tempDir := t.TempDir()

	cfg, err := LoadConfig(tempDir)
	require.NoError(t, err)

	expected := GetDefaultConfig()
	expected.Storage.Dir = tempDir
	assert.Equal(t, expected, cfg)
	assert.True(t, cfg.PKCEEnabled())
	assert.True(t, cfg.PopupEnabled())
}

func TestLoadConfig_Override(t *testing.T) {
	tempDir := t.TempDir()
	writeConfig(t, tempDir, `
portal: https://org.example.com/portal/sharing/rest
clientId: abc123
redirectUri: http://127.0.0.1:7890/callback
pkce: false
trustedDomains:
  - https://maps.example.com
storage:
  backend: keyring
  dir: /var/lib/gisauth
callback:
  port: 7890
bridge:
  origins:
    - https://app.example.com
timeouts:
  popup: 2m
`)

	cfg, err := LoadConfig(tempDir)
	require.NoError(t, err)

	assert.Equal(t, "https://org.example.com/portal/sharing/rest", cfg.Portal)
	assert.Equal(t, "abc123", cfg.ClientID)
	assert.False(t, cfg.PKCEEnabled())
	assert.True(t, cfg.PopupEnabled())
	assert.Equal(t, []string{"https://maps.example.com"}, cfg.TrustedDomains)
	assert.Equal(t, "keyring", cfg.Storage.Backend)
	assert.Equal(t, "/var/lib/gisauth", cfg.Storage.Dir)
	assert.Equal(t, 7890, cfg.Callback.Port)
	assert.Equal(t, DefaultCallbackPath, cfg.Callback.Path, "unset fields keep their defaults")
	assert.Equal(t, 2*time.Minute, cfg.Timeouts.Popup)
	assert.Equal(t, 60*time.Second, cfg.Timeouts.HTTP)
	assert.Equal(t, DefaultTokenDuration, cfg.TokenDuration)
}

func TestLoadConfig_Malformed(t *testing.T) {
	tempDir := t.TempDir()
	writeConfig(t, tempDir, "portal: [unterminated")

	_, err := LoadConfig(tempDir)
	assert.Error(t, err)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tempDir := t.TempDir()
	writeConfig(t, tempDir, `
portal: ftp://example.com
storage:
  backend: floppy
`)

	_, err := LoadConfig(tempDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "portal")
	assert.Contains(t, err.Error(), "storage.backend")
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	tempDir := filepath.Join(t.TempDir(), "nested")
	cfg := GetDefaultConfig()
	cfg.ClientID = "abc123"
	cfg.Storage.Dir = tempDir

	require.NoError(t, SaveConfig(tempDir, cfg))
	loaded, err := LoadConfig(tempDir)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestGetDefaultConfigPathOrPanic(t *testing.T) {
	original := osUserHomeDir
	defer func() { osUserHomeDir = original }()

	osUserHomeDir = func() (string, error) { return "/home/casey", nil }
	assert.Equal(t, filepath.Join("/home/casey", ".config/gisauth"), GetDefaultConfigPathOrPanic())
}
