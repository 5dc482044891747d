package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"gisauth/internal/autherr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// configDir writes a config.yaml with the given body into a fresh directory.
func configDir(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600))
	return dir
}

func TestSetVersion(t *testing.T) {
	SetVersion("1.2.3-test")
	assert.Equal(t, "1.2.3-test", GetVersion())
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "gisauth", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.True(t, rootCmd.SilenceUsage)

	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"login", "status", "token", "refresh", "logout", "request", "bridge", "app", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestVersionCommand(t *testing.T) {
	SetVersion("9.9.9")
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "gisauth version 9.9.9\n", out)
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitCodeSuccess},
		{"plain", errors.New("boom"), ExitCodeError},
		{"missing config", autherr.Missing("clientId", "login"), ExitCodeAuthRequired},
		{"no session", fmt.Errorf("status: %w", errNoSession), ExitCodeAuthRequired},
		{"auth failure", autherr.NewAuthError(autherr.CodeTokenRefreshFailed, "nope"), ExitCodeAuthFailed},
		{"denied", autherr.NewAccessDeniedError(), ExitCodeAuthFailed},
		{"network", &autherr.NetworkError{URL: "https://example.com", Err: errors.New("refused")}, ExitCodeNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, getExitCode(tt.err))
		})
	}
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	dir := configDir(t, "storage:\n  backend: tape\n")
	_, err := execute(t, "status", "--config-path", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.backend")
}
