package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		configPath, serverURL, authToken, logLevel = "", "", "", ""
	})
	configPath, serverURL, authToken, logLevel = "", "", "", ""
}

func TestSetupRejectsMalformedConfigDespiteServerFlag(t *testing.T) {
	resetFlags(t)
	path := filepath.Join(t.TempDir(), "lifeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("serverUrl: [unclosed"), 0o600))

	configPath = path
	serverURL = "https://chat.example.org"

	_, _, err := setup()
	require.Error(t, err, "a named config file that does not parse is an error regardless of flags")
}

func TestSetupFlagsOverrideConfig(t *testing.T) {
	resetFlags(t)
	path := filepath.Join(t.TempDir(), "lifeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
serverUrl: https://file.example.org
logLevel: info
`), 0o600))

	configPath = path
	serverURL = "https://flag.example.org"
	authToken = "tok-9"
	logLevel = "debug"

	cfg, _, err := setup()
	require.NoError(t, err)
	assert.Equal(t, "https://flag.example.org", cfg.ServerURL)
	assert.Equal(t, "tok-9", cfg.AuthToken)
	assert.Equal(t, "debug", cfg.LogLevel)
}
