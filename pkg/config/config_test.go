package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsApplyWithoutFile(t *testing.T) {
	t.Setenv("LIFELINE_SERVER_URL", "https://chat.example.org")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "polling", cfg.SyncKind)
	assert.Equal(t, 10*time.Second, cfg.StatusPollInterval)
	assert.Equal(t, 3*time.Second, cfg.MessagePollInterval)
	assert.Equal(t, 3*time.Second, cfg.TypingIdleWindow)
	assert.Equal(t, 3, cfg.FailureThreshold)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lifeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
serverUrl: https://chat.example.org
syncKind: stream
messagePollInterval: 5s
failureThreshold: 5
logLevel: debug
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "stream", cfg.SyncKind)
	assert.Equal(t, 5*time.Second, cfg.MessagePollInterval)
	assert.Equal(t, 10*time.Second, cfg.StatusPollInterval, "untouched fields keep defaults")
	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lifeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
serverUrl: https://file.example.org
typingIdleWindow: 2s
`), 0o600))

	t.Setenv("LIFELINE_SERVER_URL", "https://env.example.org")
	t.Setenv("LIFELINE_TYPING_IDLE_WINDOW", "7s")
	t.Setenv("LIFELINE_AUTH_TOKEN", "tok-123")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.org", cfg.ServerURL)
	assert.Equal(t, 7*time.Second, cfg.TypingIdleWindow)
	assert.Equal(t, "tok-123", cfg.AuthToken)
}

func TestMissingNamedFileFailsLoudly(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidation(t *testing.T) {
	t.Setenv("LIFELINE_SERVER_URL", "")
	cfg, err := Load("") // no server URL anywhere
	require.NoError(t, err)
	require.Error(t, cfg.Validate())

	t.Setenv("LIFELINE_SERVER_URL", "https://chat.example.org")
	t.Setenv("LIFELINE_SYNC_KIND", "telegraph")
	cfg, err = Load("")
	require.NoError(t, err)
	require.Error(t, cfg.Validate())

	t.Setenv("LIFELINE_SYNC_KIND", "polling")
	t.Setenv("LIFELINE_FAILURE_THRESHOLD", "0")
	cfg, err = Load("")
	require.NoError(t, err)
	require.Error(t, cfg.Validate())

	t.Setenv("LIFELINE_FAILURE_THRESHOLD", "not-a-number")
	_, err = Load("")
	require.Error(t, err, "unparseable environment value fails at load time")
}
