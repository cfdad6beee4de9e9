package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config aggregates everything the client needs to come up. Values resolve in
// three layers: compiled defaults, then the YAML file, then LIFELINE_*
// environment variables.
type Config struct {
	ServerURL string
	AuthToken string

	// SyncKind selects the message sync strategy: "polling" or "stream".
	SyncKind string

	StatusPollInterval  time.Duration
	MessagePollInterval time.Duration
	TypingIdleWindow    time.Duration
	FailureThreshold    int

	// ReadMarkerPath is the SQLite file for read markers; empty keeps them
	// in memory only.
	ReadMarkerPath string

	LogLevel string
}

// fileConfig is the YAML shape; durations are strings so "5s" works.
type fileConfig struct {
	ServerURL           string `yaml:"serverUrl"`
	AuthToken           string `yaml:"authToken"`
	SyncKind            string `yaml:"syncKind"`
	StatusPollInterval  string `yaml:"statusPollInterval"`
	MessagePollInterval string `yaml:"messagePollInterval"`
	TypingIdleWindow    string `yaml:"typingIdleWindow"`
	FailureThreshold    *int   `yaml:"failureThreshold"`
	ReadMarkerPath      string `yaml:"readMarkerPath"`
	LogLevel            string `yaml:"logLevel"`
}

// Default returns the compiled-in baseline. The intervals mirror the cadence
// the server is provisioned for; changing them is a tuning decision, not a
// per-user one.
func Default() Config {
	return Config{
		SyncKind:            "polling",
		StatusPollInterval:  10 * time.Second,
		MessagePollInterval: 3 * time.Second,
		TypingIdleWindow:    3 * time.Second,
		FailureThreshold:    3,
		LogLevel:            "info",
	}
}

// Load resolves the configuration. path may be empty, in which case only
// defaults and environment apply; a named file that does not exist or does
// not parse is an error, so typos fail loudly. Callers validate after
// applying their own overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "read config file %s", path)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			return Config{}, errors.Wrapf(err, "parse config file %s", path)
		}
		if err := cfg.applyFile(path, fc); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string, fc fileConfig) error {
	if fc.ServerURL != "" {
		c.ServerURL = fc.ServerURL
	}
	if fc.AuthToken != "" {
		c.AuthToken = fc.AuthToken
	}
	if fc.SyncKind != "" {
		c.SyncKind = fc.SyncKind
	}
	if fc.ReadMarkerPath != "" {
		c.ReadMarkerPath = fc.ReadMarkerPath
	}
	if fc.LogLevel != "" {
		c.LogLevel = fc.LogLevel
	}
	if fc.FailureThreshold != nil {
		c.FailureThreshold = *fc.FailureThreshold
	}

	for _, f := range []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{fc.StatusPollInterval, "statusPollInterval", &c.StatusPollInterval},
		{fc.MessagePollInterval, "messagePollInterval", &c.MessagePollInterval},
		{fc.TypingIdleWindow, "typingIdleWindow", &c.TypingIdleWindow},
	} {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return errors.Wrapf(err, "%s: invalid %s %q", path, f.name, f.raw)
		}
		*f.dst = d
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := strings.TrimSpace(os.Getenv("LIFELINE_SERVER_URL")); v != "" {
		c.ServerURL = v
	}
	if v := strings.TrimSpace(os.Getenv("LIFELINE_AUTH_TOKEN")); v != "" {
		c.AuthToken = v
	}
	if v := strings.TrimSpace(os.Getenv("LIFELINE_SYNC_KIND")); v != "" {
		c.SyncKind = v
	}
	if v := strings.TrimSpace(os.Getenv("LIFELINE_READ_MARKER_PATH")); v != "" {
		c.ReadMarkerPath = v
	}
	if v := strings.TrimSpace(os.Getenv("LIFELINE_LOG_LEVEL")); v != "" {
		c.LogLevel = v
	}

	var err error
	if c.StatusPollInterval, err = durationEnv("LIFELINE_STATUS_POLL_INTERVAL", c.StatusPollInterval); err != nil {
		return err
	}
	if c.MessagePollInterval, err = durationEnv("LIFELINE_MESSAGE_POLL_INTERVAL", c.MessagePollInterval); err != nil {
		return err
	}
	if c.TypingIdleWindow, err = durationEnv("LIFELINE_TYPING_IDLE_WINDOW", c.TypingIdleWindow); err != nil {
		return err
	}
	if c.FailureThreshold, err = intEnv("LIFELINE_FAILURE_THRESHOLD", c.FailureThreshold); err != nil {
		return err
	}
	return nil
}

// Validate checks the resolved configuration for values that would misbehave
// at runtime.
func (c Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("config: server URL is required (serverUrl / LIFELINE_SERVER_URL)")
	}
	if c.SyncKind != "polling" && c.SyncKind != "stream" {
		return errors.Errorf("config: unknown sync kind %q", c.SyncKind)
	}
	if c.StatusPollInterval <= 0 || c.MessagePollInterval <= 0 || c.TypingIdleWindow <= 0 {
		return errors.New("config: intervals must be positive")
	}
	if c.FailureThreshold < 1 {
		return errors.New("config: failure threshold must be at least 1")
	}
	return nil
}

func durationEnv(key string, current time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return current, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s value %q", key, raw)
	}
	return d, nil
}

func intEnv(key string, current int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return current, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s value %q", key, raw)
	}
	return n, nil
}
