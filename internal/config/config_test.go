package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "unfurl.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
logging:
  development: true
  level: debug
http:
  timeout: 5s
  client: colly
  max_body_bytes: 1024
dispatch:
  concurrency: 6
  rate_limit_per_host: 2.5
  rate_limit_burst: 3
server:
  port: 9090
routes: /etc/unfurl/routes.yml
services:
  github.com:
    auth:
      header: Bearer ghp_secret
    format:
      pr: "{title} (#{number}) by {user.login}"
    default_format: "{title}"
  acme.atlassian.net:
    auth:
      header: Basic abc
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 5*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, ClientColly, cfg.HTTP.Client)
	assert.EqualValues(t, 1024, cfg.HTTP.MaxBodyBytes)
	assert.Equal(t, 6, cfg.Dispatch.Concurrency)
	assert.InDelta(t, 2.5, cfg.Dispatch.RateLimitPerHost, 0.001)
	assert.Equal(t, 3, cfg.Dispatch.RateLimitBurst)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/etc/unfurl/routes.yml", cfg.Routes)

	gh, ok := cfg.Services["github.com"]
	require.True(t, ok, "dotted domain keys must survive: %+v", cfg.Services)
	assert.Equal(t, "Bearer ghp_secret", gh.Auth.Header)
	assert.Equal(t, "{title} (#{number}) by {user.login}", gh.Formats["pr"])
	assert.Equal(t, "{title}", gh.DefaultFormat)
	assert.Equal(t, "Basic abc", cfg.Services["acme.atlassian.net"].Auth.Header)
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	assert.False(t, cfg.Logging.Development)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 15*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, ClientHTTP, cfg.HTTP.Client)
	assert.EqualValues(t, 4<<20, cfg.HTTP.MaxBodyBytes)
	assert.Equal(t, 3, cfg.Dispatch.Concurrency)
	assert.Zero(t, cfg.Dispatch.RateLimitPerHost)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Empty(t, cfg.Services)
}

func TestLoadMissingFileIsNotFatal(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "absent.yml")
	cfg, err := Load(path)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), path)
	assert.Equal(t, 3, cfg.Dispatch.Concurrency)
	assert.Equal(t, 15*time.Second, cfg.HTTP.Timeout)
}

func TestLoadMalformedFileIsFatal(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, "services: [unterminated"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, "http:\n  client: curl\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http.client")
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("UNFURL_DISPATCH_CONCURRENCY", "9")

	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Dispatch.Concurrency)
}

func TestDefaultPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	assert.Equal(t, filepath.Join(home, DefaultFileName), DefaultPath())
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Logging:  LoggingConfig{Level: "info"},
		HTTP:     HTTPConfig{Timeout: time.Second, Client: ClientHTTP, MaxBodyBytes: 1},
		Dispatch: DispatchConfig{Concurrency: 1},
		Server:   ServerConfig{Port: 8080},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid concurrency", func(c *Config) { c.Dispatch.Concurrency = 0 }, "dispatch.concurrency"},
		{"negative rate", func(c *Config) { c.Dispatch.RateLimitPerHost = -1 }, "dispatch.rate_limit_per_host"},
		{"rate without burst", func(c *Config) { c.Dispatch.RateLimitPerHost = 1 }, "dispatch.rate_limit_burst"},
		{"invalid timeout", func(c *Config) { c.HTTP.Timeout = 0 }, "http.timeout"},
		{"invalid body cap", func(c *Config) { c.HTTP.MaxBodyBytes = 0 }, "http.max_body_bytes"},
		{"unknown client", func(c *Config) { c.HTTP.Client = "curl" }, "http.client"},
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"invalid level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
