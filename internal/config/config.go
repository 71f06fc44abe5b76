// Package config loads and validates unfurl configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/unfurl/internal/service"
)

// ErrNotFound reports that the config file does not exist. Load still returns
// a usable Config built from defaults and the environment alongside it.
var ErrNotFound = errors.New("config file not found")

// Transport names accepted by http.client.
const (
	ClientHTTP  = "http"
	ClientColly = "colly"
)

// DefaultFileName is looked up in the user's home directory.
const DefaultFileName = ".unfurl.yml"

// Domain names contain dots, so nested keys use a different delimiter.
const keyDelimiter = "::"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging  LoggingConfig               `mapstructure:"logging"`
	HTTP     HTTPConfig                  `mapstructure:"http"`
	Dispatch DispatchConfig              `mapstructure:"dispatch"`
	Server   ServerConfig                `mapstructure:"server"`
	Routes   string                      `mapstructure:"routes"`
	Services map[string]service.Override `mapstructure:"services"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// HTTPConfig configures outbound requests.
type HTTPConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	Client       string        `mapstructure:"client"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

// DispatchConfig governs batch fan-out and per-host throttling.
type DispatchConfig struct {
	Concurrency      int     `mapstructure:"concurrency"`
	RateLimitPerHost float64 `mapstructure:"rate_limit_per_host"`
	RateLimitBurst   int     `mapstructure:"rate_limit_burst"`
}

// ServerConfig controls the serve command.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DefaultPath returns ~/.unfurl.yml, or "" when the home directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, DefaultFileName)
}

// Load builds a Config from disk/environment. An empty path selects
// DefaultPath. When the file is missing the returned error wraps ErrNotFound
// and the Config is still valid.
func Load(path string) (Config, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	v.SetEnvPrefix("UNFURL")
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path == "" {
		path = DefaultPath()
	}
	var missing error
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			missing = fmt.Errorf("%w: %s", ErrNotFound, path)
		} else {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, missing
}

func setDefaults(v *viper.Viper) {
	key := func(parts ...string) string { return strings.Join(parts, keyDelimiter) }
	v.SetDefault(key("logging", "development"), false)
	v.SetDefault(key("logging", "level"), "info")
	v.SetDefault(key("http", "timeout"), "15s")
	v.SetDefault(key("http", "client"), ClientHTTP)
	v.SetDefault(key("http", "max_body_bytes"), 4<<20)
	v.SetDefault(key("dispatch", "concurrency"), 3)
	v.SetDefault(key("dispatch", "rate_limit_per_host"), 0)
	v.SetDefault(key("dispatch", "rate_limit_burst"), 1)
	v.SetDefault(key("server", "port"), 8080)
	v.SetDefault("routes", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Dispatch.Concurrency <= 0 {
		return fmt.Errorf("dispatch.concurrency must be > 0")
	}
	if c.Dispatch.RateLimitPerHost < 0 {
		return fmt.Errorf("dispatch.rate_limit_per_host must be >= 0")
	}
	if c.Dispatch.RateLimitPerHost > 0 && c.Dispatch.RateLimitBurst <= 0 {
		return fmt.Errorf("dispatch.rate_limit_burst must be > 0 when rate limiting is enabled")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return fmt.Errorf("http.max_body_bytes must be > 0")
	}
	switch c.HTTP.Client {
	case ClientHTTP, ClientColly:
	default:
		return fmt.Errorf("http.client must be %q or %q, got %q", ClientHTTP, ClientColly, c.HTTP.Client)
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}
