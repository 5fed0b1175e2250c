// Package config loads the client configuration.
//
// The file is YAML and read from, in order of precedence: the --config flag,
// the INSPECTA_CONFIG environment variable, or $HOME/.inspecta/config.yaml.
// A missing file at the default location is not an error; defaults apply.
// Backend URLs can be overridden per environment variable.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/habedi/inspecta/pkg/validation"
	"gopkg.in/yaml.v3"
)

// EnvConfig names the variable holding the config file path.
const EnvConfig = "INSPECTA_CONFIG"

// Environment variables overriding the backend URLs.
const (
	EnvAPIURL   = "INSPECTA_API_URL"
	EnvAssetURL = "INSPECTA_ASSET_URL"
	EnvAuthURL  = "INSPECTA_AUTH_URL"
	EnvGenAIURL = "INSPECTA_GENAI_URL"
)

// Config is the full client configuration.
type Config struct {
	Backends BackendsConfig `yaml:"backends"`
	Database DatabaseConfig `yaml:"database"`
	Health   HealthConfig   `yaml:"health"`
	Session  SessionConfig  `yaml:"session"`
	Updates  UpdatesConfig  `yaml:"updates"`
}

// BackendsConfig holds the base URL of each API.
type BackendsConfig struct {
	API   string `yaml:"api"`
	Asset string `yaml:"asset"`
	Auth  string `yaml:"auth"`
	GenAI string `yaml:"genai"`

	// RequestTimeout bounds a single API call, refresh and replay included.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DatabaseConfig locates the session database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// HealthConfig drives the connectivity monitor.
type HealthConfig struct {
	Interval      time.Duration `yaml:"interval"`
	Timeout       time.Duration `yaml:"timeout"`
	ExpectedToken string        `yaml:"expected_token"`
}

// SessionConfig tunes token refresh.
type SessionConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`
}

// UpdatesConfig drives the update agent lifecycle.
type UpdatesConfig struct {
	ScriptURL      string        `yaml:"script_url"`
	CheckInterval  time.Duration `yaml:"check_interval"`
	ReloadFallback time.Duration `yaml:"reload_fallback"`
}

// Dir returns the directory holding the config file and the session database.
func Dir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".inspecta")
}

// DefaultPath is the config file used when neither flag nor env var is set.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backends: BackendsConfig{
			API:            "http://localhost:5000",
			Asset:          "http://localhost:5001",
			Auth:           "http://localhost:5002",
			GenAI:          "http://localhost:5003",
			RequestTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{Path: filepath.Join(Dir(), "session.db")},
		Health: HealthConfig{
			Interval:      30 * time.Second,
			Timeout:       10 * time.Second,
			ExpectedToken: "Healthy",
		},
		Session: SessionConfig{
			MaxRetries:     3,
			RefreshTimeout: 10 * time.Second,
		},
		Updates: UpdatesConfig{
			ScriptURL:      "/sw.js",
			CheckInterval:  time.Hour,
			ReloadFallback: 3 * time.Second,
		},
	}
}

// Load reads the configuration. path may be empty, in which case
// INSPECTA_CONFIG and then the default location are tried.
func Load(path string) (*Config, error) {
	explicit := true
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		path = DefaultPath()
		explicit = false
	}

	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	cfg.applyEnv()
	cfg.Database.Path = expandHome(cfg.Database.Path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// loadFile merges the file at path into c.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	overrides := []struct {
		env   string
		field *string
	}{
		{EnvAPIURL, &c.Backends.API},
		{EnvAssetURL, &c.Backends.Asset},
		{EnvAuthURL, &c.Backends.Auth},
		{EnvGenAIURL, &c.Backends.GenAI},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.field = v
		}
	}
}

// Validate checks every field.
func (c *Config) Validate() error {
	checks := []error{
		validation.ValidateBaseURL("backends.api", c.Backends.API),
		validation.ValidateBaseURL("backends.asset", c.Backends.Asset),
		validation.ValidateBaseURL("backends.auth", c.Backends.Auth),
		validation.ValidateBaseURL("backends.genai", c.Backends.GenAI),
		validation.ValidatePositiveDuration("backends.request_timeout", c.Backends.RequestTimeout),
		validation.ValidateNonEmptyString("database.path", c.Database.Path),
		validation.ValidatePositiveDuration("health.interval", c.Health.Interval),
		validation.ValidatePositiveDuration("health.timeout", c.Health.Timeout),
		validation.ValidateNonEmptyString("health.expected_token", c.Health.ExpectedToken),
		validation.ValidateRetryCount(c.Session.MaxRetries),
		validation.ValidatePositiveDuration("session.refresh_timeout", c.Session.RefreshTimeout),
		validation.ValidateNonEmptyString("updates.script_url", c.Updates.ScriptURL),
		validation.ValidatePositiveDuration("updates.check_interval", c.Updates.CheckInterval),
		validation.ValidatePositiveDuration("updates.reload_fallback", c.Updates.ReloadFallback),
	}
	return errors.Join(checks...)
}

func expandHome(path string) string {
	if path == "~" || len(path) > 1 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return os.ExpandEnv(path)
}
