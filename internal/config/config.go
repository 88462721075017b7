// Package config loads server settings from an optional YAML file
// layered under environment variables. The API key is environment-only
// so it never ends up committed inside a config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is looked up in the working directory when no explicit
// path is given.
const DefaultFile = "openproject-mcp.yaml"

// Environment variable names.
const (
	EnvBaseURL        = "OPENPROJECT_BASE_URL"
	EnvAPIKey         = "OPENPROJECT_API_KEY"
	EnvTimeoutSeconds = "OPENPROJECT_TIMEOUT_SECONDS"
)

// Config holds everything the server needs to talk to one
// OpenProject instance.
type Config struct {
	BaseURL         string `yaml:"base_url"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	MaxRetries      int    `yaml:"max_retries"`
	BackoffMillis   int    `yaml:"backoff_ms"`
	RetryOn429      bool   `yaml:"retry_on_429"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`

	// APIKey comes from the environment only, never from YAML.
	APIKey string `yaml:"-"`
}

// Default returns the baseline configuration before file and
// environment layering.
func Default() Config {
	return Config{
		TimeoutSeconds:  10,
		MaxRetries:      2,
		BackoffMillis:   300,
		CacheTTLSeconds: 600,
	}
}

// Load builds the effective configuration: defaults, then the YAML
// file at path (or DefaultFile when path is empty; a missing default
// file is not an error), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return Config{}, fmt.Errorf("reading %s: %w", path, err)
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvBaseURL); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv(EnvTimeoutSeconds); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.TimeoutSeconds = secs
		}
	}
}

// Validate fails fast on anything that would only surface later as a
// confusing network error.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required (set %s or base_url in %s)", EnvBaseURL, DefaultFile)
	}
	if c.APIKey == "" {
		return fmt.Errorf("API key is required (set %s)", EnvAPIKey)
	}
	if c.TimeoutSeconds <= 0 {
		return errors.New("timeout_seconds must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("max_retries must not be negative")
	}
	return nil
}

// Timeout returns the per-attempt HTTP timeout.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Backoff returns the retry backoff base.
func (c Config) Backoff() time.Duration {
	return time.Duration(c.BackoffMillis) * time.Millisecond
}

// CacheTTL returns how long metadata lists stay cached.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}
