package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	// t.Setenv registers restoration; the unset makes the variable
	// genuinely absent for the test body.
	for _, key := range []string{EnvBaseURL, EnvAPIKey, EnvTimeoutSeconds} {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("explicit missing file should be an error")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir()) // no default file present

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TimeoutSeconds != 10 || cfg.MaxRetries != 2 || cfg.BackoffMillis != 300 {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.CacheTTLSeconds != 600 {
		t.Errorf("cache TTL = %d", cfg.CacheTTLSeconds)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "conf.yaml")
	body := `base_url: https://op.example.com
timeout_seconds: 30
max_retries: 5
retry_on_429: true
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseURL != "https://op.example.com" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.TimeoutSeconds != 30 || cfg.MaxRetries != 5 || !cfg.RetryOn429 {
		t.Errorf("cfg = %+v", cfg)
	}
	// Unset fields keep defaults.
	if cfg.BackoffMillis != 300 {
		t.Errorf("BackoffMillis = %d", cfg.BackoffMillis)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "conf.yaml")
	if err := os.WriteFile(path, []byte("base_url: https://file.example.com\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvBaseURL, "https://env.example.com")
	t.Setenv(EnvAPIKey, "env-key")
	t.Setenv(EnvTimeoutSeconds, "25")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseURL != "https://env.example.com" {
		t.Errorf("BaseURL = %q, want env override", cfg.BaseURL)
	}
	if cfg.APIKey != "env-key" {
		t.Errorf("APIKey = %q", cfg.APIKey)
	}
	if cfg.TimeoutSeconds != 25 {
		t.Errorf("TimeoutSeconds = %d", cfg.TimeoutSeconds)
	}
}

func TestAPIKeyNeverFromYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "conf.yaml")
	body := `base_url: https://op.example.com
api_key: leaked-from-file
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIKey != "" {
		t.Errorf("APIKey = %q, want empty (file values ignored)", cfg.APIKey)
	}
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.BaseURL = "https://op.example.com"
	valid.APIKey = "key"

	if err := valid.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing base URL", func(c *Config) { c.BaseURL = "" }},
		{"missing API key", func(c *Config) { c.APIKey = "" }},
		{"zero timeout", func(c *Config) { c.TimeoutSeconds = 0 }},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	if cfg.Timeout() != 10*time.Second {
		t.Errorf("Timeout = %v", cfg.Timeout())
	}
	if cfg.Backoff() != 300*time.Millisecond {
		t.Errorf("Backoff = %v", cfg.Backoff())
	}
	if cfg.CacheTTL() != 10*time.Minute {
		t.Errorf("CacheTTL = %v", cfg.CacheTTL())
	}
}
