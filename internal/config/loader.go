package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a forge configuration from the given YAML file path.
// After parsing, it fills in defaults for unset values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a forge config in standard locations and loads the
// first one found. Search order: ./forge.yaml, ~/.forge/config.yaml. With no
// config file present it returns the built-in defaults.
func LoadDefault() (*Config, error) {
	candidates := []string{"forge.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".forge", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	var cfg Config
	applyDefaults(&cfg)
	return &cfg, nil
}

// applyDefaults fills unset fields with working defaults.
func applyDefaults(cfg *Config) {
	f := &cfg.Forge

	if f.MaxRetries == 0 {
		f.MaxRetries = 3
	}
	if f.AbandonMarker == "" {
		f.AbandonMarker = "ABANDON:"
	}
	if f.WorkDir == "" {
		f.WorkDir = "."
	}
	if f.TestCommand == "" {
		f.TestCommand = "go test ./..."
	}
	if f.TestTimeout == "" {
		f.TestTimeout = "10m"
	}

	if f.Retry.MaxAttempts == 0 {
		f.Retry.MaxAttempts = 3
	}
	if f.Retry.BaseDelay == "" {
		f.Retry.BaseDelay = "1s"
	}
	if f.Retry.BackoffFactor == 0 {
		f.Retry.BackoffFactor = 2.0
	}
	if f.Retry.MaxDelay == "" {
		f.Retry.MaxDelay = "30s"
	}

	if f.Breaker.FailureThreshold == 0 {
		f.Breaker.FailureThreshold = 5
	}
	if f.Breaker.ResetTimeout == "" {
		f.Breaker.ResetTimeout = "1m"
	}

	if f.History.Backend == "" {
		f.History.Backend = "sqlite"
	}
}
