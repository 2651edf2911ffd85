package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "forge.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadParsesFullConfig(t *testing.T) {
	path := writeConfig(t, `
forge:
  max_retries: 5
  abandon_marker: "GIVE UP:"
  work_dir: /srv/project
  test_command: pytest
  test_timeout: 5m
  retry:
    max_attempts: 4
    base_delay: 500ms
    backoff_factor: 3
    max_delay: 10s
    jitter: 0.2
  breaker:
    failure_threshold: 2
    reset_timeout: 30s
  history:
    backend: postgres
    dsn: postgres://forge@localhost/forge
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	f := cfg.Forge
	if f.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", f.MaxRetries)
	}
	if f.AbandonMarker != "GIVE UP:" {
		t.Errorf("AbandonMarker = %q", f.AbandonMarker)
	}
	if f.TestCommand != "pytest" {
		t.Errorf("TestCommand = %q", f.TestCommand)
	}
	if f.Retry.MaxAttempts != 4 || f.Retry.BaseDelay != "500ms" {
		t.Errorf("retry settings = %+v", f.Retry)
	}
	if f.Breaker.FailureThreshold != 2 {
		t.Errorf("FailureThreshold = %d, want 2", f.Breaker.FailureThreshold)
	}
	if f.History.Backend != "postgres" || f.History.DSN == "" {
		t.Errorf("history settings = %+v", f.History)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "forge: {}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	f := cfg.Forge
	if f.MaxRetries != 3 {
		t.Errorf("default MaxRetries = %d, want 3", f.MaxRetries)
	}
	if f.AbandonMarker != "ABANDON:" {
		t.Errorf("default AbandonMarker = %q", f.AbandonMarker)
	}
	if f.TestCommand != "go test ./..." {
		t.Errorf("default TestCommand = %q", f.TestCommand)
	}
	if f.Retry.BackoffFactor != 2.0 {
		t.Errorf("default BackoffFactor = %v", f.Retry.BackoffFactor)
	}
	if f.Breaker.FailureThreshold != 5 {
		t.Errorf("default FailureThreshold = %d", f.Breaker.FailureThreshold)
	}
	if f.History.Backend != "sqlite" {
		t.Errorf("default backend = %q", f.History.Backend)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "forge: [not a mapping\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	var cfg Config
	applyDefaults(&cfg)

	if errs := Validate(&cfg); len(errs) != 0 {
		t.Fatalf("defaults should validate cleanly, got %v", errs)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := &Config{Forge: Forge{
		MaxRetries:    0,
		AbandonMarker: "",
		TestCommand:   "",
		TestTimeout:   "soon",
		Retry: Retry{
			MaxAttempts:   0,
			BaseDelay:     "1s",
			BackoffFactor: 0.5,
			MaxDelay:      "-2s",
			Jitter:        1.5,
		},
		Breaker: Breaker{FailureThreshold: 0, ResetTimeout: "1m"},
		History: History{Backend: "redis"},
	}}

	errs := Validate(cfg)
	fields := make(map[string]bool)
	for _, e := range errs {
		fields[e.Field] = true
	}

	want := []string{
		"forge.max_retries",
		"forge.abandon_marker",
		"forge.test_command",
		"forge.test_timeout",
		"forge.retry.max_attempts",
		"forge.retry.backoff_factor",
		"forge.retry.max_delay",
		"forge.retry.jitter",
		"forge.breaker.failure_threshold",
		"forge.history.backend",
	}
	for _, field := range want {
		if !fields[field] {
			t.Errorf("missing validation error for %s (got %v)", field, errs)
		}
	}
}

func TestValidatePostgresRequiresDSN(t *testing.T) {
	var cfg Config
	applyDefaults(&cfg)
	cfg.Forge.History.Backend = "postgres"

	errs := Validate(&cfg)
	if len(errs) != 1 {
		t.Fatalf("expected one error, got %v", errs)
	}
	if errs[0].Field != "forge.history.dsn" {
		t.Errorf("error field = %q", errs[0].Field)
	}
	if !strings.Contains(errs[0].Error(), "forge.history.dsn") {
		t.Errorf("Error() = %q", errs[0].Error())
	}
}
