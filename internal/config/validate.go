package config

import (
	"fmt"
	"time"
)

// ValidationError describes a single invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors. It returns all problems found
// rather than stopping at the first one.
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	f := cfg.Forge

	if f.MaxRetries < 1 {
		errs = append(errs, ValidationError{
			Field:   "forge.max_retries",
			Message: "must be at least 1",
		})
	}
	if f.AbandonMarker == "" {
		errs = append(errs, ValidationError{
			Field:   "forge.abandon_marker",
			Message: "must not be empty",
		})
	}
	if f.TestCommand == "" {
		errs = append(errs, ValidationError{
			Field:   "forge.test_command",
			Message: "must not be empty",
		})
	}
	errs = append(errs, validateDuration("forge.test_timeout", f.TestTimeout)...)

	if f.Retry.MaxAttempts < 1 {
		errs = append(errs, ValidationError{
			Field:   "forge.retry.max_attempts",
			Message: "must be at least 1",
		})
	}
	if f.Retry.BackoffFactor < 1 {
		errs = append(errs, ValidationError{
			Field:   "forge.retry.backoff_factor",
			Message: "must be at least 1",
		})
	}
	if f.Retry.Jitter < 0 || f.Retry.Jitter > 1 {
		errs = append(errs, ValidationError{
			Field:   "forge.retry.jitter",
			Message: "must be between 0 and 1",
		})
	}
	errs = append(errs, validateDuration("forge.retry.base_delay", f.Retry.BaseDelay)...)
	errs = append(errs, validateDuration("forge.retry.max_delay", f.Retry.MaxDelay)...)

	if f.Breaker.FailureThreshold < 1 {
		errs = append(errs, ValidationError{
			Field:   "forge.breaker.failure_threshold",
			Message: "must be at least 1",
		})
	}
	errs = append(errs, validateDuration("forge.breaker.reset_timeout", f.Breaker.ResetTimeout)...)

	switch f.History.Backend {
	case "sqlite":
	case "postgres":
		if f.History.DSN == "" {
			errs = append(errs, ValidationError{
				Field:   "forge.history.dsn",
				Message: "required when backend is postgres",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "forge.history.backend",
			Message: fmt.Sprintf("unknown backend %q (expected sqlite or postgres)", f.History.Backend),
		})
	}

	return errs
}

func validateDuration(field, value string) []ValidationError {
	if value == "" {
		return []ValidationError{{Field: field, Message: "must not be empty"}}
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return []ValidationError{{Field: field, Message: fmt.Sprintf("invalid duration %q", value)}}
	}
	if d <= 0 {
		return []ValidationError{{Field: field, Message: "must be positive"}}
	}
	return nil
}
