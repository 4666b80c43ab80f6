package config

import (
	"errors"
	"fmt"
	"os"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing the problem.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.ParamFile == "" {
		errs = append(errs, ValidationError{
			Field:   "param_file",
			Message: "parameter file is required",
		})
	} else if _, err := os.Stat(cfg.ParamFile); err != nil {
		errs = append(errs, ValidationError{
			Field:   "param_file",
			Message: fmt.Sprintf("not readable: %v", err),
		})
	}

	if cfg.RigConfigPath != "" {
		if _, err := os.Stat(cfg.RigConfigPath); err != nil {
			errs = append(errs, ValidationError{
				Field:   "rig_config",
				Message: fmt.Sprintf("not readable: %v", err),
			})
		}
	}

	if cfg.StartTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "start_timeout",
			Message: "must be positive",
		})
	}

	if cfg.RunTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "run_timeout",
			Message: "must be >= 0 (0 = unlimited)",
		})
	}

	if cfg.MaxRetries < 0 {
		errs = append(errs, ValidationError{
			Field:   "max_retries",
			Message: "must be >= 0",
		})
	}

	if cfg.PollInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "poll_interval",
			Message: "must be positive",
		})
	}

	if cfg.ShutdownTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "shutdown_timeout",
			Message: "must be positive",
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.LogLevel] {
		errs = append(errs, ValidationError{
			Field:   "log_level",
			Message: fmt.Sprintf("must be debug, info, warn, or error (got %q)", cfg.LogLevel),
		})
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}
