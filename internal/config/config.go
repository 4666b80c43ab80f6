// Package config provides configuration management for go-rig-launcher.
package config

import "time"

// Config holds all process-level configuration for the launcher.
//
// Values here configure the launcher process itself. Experiment-specific
// values (subject, pipelines, acquisition command) live in the parameter
// file and are resolved by the params package.
type Config struct {
	// Inputs
	ParamFile     string            `json:"param_file"`
	RigConfigPath string            `json:"rig_config_path"`
	Overrides     map[string]string `json:"overrides"` // -set key=value, applied after file load

	// Process supervision defaults (parameter file values win)
	StartTimeout    time.Duration `json:"process_start_timeout"`
	RunTimeout      time.Duration `json:"process_run_timeout"` // 0 = unlimited
	MaxRetries      int           `json:"process_max_retries"`
	PollInterval    time.Duration `json:"poll_interval"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`

	// Operator interaction
	NonInteractive bool `json:"non_interactive"` // never block on prompts; use defaults

	// Observability
	MetricsAddr string `json:"metrics_addr"`
	Verbose     bool   `json:"verbose"`
	LogFormat   string `json:"log_format"` // json, text
	LogLevel    string `json:"log_level"`

	// Diagnostic modes
	Check         bool `json:"check"` // validate configuration and exit
	SkipPreflight bool `json:"skip_preflight"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Supervision
		StartTimeout:    60 * time.Second,
		RunTimeout:      0, // Unlimited
		MaxRetries:      2,
		PollInterval:    250 * time.Millisecond,
		ShutdownTimeout: 10 * time.Second,

		// Observability
		MetricsAddr: "0.0.0.0:17092",
		Verbose:     false,
		LogFormat:   "json",
		LogLevel:    "info",
	}
}
