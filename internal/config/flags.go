package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// overrideList is a custom flag type for repeatable -set key=value flags.
type overrideList map[string]string

func (o *overrideList) String() string {
	parts := make([]string, 0, len(*o))
	for k, v := range *o {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ", ")
}

func (o *overrideList) Set(value string) error {
	key, val, ok := strings.Cut(value, "=")
	if !ok {
		return fmt.Errorf("expected key=value, got %q", value)
	}
	if *o == nil {
		*o = make(map[string]string)
	}
	(*o)[key] = val
	return nil
}

// ParseFlags parses command-line flags and returns a Config.
func ParseFlags() (*Config, error) {
	cfg := DefaultConfig()
	overrides := make(overrideList)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `go-rig-launcher - experiment rig orchestration

Usage:
  go-rig-launcher -param-file <path> [flags]

Input Flags:
`)
		printFlagCategory([]string{"param-file", "rig-config", "set"})

		fmt.Fprintf(os.Stderr, "\nSupervision:\n")
		printFlagCategory([]string{"start-timeout", "run-timeout", "max-retries", "shutdown-timeout", "non-interactive"})

		fmt.Fprintf(os.Stderr, "\nObservability:\n")
		printFlagCategory([]string{"metrics", "v", "log-format", "log-level"})

		fmt.Fprintf(os.Stderr, "\nDiagnostics:\n")
		printFlagCategory([]string{"check", "skip-preflight"})

		fmt.Fprintf(os.Stderr, `
Examples:
  # Run an experiment described by a parameter file
  go-rig-launcher -param-file ./session_params.json -rig-config /etc/rig.toml

  # Validate configuration without launching anything
  go-rig-launcher -param-file ./session_params.json --check

`)
	}

	// Inputs
	flag.StringVar(&cfg.ParamFile, "param-file", cfg.ParamFile, "Path to the JSON parameter file (required)")
	flag.StringVar(&cfg.RigConfigPath, "rig-config", cfg.RigConfigPath, "Path to the rig configuration TOML file")
	flag.Var(&overrides, "set", "Override a parameter (key=value, can repeat)")

	// Supervision
	flag.DurationVar(&cfg.StartTimeout, "start-timeout", cfg.StartTimeout, "Default acquisition startup timeout")
	flag.DurationVar(&cfg.RunTimeout, "run-timeout", cfg.RunTimeout, "Maximum acquisition runtime (0 = unlimited)")
	flag.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "Default acquisition retry budget")
	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "Grace period before SIGKILL on shutdown")
	flag.BoolVar(&cfg.NonInteractive, "non-interactive", cfg.NonInteractive, "Never block on operator prompts; use defaults")

	// Observability
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics address")
	flag.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")

	// Diagnostics (double-dash convention)
	flag.BoolVar(&cfg.Check, "check", cfg.Check, "Validate configuration and exit")
	flag.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")

	flag.Parse()

	cfg.Overrides = overrides

	// Positional argument: parameter file, for parity with -param-file
	args := flag.Args()
	if len(args) >= 1 && cfg.ParamFile == "" {
		cfg.ParamFile = args[0]
	}

	return cfg, nil
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(names []string) {
	flag.VisitAll(func(f *flag.Flag) {
		for _, name := range names {
			if f.Name == name {
				fmt.Fprintf(os.Stderr, "  -%s\n    \t%s", f.Name, f.Usage)
				if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" {
					fmt.Fprintf(os.Stderr, " (default %s)", f.DefValue)
				}
				fmt.Fprintln(os.Stderr)
				return
			}
		}
	})
}
