// Package main provides the go-rig-launcher CLI entry point.
//
// go-rig-launcher orchestrates one experiment session on a rig: it
// synchronizes the session name across nodes, prepares the experiment
// repository, runs the pre-acquisition pipeline, supervises the
// acquisition process, runs the post-acquisition pipeline, and persists
// session state for crash recovery.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/randomizedcoder/go-rig-launcher/internal/config"
	"github.com/randomizedcoder/go-rig-launcher/internal/launcher"
	"github.com/randomizedcoder/go-rig-launcher/internal/logging"
	"github.com/randomizedcoder/go-rig-launcher/internal/metrics"
	"github.com/randomizedcoder/go-rig-launcher/internal/params"
	"github.com/randomizedcoder/go-rig-launcher/internal/preflight"
	"github.com/randomizedcoder/go-rig-launcher/internal/prompt"
	"github.com/randomizedcoder/go-rig-launcher/internal/rig"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-rig-launcher
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Handle version flag early (before flag parsing)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("go-rig-launcher %s\n", version)
			return 0
		}
	}

	cfg, err := config.ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}

	logger := logging.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.Verbose)
	logging.SetDefault(logger)

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	var prompter prompt.Prompter
	if cfg.NonInteractive {
		prompter = prompt.Null{}
	} else {
		prompter = prompt.NewStdinPrompter(logger)
	}

	// Rig configuration is optional; without it the parameter file must
	// carry the output root itself.
	var rigCfg *rig.Config
	if cfg.RigConfigPath != "" {
		rigCfg, err = rig.Load(cfg.RigConfigPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Rig configuration error: %v\n", err)
			return 1
		}
	}

	rigParams := map[string]string{}
	if rigCfg != nil {
		rigParams = rigCfg.PlaceholderValues()
	}

	overrides := make(map[string]any, len(cfg.Overrides))
	for k, v := range cfg.Overrides {
		overrides[k] = v
	}

	p, err := params.Resolve(params.Options{
		Path:      cfg.ParamFile,
		Overrides: overrides,
		Required: []params.RequiredField{
			{Key: params.KeySubjectID, Help: "Subject identifier for this session"},
			{Key: params.KeyUserID, Help: "Experimenter running this session"},
		},
		Prompter:        prompter,
		RigParams:       rigParams,
		LauncherVersion: version,
		Logger:          logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Parameter error: %v\n", err)
		return 1
	}

	// --check validates configuration and runs preflight, launching nothing.
	if cfg.Check {
		return runCheck(cfg, p)
	}

	logger.Info("starting",
		"version", version,
		"param_file", cfg.ParamFile,
		"subject_id", p.String(params.KeySubjectID, ""),
		"metrics_addr", cfg.MetricsAddr,
	)

	// Metrics on the default registry so promhttp serves them.
	collector := metrics.NewCollector(nil)
	metricsServer := metrics.NewServer(cfg.MetricsAddr, logger)
	if err := metricsServer.Start(); err != nil {
		logger.Error("metrics_server_start_failed", "error", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		metricsServer.Shutdown(shutdownCtx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l, err := launcher.New(launcher.Options{
		Config:    cfg,
		Version:   version,
		Params:    p,
		Rig:       rigCfg,
		Logger:    logger,
		Prompter:  prompter,
		Collector: collector,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Launcher error: %v\n", err)
		return 1
	}

	if err := l.Run(ctx); err != nil {
		logger.Error("launcher_failed", "error", err)
		return 1
	}
	return 0
}

// runCheck runs configuration validation and preflight checks only.
func runCheck(cfg *config.Config, p params.Set) int {
	result := preflight.RunAll(preflight.Options{
		GitRequired:    p.String(params.KeyRepositoryURL, "") != "",
		OutputRoot:     p.String(params.KeyOutputRootFolder, ""),
		RequiredFreeGB: int(p.Float(params.KeyRequiredFreeGB, 0)),
	})
	preflight.PrintResults(result)

	if !result.Passed {
		fmt.Println("Configuration check FAILED")
		return 1
	}
	fmt.Println("Configuration check passed")
	return 0
}
