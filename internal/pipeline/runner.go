package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/randomizedcoder/go-rig-launcher/internal/params"
)

// Runner executes module pipelines through the loader registry.
type Runner struct {
	registry *Registry
	logger   *slog.Logger
}

// NewRunner creates a pipeline runner.
func NewRunner(registry *Registry, logger *slog.Logger) *Runner {
	return &Runner{
		registry: registry,
		logger:   logger,
	}
}

// RunStage executes a stage's modules in list order. Each module receives
// its own parameter snapshot (base plus module_parameters, the module's
// own entries winning). A failing module consults its failure policy:
// abort stops the stage, continue records the failure and moves on.
// Module errors and panics never propagate.
func (r *Runner) RunStage(ctx context.Context, stage string, specs []Spec, base params.Set) StageResult {
	result := StageResult{Stage: stage}

	for i, spec := range specs {
		snapshot := base.Merge(spec.ModuleParameters)
		res := r.runModule(ctx, stage, spec, snapshot)
		result.Modules = append(result.Modules, res)

		if res.Succeeded() {
			r.logger.Info("module_completed",
				"stage", stage,
				"position", i,
				"module", res.ID,
			)
			continue
		}

		r.logger.Warn("module_failed",
			"stage", stage,
			"position", i,
			"module", res.ID,
			"exit_code", res.ExitCode,
			"error", res.Err,
			"on_failure", string(spec.OnFailure),
		)

		if spec.OnFailure == Abort {
			result.Aborted = true
			r.logger.Error("stage_aborted",
				"stage", stage,
				"module", res.ID,
				"remaining", len(specs)-i-1,
			)
			break
		}
	}

	return result
}

// runModule invokes one module, converting loader errors and panics into
// a failed result.
func (r *Runner) runModule(ctx context.Context, stage string, spec Spec, p params.Set) (res ModuleResult) {
	res = ModuleResult{ID: spec.ID()}
	start := time.Now()

	defer func() {
		res.Duration = time.Since(start)
		if rec := recover(); rec != nil {
			res.ExitCode = 1
			res.Err = fmt.Errorf("module panic: %v", rec)
			r.logger.Error("module_panicked",
				"stage", stage,
				"module", res.ID,
				"panic", fmt.Sprintf("%v", rec),
			)
		}
	}()

	loader, ok := r.registry.Lookup(spec.ModuleType)
	if !ok {
		res.ExitCode = 1
		res.Err = fmt.Errorf("no loader for module_type %q", spec.ModuleType)
		return res
	}

	code, err := loader.Run(ctx, spec, stage, p)
	res.ExitCode = code
	res.Err = err
	if err != nil && code == 0 {
		res.ExitCode = 1
	}
	return res
}
