// Package pipeline runs ordered pre- and post-acquisition module
// pipelines. Modules are declared in the parameter file, dispatched
// through a loader registry keyed by module type, and isolated from each
// other: a failing or panicking module never takes the launcher down.
package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ModuleType selects the loader responsible for executing a module.
type ModuleType string

const (
	// LauncherModule is a built-in module compiled into the launcher.
	LauncherModule ModuleType = "launcher_module"

	// ScriptModule is a standalone script executed as a subprocess.
	ScriptModule ModuleType = "script_module"

	// RepoModule is a script inside the checked-out experiment repository.
	RepoModule ModuleType = "repo_module"
)

// FailurePolicy controls what a module failure does to the rest of its
// stage.
type FailurePolicy string

const (
	// Abort stops the stage at the failing module.
	Abort FailurePolicy = "abort"

	// Continue records the failure and moves on. This is the default.
	Continue FailurePolicy = "continue"
)

// Stage names used as module entry points.
const (
	StagePreAcquisition  = "pre_acquisition"
	StagePostAcquisition = "post_acquisition"
)

// Spec is one pipeline entry from the parameter file. A bare JSON string
// is shorthand for a built-in module with the default failure policy.
type Spec struct {
	ModuleType       ModuleType     `json:"module_type"`
	ModulePath       string         `json:"module_path"`
	RepoRelativePath string         `json:"repo_relative_path"`
	Function         string         `json:"function"`
	ModuleParameters map[string]any `json:"module_parameters"`
	OnFailure        FailurePolicy  `json:"on_failure"`
}

// UnmarshalJSON accepts either the full object form or the bare-string
// shorthand.
func (s *Spec) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*s = Spec{
			ModuleType: LauncherModule,
			ModulePath: name,
			OnFailure:  Continue,
		}
		return nil
	}

	type alias Spec
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*s = Spec(a)
	s.applyDefaults()
	return s.validate()
}

func (s *Spec) applyDefaults() {
	if s.ModuleType == "" {
		s.ModuleType = LauncherModule
	}
	if s.OnFailure == "" {
		s.OnFailure = Continue
	}
}

func (s *Spec) validate() error {
	switch s.ModuleType {
	case LauncherModule, ScriptModule, RepoModule:
	default:
		return fmt.Errorf("unknown module_type %q", s.ModuleType)
	}
	switch s.OnFailure {
	case Abort, Continue:
	default:
		return fmt.Errorf("unknown on_failure %q", s.OnFailure)
	}
	return nil
}

// ID returns a stable identifier for result reporting.
func (s Spec) ID() string {
	if s.ModulePath != "" {
		return s.ModulePath
	}
	if s.RepoRelativePath != "" {
		if s.Function != "" {
			return s.RepoRelativePath + ":" + s.Function
		}
		return s.RepoRelativePath
	}
	return string(s.ModuleType)
}

// ParseSpecs converts a decoded JSON pipeline value (normally []any from
// the parameter set) into a spec list.
func ParseSpecs(raw any) ([]Spec, error) {
	if raw == nil {
		return nil, nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("pipeline definition not JSON-compatible: %w", err)
	}

	var specs []Spec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("invalid pipeline definition: %w", err)
	}
	return specs, nil
}

// ModuleResult records the outcome of one module.
type ModuleResult struct {
	ID       string
	ExitCode int
	Err      error
	Duration time.Duration
}

// Succeeded reports whether the module ran to completion with exit code
// zero.
func (r ModuleResult) Succeeded() bool {
	return r.ExitCode == 0 && r.Err == nil
}

// StageResult records the outcome of a whole stage, in execution order.
type StageResult struct {
	Stage   string
	Modules []ModuleResult

	// Aborted is true only when an on_failure=abort module failed and the
	// stage stopped early.
	Aborted bool
}

// AllSucceeded reports whether every module in the stage succeeded and
// the stage ran to completion.
func (r StageResult) AllSucceeded() bool {
	if r.Aborted {
		return false
	}
	for _, m := range r.Modules {
		if !m.Succeeded() {
			return false
		}
	}
	return true
}

// FailureCount returns the number of failed modules.
func (r StageResult) FailureCount() int {
	n := 0
	for _, m := range r.Modules {
		if !m.Succeeded() {
			n++
		}
	}
	return n
}
