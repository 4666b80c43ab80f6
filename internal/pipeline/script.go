package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/randomizedcoder/go-rig-launcher/internal/params"
)

// defaultInterpreters maps script extensions to interpreters.
var defaultInterpreters = map[string]string{
	".py": "python3",
	".sh": "bash",
}

// ScriptLoader executes script_module entries as subprocesses. The call
// convention is:
//
//	<interpreter> <file> <entry_point> <params.json>
//
// The module's parameter snapshot is written to a temporary JSON file and
// the script's exit code is its status.
type ScriptLoader struct {
	logger       *slog.Logger
	interpreters map[string]string
}

// NewScriptLoader creates a script loader with the default interpreter
// table (python3 for .py, bash for .sh).
func NewScriptLoader(logger *slog.Logger) *ScriptLoader {
	interpreters := make(map[string]string, len(defaultInterpreters))
	for ext, interp := range defaultInterpreters {
		interpreters[ext] = interp
	}
	return &ScriptLoader{
		logger:       logger,
		interpreters: interpreters,
	}
}

// SetInterpreter overrides the interpreter for an extension.
func (l *ScriptLoader) SetInterpreter(ext, interpreter string) {
	l.interpreters[ext] = interpreter
}

// Run implements Loader.
func (l *ScriptLoader) Run(ctx context.Context, spec Spec, entryPoint string, p params.Set) (int, error) {
	if spec.ModulePath == "" {
		return 1, errors.New("script module has no module_path")
	}
	return l.runFile(ctx, spec.ModulePath, entryPoint, p)
}

// runFile executes one script file with the standard call convention.
// Shared with the repository loader.
func (l *ScriptLoader) runFile(ctx context.Context, path, entryPoint string, p params.Set) (int, error) {
	if _, err := os.Stat(path); err != nil {
		return 1, fmt.Errorf("script not found: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	interpreter, ok := l.interpreters[ext]
	if !ok {
		return 1, fmt.Errorf("no interpreter for %q scripts", ext)
	}

	paramsFile, err := writeParamsFile(p)
	if err != nil {
		return 1, err
	}
	defer os.Remove(paramsFile)

	cmd := exec.CommandContext(ctx, interpreter, path, entryPoint, paramsFile)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	l.logger.Info("module_script_starting",
		"interpreter", interpreter,
		"script", path,
		"entry_point", entryPoint,
	)

	runErr := cmd.Run()
	code := scriptExitCode(runErr)

	if code != 0 {
		l.logger.Warn("module_script_failed",
			"script", path,
			"exit_code", code,
			"output", strings.TrimSpace(output.String()),
		)
	} else if output.Len() > 0 {
		l.logger.Debug("module_script_output",
			"script", path,
			"output", strings.TrimSpace(output.String()),
		)
	}

	// A non-zero exit code is a module status, not a loader error.
	if runErr != nil && code == 0 {
		return 1, runErr
	}
	return code, nil
}

// writeParamsFile serializes the parameter snapshot for the subprocess.
func writeParamsFile(p params.Set) (string, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal module parameters: %w", err)
	}

	f, err := os.CreateTemp("", "module_params_*.json")
	if err != nil {
		return "", fmt.Errorf("create params file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write params file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// scriptExitCode extracts the exit code from a Run() error.
func scriptExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}
	return 0 // not an exit-status error; reported through err instead
}

// RepoLoader executes repo_module entries: scripts inside the checked-out
// experiment repository, resolved against its local path.
type RepoLoader struct {
	script *ScriptLoader

	// RepoRoot returns the local repository path, or "" when no
	// repository is configured. Indirect because repository setup happens
	// after loader construction.
	RepoRoot func() string
}

// NewRepoLoader creates a repository-module loader sharing the script
// loader's interpreter table.
func NewRepoLoader(script *ScriptLoader, repoRoot func() string) *RepoLoader {
	return &RepoLoader{
		script:   script,
		RepoRoot: repoRoot,
	}
}

// Run implements Loader.
func (l *RepoLoader) Run(ctx context.Context, spec Spec, entryPoint string, p params.Set) (int, error) {
	if spec.RepoRelativePath == "" {
		return 1, errors.New("repository module has no repo_relative_path")
	}

	root := ""
	if l.RepoRoot != nil {
		root = l.RepoRoot()
	}
	if root == "" {
		return 1, errors.New("repository module requires a checked-out repository")
	}

	entry := entryPoint
	if spec.Function != "" {
		entry = spec.Function
	}

	// Repository functions take explicit arguments from module_parameters
	// only, not the whole session snapshot.
	own := params.Set(spec.ModuleParameters)
	if own == nil {
		own = params.Set{}
	}

	return l.script.runFile(ctx, filepath.Join(root, spec.RepoRelativePath), entry, own)
}
