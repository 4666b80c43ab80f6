package launcher

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/randomizedcoder/go-rig-launcher/internal/params"
)

// scriptInterpreters maps acquisition script extensions to the command
// that runs them. Extensions not listed here are executed directly.
var scriptInterpreters = map[string]string{
	".py": "python3",
	".sh": "bash",
	".m":  "matlab",
}

// CommandFactory is the generic acquisition process factory: it launches
// the configured script or executable with the session parameters file
// path appended. Rig types with richer launch requirements supply their
// own supervisor.ProcessFactory instead.
type CommandFactory struct {
	// ScriptPath is the workflow/script/executable to launch.
	ScriptPath string

	// Executable overrides interpreter selection. Empty picks by
	// extension.
	Executable string

	// Args are inserted between the executable and the script path.
	Args []string

	// DisplayName defaults to the script file name.
	DisplayName string
}

// NewCommandFactory builds a factory from the resolved parameter set.
func NewCommandFactory(p params.Set) (*CommandFactory, error) {
	scriptPath := p.String(params.KeyScriptPath, "")
	if scriptPath == "" {
		return nil, errors.New("no script_path configured")
	}

	return &CommandFactory{
		ScriptPath: scriptPath,
		Executable: p.String("acquisition_executable", ""),
		Args:       p.StringSlice("acquisition_args"),
	}, nil
}

// BuildCommand implements supervisor.ProcessFactory.
func (f *CommandFactory) BuildCommand(ctx context.Context, attempt int) (*exec.Cmd, error) {
	executable := f.Executable
	args := make([]string, 0, len(f.Args)+1)
	args = append(args, f.Args...)

	if executable == "" {
		ext := strings.ToLower(filepath.Ext(f.ScriptPath))
		if interpreter, ok := scriptInterpreters[ext]; ok {
			executable = interpreter
			args = append(args, f.ScriptPath)
		} else {
			// Directly executable workflow or binary.
			executable = f.ScriptPath
		}
	} else {
		args = append(args, f.ScriptPath)
	}

	return exec.CommandContext(ctx, executable, args...), nil
}

// Name implements supervisor.ProcessFactory.
func (f *CommandFactory) Name() string {
	if f.DisplayName != "" {
		return f.DisplayName
	}
	return filepath.Base(f.ScriptPath)
}
