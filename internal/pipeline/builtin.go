package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/randomizedcoder/go-rig-launcher/internal/params"
	"github.com/randomizedcoder/go-rig-launcher/internal/prompt"
)

// BuiltinFunc is an in-process launcher module entry point. It receives
// the stage name and the module's parameter snapshot, and reports its
// status as an exit code like external modules do.
type BuiltinFunc func(ctx context.Context, entryPoint string, p params.Set) (int, error)

// BuiltinLoader resolves launcher_module entries against a process-local
// registry of built-in modules.
type BuiltinLoader struct {
	logger   *slog.Logger
	prompter prompt.Prompter

	mu      sync.RWMutex
	modules map[string]BuiltinFunc
}

// NewBuiltinLoader creates a loader with the standard built-in modules
// (diskspace, output_folder) registered.
func NewBuiltinLoader(logger *slog.Logger, prompter prompt.Prompter) *BuiltinLoader {
	l := &BuiltinLoader{
		logger:   logger,
		prompter: prompter,
		modules:  make(map[string]BuiltinFunc),
	}
	l.Register("diskspace", l.runDiskspace)
	l.Register("output_folder", l.runOutputFolder)
	return l
}

// Register installs a built-in module under a name.
func (l *BuiltinLoader) Register(name string, fn BuiltinFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.modules[name] = fn
}

// Run implements Loader.
func (l *BuiltinLoader) Run(ctx context.Context, spec Spec, entryPoint string, p params.Set) (int, error) {
	l.mu.RLock()
	fn, ok := l.modules[spec.ModulePath]
	l.mu.RUnlock()

	if !ok {
		return 1, fmt.Errorf("unknown built-in module %q", spec.ModulePath)
	}
	return fn(ctx, entryPoint, p)
}

// runDiskspace verifies free disk space under the output root. With
// allow_override the operator may accept low disk space and continue.
func (l *BuiltinLoader) runDiskspace(ctx context.Context, entryPoint string, p params.Set) (int, error) {
	requiredGB := p.Float(params.KeyRequiredFreeGB, 0)
	if requiredGB <= 0 {
		l.logger.Debug("diskspace_check_skipped", "reason", "no requirement configured")
		return 0, nil
	}

	root := p.String(params.KeyOutputRootFolder, ".")
	var stat syscall.Statfs_t
	if err := syscall.Statfs(root, &stat); err != nil {
		return 1, fmt.Errorf("statfs %s: %w", root, err)
	}

	freeGB := float64(stat.Bavail*uint64(stat.Bsize)) / (1 << 30)
	if freeGB >= requiredGB {
		l.logger.Info("diskspace_check_passed",
			"path", root,
			"free_gb", fmt.Sprintf("%.1f", freeGB),
			"required_gb", requiredGB,
		)
		return 0, nil
	}

	l.logger.Warn("diskspace_below_requirement",
		"path", root,
		"free_gb", fmt.Sprintf("%.1f", freeGB),
		"required_gb", requiredGB,
	)

	if p.Bool(params.KeyAllowOverride, false) && l.prompter != nil {
		question := fmt.Sprintf("Only %.1f GB free under %s (need %.0f GB). Continue anyway",
			freeGB, root, requiredGB)
		if l.prompter.Confirm(question, false) {
			l.logger.Warn("diskspace_requirement_overridden", "path", root)
			return 0, nil
		}
	}

	return 1, nil
}

// runOutputFolder creates the session output folder and its
// launcher_metadata subdirectory.
func (l *BuiltinLoader) runOutputFolder(ctx context.Context, entryPoint string, p params.Set) (int, error) {
	root := p.String(params.KeyOutputRootFolder, "")
	session := p.String(params.KeyOutputSessionFolder, "")
	if root == "" && session == "" {
		return 1, fmt.Errorf("neither %s nor %s is set", params.KeyOutputRootFolder, params.KeyOutputSessionFolder)
	}

	dir := session
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, session)
	}

	if err := os.MkdirAll(filepath.Join(dir, "launcher_metadata"), 0o755); err != nil {
		return 1, fmt.Errorf("create session folder: %w", err)
	}

	l.logger.Info("session_folder_ready", "path", dir)
	return 0, nil
}
