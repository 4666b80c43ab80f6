// Package repo manages the versioned experiment repository checkout.
//
// Repository management is optional: a run without a repository_url
// succeeds trivially. All failures are logged and reported as a boolean
// result so the caller can apply its own failure policy; no error escapes
// this package.
package repo

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// State represents the repository manager's position in its setup flow.
type State int

const (
	// StateIdle is the initial state before Setup runs.
	StateIdle State = iota

	// StateNoRepoConfigured means no repository_url was supplied;
	// repository management is skipped.
	StateNoRepoConfigured

	// StateNeedsClone means no usable checkout exists at the local path.
	StateNeedsClone

	// StateNeedsCheckout means a checkout exists and must be moved to the
	// requested commit.
	StateNeedsCheckout

	// StateReady means the working copy is at the requested commit.
	StateReady

	// StateFailed means setup could not produce a usable working copy.
	StateFailed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNoRepoConfigured:
		return "no_repo_configured"
	case StateNeedsClone:
		return "needs_clone"
	case StateNeedsCheckout:
		return "needs_checkout"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config holds repository settings from the parameter file.
type Config struct {
	// URL of the experiment repository. Empty disables repository
	// management.
	URL string

	// Commit is the commit hash or branch to check out. Empty means the
	// clone's default branch.
	Commit string

	// LocalPath is the working-copy location.
	LocalPath string

	// GitPath overrides the git binary location. Empty means $PATH lookup.
	GitPath string
}

// Manager ensures a working copy of the experiment repository is present
// at the target commit.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	state  State
}

// NewManager creates a repository manager.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger,
		state:  StateIdle,
	}
}

// State returns the manager's current state.
func (m *Manager) State() State {
	return m.state
}

// Setup ensures the working copy exists at the requested commit. Returns
// true on success. Errors are logged, never raised.
func (m *Manager) Setup(ctx context.Context) bool {
	if m.cfg.URL == "" {
		m.state = StateNoRepoConfigured
		m.logger.Debug("repository_not_configured")
		return true
	}

	if m.cfg.LocalPath == "" {
		m.logger.Error("repository_local_path_missing", "url", m.cfg.URL)
		m.state = StateFailed
		return false
	}

	gitPath := m.cfg.GitPath
	if gitPath == "" {
		gitPath = "git"
	}
	if _, err := exec.LookPath(gitPath); err != nil {
		m.logger.Error("git_not_available", "error", err)
		m.state = StateFailed
		return false
	}

	if !m.hasCheckout() {
		m.state = StateNeedsClone
		if !m.clone(ctx) {
			m.state = StateFailed
			return false
		}
	} else {
		m.state = StateNeedsCheckout
		if !m.checkout(ctx) {
			// Unusable checkout: forceful removal and re-clone is the
			// recovery path.
			m.logger.Warn("checkout_failed_forcing_reclone", "path", m.cfg.LocalPath)
			if !m.removeCheckout() || !m.clone(ctx) {
				m.state = StateFailed
				return false
			}
		}
	}

	if m.cfg.Commit != "" {
		if _, err := m.runGit(ctx, m.cfg.LocalPath, "checkout", "--force", m.cfg.Commit); err != nil {
			m.logger.Error("commit_checkout_failed", "commit", m.cfg.Commit, "error", err)
			m.state = StateFailed
			return false
		}
	}

	m.state = StateReady
	m.logger.Info("repository_ready",
		"url", m.cfg.URL,
		"path", m.cfg.LocalPath,
		"commit", m.cfg.Commit,
	)
	return true
}

// hasCheckout reports whether the local path contains a git checkout.
func (m *Manager) hasCheckout() bool {
	info, err := os.Stat(filepath.Join(m.cfg.LocalPath, ".git"))
	return err == nil && info.IsDir()
}

// clone clones the repository fresh into the local path.
func (m *Manager) clone(ctx context.Context) bool {
	parent := filepath.Dir(m.cfg.LocalPath)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		m.logger.Error("clone_parent_creation_failed", "path", parent, "error", err)
		return false
	}

	m.logger.Info("cloning_repository", "url", m.cfg.URL, "path", m.cfg.LocalPath)
	if _, err := m.runGit(ctx, "", "clone", m.cfg.URL, m.cfg.LocalPath); err != nil {
		m.logger.Error("clone_failed", "url", m.cfg.URL, "error", err)
		return false
	}
	return true
}

// checkout moves an existing working copy to the requested commit,
// discarding local modifications.
func (m *Manager) checkout(ctx context.Context) bool {
	if _, err := m.runGit(ctx, m.cfg.LocalPath, "fetch", "--all"); err != nil {
		m.logger.Warn("fetch_failed", "error", err)
		// A stale clone may still contain the requested commit; keep going.
	}

	if _, err := m.runGit(ctx, m.cfg.LocalPath, "reset", "--hard"); err != nil {
		m.logger.Error("reset_failed", "error", err)
		return false
	}

	return true
}

// removeCheckout deletes the local working copy. Filesystem errors are
// reported; they fail the operation only because they block the re-clone.
func (m *Manager) removeCheckout() bool {
	if err := os.RemoveAll(m.cfg.LocalPath); err != nil {
		m.logger.Error("checkout_removal_failed", "path", m.cfg.LocalPath, "error", err)
		return false
	}
	return true
}

// runGit executes a git command, capturing combined output.
func (m *Manager) runGit(ctx context.Context, dir string, args ...string) (string, error) {
	gitPath := m.cfg.GitPath
	if gitPath == "" {
		gitPath = "git"
	}

	cmd := exec.CommandContext(ctx, gitPath, args...)
	if dir != "" {
		cmd.Dir = dir
	}

	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil {
		return output, fmt.Errorf("git %s: %w (%s)", strings.Join(args, " "), err, output)
	}

	m.logger.Debug("git_command",
		"args", strings.Join(args, " "),
		"dir", dir,
	)
	return output, nil
}
