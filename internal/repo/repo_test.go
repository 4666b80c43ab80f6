package repo

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// initSourceRepo creates a local git repository with one commit and
// returns its path and the commit hash.
func initSourceRepo(t *testing.T) (string, string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	dir := t.TempDir()
	run := func(args ...string) string {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		out, err := cmd.CombinedOutput()
		if err != nil {
			t.Fatalf("git %v: %v (%s)", args, err, out)
		}
		return strings.TrimSpace(string(out))
	}

	run("init", "--initial-branch=main")
	if err := os.WriteFile(filepath.Join(dir, "workflow.bonsai"), []byte("<workflow/>"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", ".")
	run("commit", "-m", "initial")
	hash := run("rev-parse", "HEAD")

	return dir, hash
}

func TestSetup_NoRepoConfigured(t *testing.T) {
	m := NewManager(Config{}, newTestLogger())

	if !m.Setup(context.Background()) {
		t.Error("Setup() with no URL should succeed trivially")
	}
	if m.State() != StateNoRepoConfigured {
		t.Errorf("State() = %v, want StateNoRepoConfigured", m.State())
	}
}

func TestSetup_GitUnavailable(t *testing.T) {
	m := NewManager(Config{
		URL:       "https://example.com/repo.git",
		LocalPath: t.TempDir(),
		GitPath:   "definitely-not-a-real-git-binary",
	}, newTestLogger())

	if m.Setup(context.Background()) {
		t.Error("Setup() should fail when git is unavailable")
	}
	if m.State() != StateFailed {
		t.Errorf("State() = %v, want StateFailed", m.State())
	}
}

func TestSetup_MissingLocalPath(t *testing.T) {
	m := NewManager(Config{URL: "https://example.com/repo.git"}, newTestLogger())

	if m.Setup(context.Background()) {
		t.Error("Setup() should fail without a local path")
	}
}

func TestSetup_CloneFresh(t *testing.T) {
	source, hash := initSourceRepo(t)
	local := filepath.Join(t.TempDir(), "checkout")

	m := NewManager(Config{
		URL:       source,
		Commit:    hash,
		LocalPath: local,
	}, newTestLogger())

	if !m.Setup(context.Background()) {
		t.Fatal("Setup() failed")
	}
	if m.State() != StateReady {
		t.Errorf("State() = %v, want StateReady", m.State())
	}
	if _, err := os.Stat(filepath.Join(local, "workflow.bonsai")); err != nil {
		t.Errorf("cloned file missing: %v", err)
	}
}

func TestSetup_ExistingCheckoutReset(t *testing.T) {
	source, hash := initSourceRepo(t)
	local := filepath.Join(t.TempDir(), "checkout")

	m := NewManager(Config{URL: source, Commit: hash, LocalPath: local}, newTestLogger())
	if !m.Setup(context.Background()) {
		t.Fatal("initial Setup() failed")
	}

	// Dirty the working copy; a second Setup must reset it.
	dirty := filepath.Join(local, "workflow.bonsai")
	if err := os.WriteFile(dirty, []byte("local modification"), 0o644); err != nil {
		t.Fatal(err)
	}

	if !m.Setup(context.Background()) {
		t.Fatal("second Setup() failed")
	}
	if m.State() != StateReady {
		t.Errorf("State() = %v, want StateReady", m.State())
	}

	content, err := os.ReadFile(dirty)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "<workflow/>" {
		t.Errorf("working copy not reset: %q", content)
	}
}

func TestSetup_BadCloneURLFails(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	m := NewManager(Config{
		URL:       filepath.Join(t.TempDir(), "nonexistent-source"),
		LocalPath: filepath.Join(t.TempDir(), "checkout"),
	}, newTestLogger())

	if m.Setup(context.Background()) {
		t.Error("Setup() should fail for an unreachable repository")
	}
	if m.State() != StateFailed {
		t.Errorf("State() = %v, want StateFailed", m.State())
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateNoRepoConfigured, "no_repo_configured"},
		{StateNeedsClone, "needs_clone"},
		{StateNeedsCheckout, "needs_checkout"},
		{StateReady, "ready"},
		{StateFailed, "failed"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
