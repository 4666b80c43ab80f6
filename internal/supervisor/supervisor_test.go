package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/randomizedcoder/go-rig-launcher/internal/prompt"
)

// =============================================================================
// Mock ProcessFactory for testing
// =============================================================================

// mockFactory implements ProcessFactory for testing.
type mockFactory struct {
	name       string
	buildFn    func(ctx context.Context, attempt int) (*exec.Cmd, error)
	buildError error
	builds     atomic.Int32
}

func (m *mockFactory) BuildCommand(ctx context.Context, attempt int) (*exec.Cmd, error) {
	m.builds.Add(1)
	if m.buildError != nil {
		return nil, m.buildError
	}
	if m.buildFn != nil {
		return m.buildFn(ctx, attempt)
	}
	// Default: simple echo command that exits quickly
	return exec.CommandContext(ctx, "echo", "hello"), nil
}

func (m *mockFactory) Name() string {
	if m.name != "" {
		return m.name
	}
	return "mock"
}

func (m *mockFactory) Builds() int {
	return int(m.builds.Load())
}

// newEchoFactory creates a factory that runs echo with given output.
func newEchoFactory(output string) *mockFactory {
	return &mockFactory{
		buildFn: func(ctx context.Context, attempt int) (*exec.Cmd, error) {
			return exec.CommandContext(ctx, "echo", output), nil
		},
	}
}

// newSleepFactory creates a factory that sleeps for the given duration.
func newSleepFactory(duration time.Duration) *mockFactory {
	return &mockFactory{
		buildFn: func(ctx context.Context, attempt int) (*exec.Cmd, error) {
			return exec.CommandContext(ctx, "sleep", fmt.Sprintf("%.3f", duration.Seconds())), nil
		},
	}
}

// newExitCodeFactory creates a factory that exits with the given code.
func newExitCodeFactory(code int) *mockFactory {
	return &mockFactory{
		buildFn: func(ctx context.Context, attempt int) (*exec.Cmd, error) {
			return exec.CommandContext(ctx, "bash", "-c", fmt.Sprintf("exit %d", code)), nil
		},
	}
}

// newScriptFactory creates a factory that runs a bash script.
func newScriptFactory(script string) *mockFactory {
	return &mockFactory{
		buildFn: func(ctx context.Context, attempt int) (*exec.Cmd, error) {
			return exec.CommandContext(ctx, "bash", "-c", script), nil
		},
	}
}

// =============================================================================
// Test Helpers
// =============================================================================

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastConfig(factory ProcessFactory) Config {
	return Config{
		Factory:         factory,
		PollInterval:    20 * time.Millisecond,
		ShutdownTimeout: 2 * time.Second,
		Logger:          newTestLogger(),
	}
}

// =============================================================================
// Success and failure paths
// =============================================================================

func TestStartAndMonitor_CleanExit(t *testing.T) {
	s := New(fastConfig(newEchoFactory("hello")))

	if !s.StartAndMonitor(context.Background()) {
		t.Fatal("clean exit should succeed")
	}
	if s.State() != StateSucceeded {
		t.Errorf("State() = %v, want StateSucceeded", s.State())
	}
	if s.Attempts() != 1 {
		t.Errorf("Attempts() = %d, want 1", s.Attempts())
	}
}

func TestStartAndMonitor_NonZeroExit(t *testing.T) {
	factory := newExitCodeFactory(3)
	cfg := fastConfig(factory)

	var exitCode atomic.Int32
	cfg.Callbacks = Callbacks{
		OnExit: func(attempt, code int, uptime time.Duration) {
			exitCode.Store(int32(code))
		},
	}

	s := New(cfg)
	if s.StartAndMonitor(context.Background()) {
		t.Fatal("non-zero exit should fail")
	}
	if s.State() != StateFailed {
		t.Errorf("State() = %v, want StateFailed", s.State())
	}
	if exitCode.Load() != 3 {
		t.Errorf("exit code = %d, want 3", exitCode.Load())
	}
}

func TestStartAndMonitor_BuildError(t *testing.T) {
	factory := &mockFactory{buildError: errors.New("no workflow file")}
	s := New(fastConfig(factory))

	if s.StartAndMonitor(context.Background()) {
		t.Fatal("build error should fail")
	}
	if s.State() != StateFailed {
		t.Errorf("State() = %v, want StateFailed", s.State())
	}
}

// =============================================================================
// Retry budget and operator confirmation
// =============================================================================

func TestStartAndMonitor_SucceedsOnThirdAttempt(t *testing.T) {
	// Two retries allowed: attempts 1 and 2 fail, attempt 3 succeeds.
	factory := &mockFactory{
		buildFn: func(ctx context.Context, attempt int) (*exec.Cmd, error) {
			if attempt < 3 {
				return exec.CommandContext(ctx, "bash", "-c", "exit 1"), nil
			}
			return exec.CommandContext(ctx, "echo", "ok"), nil
		},
	}

	scripted := &prompt.Scripted{Confirms: []bool{true, true}}
	cfg := fastConfig(factory)
	cfg.MaxRetries = 2
	cfg.Prompter = scripted

	s := New(cfg)
	if !s.StartAndMonitor(context.Background()) {
		t.Fatal("third attempt should succeed")
	}
	if s.State() != StateSucceeded {
		t.Errorf("State() = %v, want StateSucceeded", s.State())
	}
	if factory.Builds() != 3 {
		t.Errorf("factory invoked %d times, want exactly 3", factory.Builds())
	}
	if len(scripted.ConfLog) != 2 {
		t.Errorf("operator asked %d times, want 2", len(scripted.ConfLog))
	}
}

func TestStartAndMonitor_RetryDeclined(t *testing.T) {
	factory := newExitCodeFactory(1)
	cfg := fastConfig(factory)
	cfg.MaxRetries = 5
	cfg.Prompter = &prompt.Scripted{Confirms: []bool{false}}

	s := New(cfg)
	if s.StartAndMonitor(context.Background()) {
		t.Fatal("declined retry should fail")
	}
	if s.State() != StateFailed {
		t.Errorf("State() = %v, want StateFailed", s.State())
	}
	if factory.Builds() != 1 {
		t.Errorf("factory invoked %d times after decline, want 1", factory.Builds())
	}
}

func TestStartAndMonitor_RetryBudgetExhausted(t *testing.T) {
	factory := newExitCodeFactory(1)
	cfg := fastConfig(factory)
	cfg.MaxRetries = 2
	// Nil prompter: retries run without asking.

	s := New(cfg)
	if s.StartAndMonitor(context.Background()) {
		t.Fatal("always-failing process should fail")
	}
	if s.State() != StateFailed {
		t.Errorf("State() = %v, want StateFailed", s.State())
	}
	if factory.Builds() != 3 {
		t.Errorf("factory invoked %d times, want 3 (1 + 2 retries)", factory.Builds())
	}
}

// =============================================================================
// Startup confirmation and timeouts
// =============================================================================

func TestStartAndMonitor_StartupPatternConfirms(t *testing.T) {
	factory := newScriptFactory("echo 'workflow started'; sleep 0.1")

	cfg := fastConfig(factory)
	cfg.StartTimeout = 5 * time.Second
	cfg.StartupPatterns = []string{"workflow started"}

	var sawRunning atomic.Bool
	cfg.Callbacks = Callbacks{
		OnStateChange: func(oldState, newState State) {
			if newState == StateRunning {
				sawRunning.Store(true)
			}
		},
	}

	s := New(cfg)
	if !s.StartAndMonitor(context.Background()) {
		t.Fatal("process printing its startup line should succeed")
	}
	if !sawRunning.Load() {
		t.Error("supervisor never transitioned to StateRunning")
	}
}

func TestStartAndMonitor_StartupTimeout(t *testing.T) {
	// Process never prints the startup line within the window.
	factory := newScriptFactory("sleep 10")

	cfg := fastConfig(factory)
	cfg.StartTimeout = 300 * time.Millisecond
	cfg.StartupPatterns = []string{"workflow started"}

	s := New(cfg)
	start := time.Now()
	if s.StartAndMonitor(context.Background()) {
		t.Fatal("slow starter should time out")
	}
	elapsed := time.Since(start)

	if s.State() != StateTimedOut {
		t.Errorf("State() = %v, want StateTimedOut", s.State())
	}
	if elapsed > 5*time.Second {
		t.Errorf("timeout took %v, process was not terminated promptly", elapsed)
	}
}

func TestStartAndMonitor_AlivePastWindowCountsAsStarted(t *testing.T) {
	// No startup pattern: surviving the startup window confirms startup.
	factory := newSleepFactory(600 * time.Millisecond)

	cfg := fastConfig(factory)
	cfg.StartTimeout = 200 * time.Millisecond

	var sawRunning atomic.Bool
	cfg.Callbacks = Callbacks{
		OnStateChange: func(oldState, newState State) {
			if newState == StateRunning {
				sawRunning.Store(true)
			}
		},
	}

	s := New(cfg)
	if !s.StartAndMonitor(context.Background()) {
		t.Fatal("process alive past the startup window should succeed")
	}
	if !sawRunning.Load() {
		t.Error("supervisor never transitioned to StateRunning")
	}
}

func TestStartAndMonitor_RuntimeTimeout(t *testing.T) {
	factory := newSleepFactory(30 * time.Second)

	cfg := fastConfig(factory)
	cfg.RunTimeout = 300 * time.Millisecond

	s := New(cfg)
	start := time.Now()
	if s.StartAndMonitor(context.Background()) {
		t.Fatal("overrunning process should time out")
	}
	if s.State() != StateTimedOut {
		t.Errorf("State() = %v, want StateTimedOut", s.State())
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took %v, process was not terminated promptly", elapsed)
	}
}

// =============================================================================
// Fatal patterns
// =============================================================================

func TestStartAndMonitor_FatalPatternKillsLiveProcess(t *testing.T) {
	// Process prints a fatal line and then would run for 30s if not killed.
	factory := newScriptFactory("echo 'ERROR: Hardware Missing on COM3' >&2; sleep 30")

	cfg := fastConfig(factory)
	cfg.FatalPatterns = []string{"hardware missing"}

	var fatalPattern string
	var mu sync.Mutex
	cfg.Callbacks = Callbacks{
		OnFatalPattern: func(pattern, line string) {
			mu.Lock()
			fatalPattern = pattern
			mu.Unlock()
		},
	}

	s := New(cfg)
	start := time.Now()
	if s.StartAndMonitor(context.Background()) {
		t.Fatal("fatal pattern should fail the run")
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("fatal-pattern kill took %v, process was not terminated", elapsed)
	}

	mu.Lock()
	defer mu.Unlock()
	if fatalPattern != "hardware missing" {
		t.Errorf("fatal pattern = %q, want %q", fatalPattern, "hardware missing")
	}

	pattern, line := s.FatalMatch()
	if pattern != "hardware missing" {
		t.Errorf("FatalMatch pattern = %q", pattern)
	}
	if !strings.Contains(line, "Hardware Missing") {
		t.Errorf("FatalMatch line = %q", line)
	}
}

func TestStartAndMonitor_FatalPatternOverridesCleanExit(t *testing.T) {
	// Fatal line followed by exit 0: still a failure.
	factory := newScriptFactory("echo 'fatal: device lost' >&2; exit 0")

	cfg := fastConfig(factory)
	cfg.FatalPatterns = []string{"fatal:"}

	s := New(cfg)
	if s.StartAndMonitor(context.Background()) {
		t.Fatal("fatal pattern must fail the run even with exit code 0")
	}
}

func TestStartAndMonitor_FatalOnFastExitIsDeterministic(t *testing.T) {
	// A process that writes a fatal line and exits immediately must lose
	// every time, not just when the parser wins the race against Wait.
	for i := 0; i < 20; i++ {
		factory := newScriptFactory("echo 'hardware missing' >&2; exit 0")

		cfg := fastConfig(factory)
		cfg.FatalPatterns = []string{"hardware missing"}

		s := New(cfg)
		if s.StartAndMonitor(context.Background()) {
			t.Fatalf("iteration %d: success despite fatal stderr line", i)
		}
		if pattern, _ := s.FatalMatch(); pattern != "hardware missing" {
			t.Fatalf("iteration %d: FatalMatch pattern = %q", i, pattern)
		}
		if len(s.Errors()) == 0 {
			t.Fatalf("iteration %d: stderr tail lost on fast exit", i)
		}
	}
}

// =============================================================================
// Cancellation and stderr retention
// =============================================================================

func TestStartAndMonitor_ContextCancelled(t *testing.T) {
	factory := newSleepFactory(30 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	s := New(fastConfig(factory))
	start := time.Now()
	if s.StartAndMonitor(ctx) {
		t.Fatal("cancelled run should fail")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancellation took %v", elapsed)
	}
	if s.State() != StateFailed {
		t.Errorf("State() = %v, want StateFailed", s.State())
	}
}

func TestStartAndMonitor_ContextCancelledNoRetry(t *testing.T) {
	factory := newSleepFactory(30 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	cfg := fastConfig(factory)
	cfg.MaxRetries = 5

	s := New(cfg)
	s.StartAndMonitor(ctx)

	if factory.Builds() != 1 {
		t.Errorf("factory invoked %d times after cancel, want 1", factory.Builds())
	}
}

func TestErrors_RetainsStderrTail(t *testing.T) {
	factory := newScriptFactory("echo 'warning: buffer underrun' >&2; echo 'error: frame dropped' >&2; exit 1")

	s := New(fastConfig(factory))
	s.StartAndMonitor(context.Background())

	lines := s.Errors()
	if len(lines) != 2 {
		t.Fatalf("Errors() returned %d lines, want 2: %v", len(lines), lines)
	}
	if lines[0] != "warning: buffer underrun" {
		t.Errorf("lines[0] = %q", lines[0])
	}
	if lines[1] != "error: frame dropped" {
		t.Errorf("lines[1] = %q", lines[1])
	}
}

func TestErrors_EmptyBeforeFirstAttempt(t *testing.T) {
	s := New(fastConfig(newEchoFactory("x")))
	if lines := s.Errors(); lines != nil {
		t.Errorf("Errors() before first attempt = %v, want nil", lines)
	}
}

// =============================================================================
// State machine
// =============================================================================

func TestState_Properties(t *testing.T) {
	tests := []struct {
		state    State
		str      string
		active   bool
		terminal bool
	}{
		{StateIdle, "idle", false, false},
		{StateStarting, "starting", true, false},
		{StateRunning, "running", true, false},
		{StateRetrying, "retrying", true, false},
		{StateSucceeded, "succeeded", false, true},
		{StateFailed, "failed", false, true},
		{StateTimedOut, "timed_out", false, true},
		{State(99), "unknown", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.str, func(t *testing.T) {
			if got := tt.state.String(); got != tt.str {
				t.Errorf("String() = %q, want %q", got, tt.str)
			}
			if got := tt.state.IsActive(); got != tt.active {
				t.Errorf("IsActive() = %v, want %v", got, tt.active)
			}
			if got := tt.state.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

func TestStateTransitions_CleanRun(t *testing.T) {
	var mu sync.Mutex
	var transitions []State

	cfg := fastConfig(newEchoFactory("hello"))
	cfg.Callbacks = Callbacks{
		OnStateChange: func(oldState, newState State) {
			mu.Lock()
			transitions = append(transitions, newState)
			mu.Unlock()
		},
	}

	s := New(cfg)
	s.StartAndMonitor(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) == 0 {
		t.Fatal("no state transitions observed")
	}
	if transitions[0] != StateStarting {
		t.Errorf("first transition = %v, want StateStarting", transitions[0])
	}
	if transitions[len(transitions)-1] != StateSucceeded {
		t.Errorf("last transition = %v, want StateSucceeded", transitions[len(transitions)-1])
	}
}

// =============================================================================
// extractExitCode
// =============================================================================

func TestExtractExitCode(t *testing.T) {
	t.Run("nil_error", func(t *testing.T) {
		if got := extractExitCode(nil); got != 0 {
			t.Errorf("extractExitCode(nil) = %d, want 0", got)
		}
	})

	t.Run("exit_code_42", func(t *testing.T) {
		cmd := exec.Command("bash", "-c", "exit 42")
		err := cmd.Run()
		if got := extractExitCode(err); got != 42 {
			t.Errorf("extractExitCode = %d, want 42", got)
		}
	})

	t.Run("signal_exit", func(t *testing.T) {
		cmd := exec.Command("bash", "-c", "kill -TERM $$")
		err := cmd.Run()
		// SIGTERM is 15: exit code 128 + 15 = 143
		if got := extractExitCode(err); got != 143 {
			t.Errorf("extractExitCode = %d, want 143", got)
		}
	})

	t.Run("unknown_error", func(t *testing.T) {
		if got := extractExitCode(errors.New("boom")); got != 1 {
			t.Errorf("extractExitCode = %d, want 1", got)
		}
	})
}
