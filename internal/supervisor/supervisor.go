package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/randomizedcoder/go-rig-launcher/internal/logging"
	"github.com/randomizedcoder/go-rig-launcher/internal/prompt"
	"github.com/randomizedcoder/go-rig-launcher/internal/stream"
)

// ProcessFactory creates executable commands for acquisition attempts.
// This interface decouples the supervisor from rig-type specifics: a
// Bonsai workflow, a MATLAB engine, and a Python script are all just
// factories to the supervisor.
type ProcessFactory interface {
	// BuildCommand returns a ready-to-start command for the given attempt
	// (1-based).
	BuildCommand(ctx context.Context, attempt int) (*exec.Cmd, error)

	// Name returns a human-readable name for this process type.
	Name() string
}

// Callbacks contains optional callback functions for supervisor events.
type Callbacks struct {
	// OnStateChange is called when the supervisor state changes.
	OnStateChange func(oldState, newState State)

	// OnStart is called when an attempt's process starts.
	OnStart func(attempt, pid int)

	// OnExit is called when an attempt's process exits.
	OnExit func(attempt, exitCode int, uptime time.Duration)

	// OnRetry is called before a retry attempt begins.
	OnRetry func(attempt int)

	// OnFatalPattern is called when a fatal pattern matches on stderr.
	OnFatalPattern func(pattern, line string)
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	Factory ProcessFactory

	// StartTimeout bounds the window between process start and confirmed
	// startup. Zero disables the startup deadline.
	StartTimeout time.Duration

	// RunTimeout bounds total process runtime. Zero means unlimited.
	RunTimeout time.Duration

	// MaxRetries is the number of retry attempts after the first failure.
	MaxRetries int

	// FatalPatterns are case-insensitive substrings that terminate the
	// process immediately when seen on stderr, regardless of exit code.
	FatalPatterns []string

	// StartupPatterns are substrings that confirm startup when seen on
	// stdout. Empty means startup is confirmed by surviving the startup
	// window.
	StartupPatterns []string

	// PollInterval is the deadline check interval. Default 250ms.
	PollInterval time.Duration

	// ShutdownTimeout is the SIGTERM grace window before SIGKILL.
	// Default 10s.
	ShutdownTimeout time.Duration

	// Stream pipeline tuning. Zero values use the pipeline defaults.
	BufferSize    int
	DropThreshold float64

	// Verbose forwards every stderr line to the log, not just warnings.
	Verbose bool

	// Prompter asks the operator to confirm retries. Nil retries without
	// asking.
	Prompter prompt.Prompter

	Logger    *slog.Logger
	Callbacks Callbacks
}

// Supervisor manages the lifecycle of the acquisition process: start,
// monitor, retry with operator confirmation, and terminate.
type Supervisor struct {
	cfg       Config
	logger    *slog.Logger
	callbacks Callbacks

	// State management
	state     State
	stateMu   sync.RWMutex
	startTime time.Time
	attempts  int

	// Current process
	cmd   *exec.Cmd
	cmdMu sync.Mutex

	// Most recent attempt's stderr handler, for post-mortem reporting
	stderrHandler *logging.StderrHandler
	handlerMu     sync.Mutex

	// First fatal match, if any
	fatalPattern string
	fatalLine    string
}

// outcome classifies how a single attempt ended.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailed
	outcomeStartTimeout
	outcomeRunTimeout
	outcomeFatalPattern
	outcomeCancelled
)

func (o outcome) String() string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomeFailed:
		return "failed"
	case outcomeStartTimeout:
		return "start_timeout"
	case outcomeRunTimeout:
		return "run_timeout"
	case outcomeFatalPattern:
		return "fatal_pattern"
	case outcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// New creates a new Supervisor with the given configuration.
func New(cfg Config) *Supervisor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	return &Supervisor{
		cfg:       cfg,
		logger:    cfg.Logger,
		callbacks: cfg.Callbacks,
		state:     StateIdle,
	}
}

// StartAndMonitor runs the acquisition process to completion, retrying
// failed attempts up to the configured budget with operator confirmation
// between attempts. Returns true only if an attempt succeeded: exit code
// zero, no fatal pattern, within deadlines.
func (s *Supervisor) StartAndMonitor(ctx context.Context) bool {
	maxAttempts := s.cfg.MaxRetries + 1

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		s.stateMu.Lock()
		s.attempts = attempt
		s.stateMu.Unlock()

		out := s.runOnce(ctx, attempt)

		switch out {
		case outcomeSuccess:
			s.setState(StateSucceeded)
			return true
		case outcomeCancelled:
			s.setState(StateFailed)
			s.logger.Info("supervision_cancelled", "attempt", attempt)
			return false
		}

		if attempt == maxAttempts {
			if out == outcomeStartTimeout || out == outcomeRunTimeout {
				s.setState(StateTimedOut)
			} else {
				s.setState(StateFailed)
			}
			s.logger.Error("retry_budget_exhausted",
				"process", s.cfg.Factory.Name(),
				"attempts", attempt,
				"last_outcome", out.String(),
			)
			return false
		}

		if s.cfg.Prompter != nil {
			question := fmt.Sprintf("%s failed (attempt %d of %d). Retry",
				s.cfg.Factory.Name(), attempt, maxAttempts)
			if !s.cfg.Prompter.Confirm(question, true) {
				s.setState(StateFailed)
				s.logger.Info("retry_declined", "attempt", attempt)
				return false
			}
		}

		s.setState(StateRetrying)
		if s.callbacks.OnRetry != nil {
			s.callbacks.OnRetry(attempt + 1)
		}
		s.logger.Info("retry_starting",
			"process", s.cfg.Factory.Name(),
			"attempt", attempt+1,
			"max_attempts", maxAttempts,
		)
	}

	return false
}

// runOnce runs the process once and classifies how it ended.
func (s *Supervisor) runOnce(ctx context.Context, attempt int) outcome {
	s.setState(StateStarting)

	cmd, err := s.cfg.Factory.BuildCommand(ctx, attempt)
	if err != nil {
		s.logger.Error("failed_to_build_command",
			"process", s.cfg.Factory.Name(),
			"attempt", attempt,
			"error", err,
		)
		return outcomeFailed
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.logger.Error("failed_to_create_stdout_pipe", "error", err)
		return outcomeFailed
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.logger.Error("failed_to_create_stderr_pipe", "error", err)
		return outcomeFailed
	}

	// Process group for clean shutdown of the process and its children
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	stdoutPipeline := stream.NewPipeline("stdout", s.cfg.BufferSize, s.cfg.DropThreshold)
	stderrPipeline := stream.NewPipeline("stderr", s.cfg.BufferSize, s.cfg.DropThreshold)

	stderrHandler := logging.NewStderrHandler(s.cfg.Factory.Name(), s.logger, s.cfg.Verbose)
	fatal := stream.NewMatcher(s.cfg.FatalPatterns, stderrHandler)

	var startup *stream.Matcher
	var stdoutParser stream.LineParser = stream.NoopParser{}
	if len(s.cfg.StartupPatterns) > 0 {
		startup = stream.NewMatcher(s.cfg.StartupPatterns, nil)
		stdoutParser = startup
	}

	s.handlerMu.Lock()
	s.stderrHandler = stderrHandler
	s.handlerMu.Unlock()

	s.stateMu.Lock()
	s.startTime = time.Now()
	s.stateMu.Unlock()
	if err := cmd.Start(); err != nil {
		s.logger.Error("failed_to_start_process",
			"process", s.cfg.Factory.Name(),
			"attempt", attempt,
			"error", err,
		)
		return outcomeFailed
	}

	pid := cmd.Process.Pid
	s.cmdMu.Lock()
	s.cmd = cmd
	s.cmdMu.Unlock()

	s.logger.Info("acquisition_started",
		"process", s.cfg.Factory.Name(),
		"attempt", attempt,
		"pid", pid,
	)

	var readWg sync.WaitGroup
	readWg.Add(2)
	go func() {
		defer readWg.Done()
		stream.NewPipeReader(stdout, stdoutPipeline).Run()
	}()
	go func() {
		defer readWg.Done()
		stream.NewPipeReader(stderr, stderrPipeline).Run()
	}()

	var parseWg sync.WaitGroup
	parseWg.Add(2)
	go func() {
		defer parseWg.Done()
		stdoutPipeline.RunParser(stdoutParser)
	}()
	go func() {
		defer parseWg.Done()
		stderrPipeline.RunParser(fatal)
	}()

	if s.callbacks.OnStart != nil {
		s.callbacks.OnStart(attempt, pid)
	}

	// cmd.Wait closes the pipes, so it must not run until the readers
	// hit EOF and the parsers have consumed every buffered line. A fast
	// exit would otherwise race the stderr tail and the fatal matcher.
	waitCh := make(chan error, 1)
	go func() {
		readWg.Wait()
		parseWg.Wait()
		waitCh <- cmd.Wait()
	}()

	out, exitCode := s.monitor(ctx, waitCh, fatal, startup)
	uptime := time.Since(s.startTime)

	s.drainParsers(&parseWg, stdoutPipeline, stderrPipeline)

	s.cmdMu.Lock()
	s.cmd = nil
	s.cmdMu.Unlock()

	s.logger.Info("acquisition_exited",
		"process", s.cfg.Factory.Name(),
		"attempt", attempt,
		"pid", pid,
		"exit_code", exitCode,
		"uptime", uptime.String(),
		"outcome", out.String(),
	)

	if s.callbacks.OnExit != nil {
		s.callbacks.OnExit(attempt, exitCode, uptime)
	}

	return out
}

// monitor waits for the process to exit, the context to cancel, a fatal
// pattern to match, or a deadline to expire. Deadlines are wall-clock and
// checked on poll ticks; blocked pipe reads are abandoned by terminating
// the process rather than by interrupting the read.
func (s *Supervisor) monitor(ctx context.Context, waitCh <-chan error, fatal, startup *stream.Matcher) (outcome, int) {
	var startDeadline time.Time
	if s.cfg.StartTimeout > 0 {
		startDeadline = s.startTime.Add(s.cfg.StartTimeout)
	}
	var runDeadline time.Time
	if s.cfg.RunTimeout > 0 {
		runDeadline = s.startTime.Add(s.cfg.RunTimeout)
	}

	// Without a startup pattern or deadline there is nothing to confirm.
	confirmed := startup == nil && startDeadline.IsZero()
	if confirmed {
		s.setState(StateRunning)
	}

	var startupCh <-chan struct{}
	if startup != nil {
		startupCh = startup.Tripped()
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-waitCh:
			code := extractExitCode(err)
			// waitCh fires only after both streams are fully parsed, so
			// this check is deterministic: a fatal line forces failure
			// even on exit code zero.
			select {
			case <-fatal.Tripped():
				s.recordFatal(fatal)
				return outcomeFatalPattern, code
			default:
			}
			if code == 0 {
				return outcomeSuccess, code
			}
			return outcomeFailed, code

		case <-fatal.Tripped():
			s.recordFatal(fatal)
			pattern, line := fatal.Match()
			s.logger.Error("fatal_pattern_matched",
				"process", s.cfg.Factory.Name(),
				"pattern", pattern,
				"line", line,
			)
			if s.callbacks.OnFatalPattern != nil {
				s.callbacks.OnFatalPattern(pattern, line)
			}
			s.terminate()
			code := s.awaitExit(waitCh)
			return outcomeFatalPattern, code

		case <-startupCh:
			startupCh = nil
			confirmed = true
			s.setState(StateRunning)
			pattern, line := startup.Match()
			s.logger.Info("startup_confirmed",
				"process", s.cfg.Factory.Name(),
				"pattern", pattern,
				"line", line,
				"elapsed", time.Since(s.startTime).String(),
			)

		case <-ticker.C:
			now := time.Now()
			if !confirmed && !startDeadline.IsZero() && now.After(startDeadline) {
				if startup != nil {
					s.logger.Error("startup_timeout",
						"process", s.cfg.Factory.Name(),
						"timeout", s.cfg.StartTimeout.String(),
					)
					s.terminate()
					code := s.awaitExit(waitCh)
					return outcomeStartTimeout, code
				}
				// No startup pattern configured: alive past the window
				// counts as started.
				confirmed = true
				s.setState(StateRunning)
				s.logger.Info("startup_window_elapsed",
					"process", s.cfg.Factory.Name(),
				)
			}
			if !runDeadline.IsZero() && now.After(runDeadline) {
				s.logger.Error("runtime_timeout",
					"process", s.cfg.Factory.Name(),
					"timeout", s.cfg.RunTimeout.String(),
				)
				s.terminate()
				code := s.awaitExit(waitCh)
				return outcomeRunTimeout, code
			}

		case <-ctx.Done():
			s.logger.Info("terminating_on_cancel",
				"process", s.cfg.Factory.Name(),
			)
			s.terminate()
			code := s.awaitExit(waitCh)
			return outcomeCancelled, code
		}
	}
}

// terminate sends SIGTERM to the process group.
func (s *Supervisor) terminate() {
	s.cmdMu.Lock()
	cmd := s.cmd
	s.cmdMu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}

	if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
		syscall.Kill(-pgid, syscall.SIGTERM)
	} else {
		cmd.Process.Signal(syscall.SIGTERM)
	}
}

// awaitExit waits for the process to exit after termination, escalating
// to SIGKILL when the grace window expires.
func (s *Supervisor) awaitExit(waitCh <-chan error) int {
	select {
	case err := <-waitCh:
		return extractExitCode(err)
	case <-time.After(s.cfg.ShutdownTimeout):
	}

	s.cmdMu.Lock()
	cmd := s.cmd
	s.cmdMu.Unlock()

	if cmd != nil && cmd.Process != nil {
		s.logger.Warn("force_killing_process",
			"process", s.cfg.Factory.Name(),
			"pid", cmd.Process.Pid,
		)
		if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
			syscall.Kill(-pgid, syscall.SIGKILL)
		} else {
			cmd.Process.Kill()
		}
	}

	select {
	case err := <-waitCh:
		return extractExitCode(err)
	case <-time.After(5 * time.Second):
		s.logger.Error("process_wait_abandoned",
			"process", s.cfg.Factory.Name(),
		)
		return 1
	}
}

// drainParsers waits for parsing pipelines to finish with a timeout.
func (s *Supervisor) drainParsers(parseWg *sync.WaitGroup, pipelines ...*stream.Pipeline) {
	const drainTimeout = 5 * time.Second

	done := make(chan struct{})
	go func() {
		parseWg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		s.logger.Warn("parser_drain_timeout",
			"process", s.cfg.Factory.Name(),
			"timeout", drainTimeout.String(),
		)
	}

	for _, p := range pipelines {
		read, dropped, parsed := p.Stats()
		if dropped > 0 {
			s.logger.Info("pipeline_stats",
				"stream", p.StreamName(),
				"lines_read", read,
				"lines_dropped", dropped,
				"lines_parsed", parsed,
				"degraded", p.IsDegraded(),
			)
		}
	}
}

func (s *Supervisor) recordFatal(fatal *stream.Matcher) {
	pattern, line := fatal.Match()
	s.stateMu.Lock()
	s.fatalPattern = pattern
	s.fatalLine = line
	s.stateMu.Unlock()
}

// State returns the current state of the supervisor.
func (s *Supervisor) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// setState updates the state and calls the callback if registered.
func (s *Supervisor) setState(newState State) {
	s.stateMu.Lock()
	oldState := s.state
	s.state = newState
	s.stateMu.Unlock()

	if s.callbacks.OnStateChange != nil && oldState != newState {
		s.callbacks.OnStateChange(oldState, newState)
	}
}

// Attempts returns the number of start attempts made so far.
func (s *Supervisor) Attempts() int {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.attempts
}

// FatalMatch returns the pattern and line of the first fatal match, or
// empty strings if none occurred.
func (s *Supervisor) FatalMatch() (pattern, line string) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.fatalPattern, s.fatalLine
}

// Errors returns the retained stderr tail of the most recent attempt,
// oldest first. Empty before the first attempt.
func (s *Supervisor) Errors() []string {
	s.handlerMu.Lock()
	handler := s.stderrHandler
	s.handlerMu.Unlock()

	if handler == nil {
		return nil
	}
	return handler.RecentLines(logging.MaxBufferedLines)
}

// Uptime returns the current uptime if running, or 0 if not. Safe to
// call from other goroutines while an attempt is in flight.
func (s *Supervisor) Uptime() time.Duration {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.state != StateRunning {
		return 0
	}
	return time.Since(s.startTime)
}

// extractExitCode extracts the exit code from a Wait() error.
func extractExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				// Signal exit: 128 + signal number
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}

	// Unknown error, assume exit code 1
	return 1
}
