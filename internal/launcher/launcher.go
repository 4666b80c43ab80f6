package launcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-rig-launcher/internal/config"
	"github.com/randomizedcoder/go-rig-launcher/internal/metrics"
	"github.com/randomizedcoder/go-rig-launcher/internal/params"
	"github.com/randomizedcoder/go-rig-launcher/internal/pipeline"
	"github.com/randomizedcoder/go-rig-launcher/internal/preflight"
	"github.com/randomizedcoder/go-rig-launcher/internal/prompt"
	"github.com/randomizedcoder/go-rig-launcher/internal/repo"
	"github.com/randomizedcoder/go-rig-launcher/internal/rig"
	"github.com/randomizedcoder/go-rig-launcher/internal/sessionsync"
	"github.com/randomizedcoder/go-rig-launcher/internal/state"
	"github.com/randomizedcoder/go-rig-launcher/internal/supervisor"
)

// Session sync defaults, used when the parameter file omits the tuning
// knobs.
const (
	defaultSyncPort       = 17091
	defaultSyncTimeout    = 60 * time.Second
	defaultSyncRetryDelay = 1 * time.Second
	defaultSyncAckTimeout = 10 * time.Second
)

// PostProcessingHook runs rig-type specific work after acquisition ends,
// before the post-acquisition pipeline.
type PostProcessingHook interface {
	AfterAcquisition(ctx context.Context, p params.Set, acquisitionSucceeded bool) error
}

// Options configures a Launcher.
type Options struct {
	Config  *config.Config
	Version string

	// Params is the resolved parameter set.
	Params params.Set

	// Rig is the rig configuration. Nil is allowed for rig-less runs.
	Rig *rig.Config

	Logger   *slog.Logger
	Prompter prompt.Prompter

	// Factory builds the acquisition process. Nil uses the generic
	// script/executable factory driven by script_path.
	Factory supervisor.ProcessFactory

	// PostHook, when set, runs between acquisition and the
	// post-acquisition pipeline.
	PostHook PostProcessingHook

	// Collector receives launcher metrics. Nil creates one on a private
	// registry, keeping metrics functional without touching the default
	// registry.
	Collector *metrics.Collector

	// Out receives the banner and exit summary. Nil means os.Stdout.
	Out io.Writer
}

// Launcher drives one rig session from sync to state persistence.
type Launcher struct {
	cfg       *config.Config
	version   string
	params    params.Set
	rig       *rig.Config
	logger    *slog.Logger
	prompter  prompt.Prompter
	factory   supervisor.ProcessFactory
	postHook  PostProcessingHook
	collector *metrics.Collector
	out       io.Writer

	recorder *state.Recorder
	summary  *metrics.Summary
	registry *pipeline.Registry
	runner   *pipeline.Runner

	phase       Phase
	sessionName string
	outputDir   string
	repoManager *repo.Manager
	attempts    int
}

// New creates a launcher. The parameter set must already be resolved.
func New(opts Options) (*Launcher, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("launcher requires a config")
	}
	if opts.Params == nil {
		return nil, fmt.Errorf("launcher requires a parameter set")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	prompter := opts.Prompter
	if prompter == nil {
		prompter = prompt.Null{}
	}

	collector := opts.Collector
	if collector == nil {
		collector = metrics.NewCollector(prometheus.NewRegistry())
	}

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	l := &Launcher{
		cfg:       opts.Config,
		version:   opts.Version,
		params:    opts.Params,
		rig:       opts.Rig,
		logger:    logger,
		prompter:  prompter,
		factory:   opts.Factory,
		postHook:  opts.PostHook,
		collector: collector,
		out:       out,
		recorder:  state.NewRecorder(logger),
		summary:   metrics.NewSummary(),
		phase:     PhaseInit,
	}

	l.registry = pipeline.NewRegistry()
	scriptLoader := pipeline.NewScriptLoader(logger)
	l.registry.Register(pipeline.LauncherModule, pipeline.NewBuiltinLoader(logger, prompter))
	l.registry.Register(pipeline.ScriptModule, scriptLoader)
	l.registry.Register(pipeline.RepoModule, pipeline.NewRepoLoader(scriptLoader, l.repoRoot))
	l.runner = pipeline.NewRunner(l.registry, logger)

	return l, nil
}

// repoRoot returns the checked-out repository path for repo modules, or
// "" when no repository is ready.
func (l *Launcher) repoRoot() string {
	if l.repoManager == nil || l.repoManager.State() != repo.StateReady {
		return ""
	}
	return l.params.String(params.KeyLocalRepositoryPath, "")
}

// SessionName returns the session name once the sync phase has settled it.
func (l *Launcher) SessionName() string {
	return l.sessionName
}

// OutputDir returns the session output folder once computed.
func (l *Launcher) OutputDir() string {
	return l.outputDir
}

// Phase returns the launcher's current phase.
func (l *Launcher) Phase() Phase {
	return l.phase
}

// Run drives the whole session. Any phase failure saves a debug state
// document and returns the error; normal completion saves the end state.
func (l *Launcher) Run(ctx context.Context) error {
	fmt.Fprint(l.out, FormatBanner(l.version, l.rigID(), l.params.String(params.KeySubjectID, "")))

	runErr := l.run(ctx)

	failed := runErr != nil
	if failed {
		l.setPhase(PhaseFailed)
		l.logger.Error("session_failed", "error", runErr)
		l.recorder.SaveDebugState(l.stateDir(), runErr)
	} else {
		l.setPhase(PhaseDone)
	}

	cause := ""
	if runErr != nil {
		cause = runErr.Error()
	}
	fmt.Fprint(l.out, FormatExitSummary(summaryData{
		SessionName:  l.sessionName,
		OutputFolder: l.outputDir,
		Phase:        l.phase,
		Attempts:     l.attempts,
		ModuleStats:  l.summary.ModulePercentiles(),
		AttemptStats: l.summary.AttemptPercentiles(),
		Duration:     l.summary.RunDuration(),
		MetricsAddr:  l.cfg.MetricsAddr,
		Failed:       failed,
		FailureCause: cause,
	}))

	return runErr
}

func (l *Launcher) run(ctx context.Context) error {
	l.setPhase(PhaseInit)
	l.collector.SetInfo(l.version, l.rigID(), l.params.String(params.KeySubjectID, ""))
	l.recorder.SetParameters(l.params)
	if l.rig != nil {
		l.recorder.SetRigConfig(l.rig.PlaceholderValues())
	}

	if err := l.syncPhase(ctx); err != nil {
		return err
	}

	if err := l.prepareOutput(); err != nil {
		return err
	}

	l.recorder.Begin(
		l.params.String(params.KeySubjectID, ""),
		l.params.String(params.KeyUserID, ""),
		l.sessionName,
		l.rigID(),
		l.outputDir,
	)

	if err := l.repositoryPhase(ctx); err != nil {
		return err
	}

	if err := l.preflightPhase(); err != nil {
		return err
	}

	if err := l.pipelinePhase(ctx, PhasePreAcquisition, pipeline.StagePreAcquisition, params.KeyPreAcquisition); err != nil {
		return err
	}

	acquisitionOK, err := l.acquisitionPhase(ctx)
	if err != nil {
		return err
	}

	if l.postHook != nil {
		if hookErr := l.postHook.AfterAcquisition(ctx, l.params, acquisitionOK); hookErr != nil {
			return fmt.Errorf("post-processing hook: %w", hookErr)
		}
	}

	if err := l.pipelinePhase(ctx, PhasePostAcquisition, pipeline.StagePostAcquisition, params.KeyPostAcquisition); err != nil {
		return err
	}

	l.recorder.Finish()
	if !l.recorder.SaveEndState(l.outputDir) {
		l.logger.Warn("end_state_not_saved", "dir", l.outputDir)
	}
	l.logger.Info("session_completed",
		"session_name", l.sessionName,
		"output_folder", l.outputDir,
		"attempts", l.attempts,
	)
	return nil
}

// syncPhase settles the session name, coordinating with other rig nodes
// when a sync role is configured.
func (l *Launcher) syncPhase(ctx context.Context) error {
	l.setPhase(PhaseSync)

	subject := l.params.String(params.KeySubjectID, "")
	defaultName := sessionsync.DefaultSessionName(subject, time.Now())

	role := l.params.String(params.KeySyncRole, "")
	switch role {
	case "":
		l.sessionName = defaultName

	case "master":
		// Master.Run drives its accept loop on this goroutine. The
		// launcher cannot proceed without the handshake result, so a
		// dedicated accept goroutine would only add a join.
		name := l.params.String(params.KeySessionName, defaultName)
		master := sessionsync.NewMaster(sessionsync.MasterConfig{
			ListenAddr:     l.syncAddr(""),
			ExpectedSlaves: l.params.Int(params.KeySyncExpectedSlaves, 1),
			Timeout:        l.params.Seconds(params.KeySyncTimeoutSec, defaultSyncTimeout),
			SessionName:    name,
			Logger:         l.logger,
		})
		if err := master.Run(); err != nil {
			return fmt.Errorf("session sync: %w", err)
		}
		l.sessionName = name

	case "slave":
		host := l.params.String(params.KeySyncHost, "")
		if host == "" {
			return fmt.Errorf("session sync: slave role requires %s", params.KeySyncHost)
		}
		slave := sessionsync.NewSlave(sessionsync.SlaveConfig{
			Addr:       l.syncAddr(host),
			Timeout:    l.params.Seconds(params.KeySyncTimeoutSec, defaultSyncTimeout),
			RetryDelay: l.params.Seconds(params.KeySyncRetryDelaySec, defaultSyncRetryDelay),
			AckTimeout: l.params.Seconds(params.KeySyncAckTimeoutSec, defaultSyncAckTimeout),
			Logger:     l.logger,
		})
		name, err := slave.Run()
		if err != nil {
			return fmt.Errorf("session sync: %w", err)
		}
		l.sessionName = name

	default:
		return fmt.Errorf("unknown %s %q", params.KeySyncRole, role)
	}

	l.logger.Info("session_name_settled", "session_name", l.sessionName, "role", role)
	return nil
}

// syncAddr builds the sync endpoint address for the configured port.
func (l *Launcher) syncAddr(host string) string {
	port := l.params.Int(params.KeySyncPort, defaultSyncPort)
	return fmt.Sprintf("%s:%d", host, port)
}

// prepareOutput computes and creates the session output folder, and
// publishes it into the parameter set for pipeline modules.
func (l *Launcher) prepareOutput() error {
	root := l.params.String(params.KeyOutputRootFolder, "")
	if root == "" && l.rig != nil {
		root = l.rig.OutputRootFolder
		l.params[params.KeyOutputRootFolder] = root
	}

	dir := l.params.String(params.KeyOutputSessionFolder, "")
	if dir == "" {
		dir = l.sessionName
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}

	if err := os.MkdirAll(filepath.Join(dir, state.MetadataDir), 0o755); err != nil {
		return fmt.Errorf("create session folder %s: %w", dir, err)
	}

	l.outputDir = dir
	l.params[params.KeyOutputSessionFolder] = dir
	l.logger.Info("output_folder_ready", "path", dir)
	return nil
}

// repositoryPhase brings the experiment repository to the requested
// commit. A configured repository that cannot be set up fails the run.
func (l *Launcher) repositoryPhase(ctx context.Context) error {
	l.setPhase(PhaseRepository)

	l.repoManager = repo.NewManager(repo.Config{
		URL:       l.params.String(params.KeyRepositoryURL, ""),
		Commit:    l.params.String(params.KeyRepositoryCommitHash, ""),
		LocalPath: l.params.String(params.KeyLocalRepositoryPath, ""),
	}, l.logger)

	if !l.repoManager.Setup(ctx) {
		return fmt.Errorf("repository setup failed (state %s)", l.repoManager.State())
	}
	return nil
}

func (l *Launcher) preflightPhase() error {
	l.setPhase(PhasePreflight)

	if l.cfg.SkipPreflight {
		l.logger.Warn("preflight_skipped")
		return nil
	}

	result := preflight.RunAll(preflight.Options{
		GitRequired:    l.params.String(params.KeyRepositoryURL, "") != "",
		OutputRoot:     l.params.String(params.KeyOutputRootFolder, ""),
		RequiredFreeGB: int(l.params.Float(params.KeyRequiredFreeGB, 0)),
	})
	preflight.PrintResults(result)

	if !result.Passed {
		return fmt.Errorf("preflight checks failed")
	}
	return nil
}

// pipelinePhase runs one module pipeline stage. An aborted stage fails
// the run; continue-policy failures are recorded and the run proceeds.
func (l *Launcher) pipelinePhase(ctx context.Context, phase Phase, stage, paramKey string) error {
	l.setPhase(phase)

	specs, err := pipeline.ParseSpecs(l.params[paramKey])
	if err != nil {
		return fmt.Errorf("%s: %w", stage, err)
	}
	if len(specs) == 0 {
		return nil
	}

	result := l.runner.RunStage(ctx, stage, specs, l.params)

	for _, m := range result.Modules {
		l.summary.RecordModuleDuration(m.Duration)
		l.collector.ModuleCompleted(stage, m.Succeeded())
	}
	l.recorder.RecordExperimentData(stage+"_modules", len(result.Modules))
	l.recorder.RecordExperimentData(stage+"_failures", result.FailureCount())

	if result.Aborted {
		return fmt.Errorf("%s pipeline aborted", stage)
	}
	if !result.AllSucceeded() {
		l.logger.Warn("stage_completed_with_failures",
			"stage", stage,
			"failures", result.FailureCount(),
		)
	}
	return nil
}

// acquisitionPhase supervises the acquisition process. Returns whether
// acquisition succeeded; supervision setup problems and terminal process
// failures are errors.
func (l *Launcher) acquisitionPhase(ctx context.Context) (bool, error) {
	l.setPhase(PhaseAcquisition)

	factory := l.factory
	if factory == nil {
		var err error
		factory, err = NewCommandFactory(l.params)
		if err != nil {
			return false, fmt.Errorf("acquisition command: %w", err)
		}
	}

	sup := supervisor.New(supervisor.Config{
		Factory:         factory,
		StartTimeout:    l.params.Seconds(params.KeyStartTimeoutSec, l.cfg.StartTimeout),
		RunTimeout:      l.cfg.RunTimeout,
		MaxRetries:      l.params.Int(params.KeyMaxRetries, l.cfg.MaxRetries),
		FatalPatterns:   l.params.StringSlice(params.KeyFatalErrorPatterns),
		StartupPatterns: l.params.StringSlice(params.KeyStartupPatterns),
		PollInterval:    l.cfg.PollInterval,
		ShutdownTimeout: l.cfg.ShutdownTimeout,
		Verbose:         l.cfg.Verbose,
		Prompter:        l.prompter,
		Logger:          l.logger,
		Callbacks: supervisor.Callbacks{
			OnStart: func(attempt, pid int) {
				l.collector.ProcessStarted()
			},
			OnExit: func(attempt, exitCode int, uptime time.Duration) {
				l.collector.ProcessExited(exitCode)
				l.summary.RecordAttemptDuration(uptime)
			},
			OnRetry: func(attempt int) {
				l.collector.ProcessRetried()
			},
		},
	})

	// Publish acquisition uptime while the supervisor runs; zero the
	// gauge once it stops.
	uptimeDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-uptimeDone:
				return
			case <-ticker.C:
				l.collector.SetUptime(sup.Uptime().Seconds())
			}
		}
	}()

	ok := sup.StartAndMonitor(ctx)
	close(uptimeDone)
	l.collector.SetUptime(0)

	l.attempts = sup.Attempts()
	l.recorder.RecordExperimentData("acquisition_attempts", l.attempts)
	l.recorder.RecordExperimentData("acquisition_state", sup.State().String())

	if !ok {
		if pattern, line := sup.FatalMatch(); pattern != "" {
			return false, fmt.Errorf("acquisition failed: fatal pattern %q matched line %q", pattern, line)
		}
		if errs := sup.Errors(); len(errs) > 0 {
			return false, fmt.Errorf("acquisition failed (%s): last stderr: %s",
				sup.State(), errs[len(errs)-1])
		}
		return false, fmt.Errorf("acquisition failed (%s)", sup.State())
	}
	return true, nil
}

func (l *Launcher) setPhase(p Phase) {
	if l.phase == p {
		return
	}
	l.phase = p
	l.recorder.SetPhase(p.String())
	l.collector.SetPhase(p.String())
	l.logger.Info("phase_changed", "phase", p.String())
}

func (l *Launcher) rigID() string {
	if l.rig == nil {
		return ""
	}
	return l.rig.RigID
}

// stateDir picks where the debug state lands: the session folder when it
// exists, the output root otherwise, the working directory as last resort.
func (l *Launcher) stateDir() string {
	if l.outputDir != "" {
		return l.outputDir
	}
	if root := l.params.String(params.KeyOutputRootFolder, ""); root != "" {
		return root
	}
	return "."
}
