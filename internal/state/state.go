// Package state persists crash-recoverable session state as JSON.
//
// Two documents are written under <session>/launcher_metadata/: an end
// state at normal completion and a debug state on any uncaught error.
// Persistence is best-effort: a failed write is logged, never raised, so
// state recording can never take down a run that produced data.
package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randomizedcoder/go-rig-launcher/internal/params"
)

const (
	// MetadataDir is the session subdirectory holding launcher output.
	MetadataDir = "launcher_metadata"

	endStateFile   = "end_state.json"
	debugStateFile = "debug_state.json"
)

// LauncherState is the launcher's view of the running session.
type LauncherState struct {
	SubjectID           string     `json:"subject_id"`
	UserID              string     `json:"user_id"`
	SessionUUID         string     `json:"session_uuid"`
	SessionName         string     `json:"session_name"`
	RigID               string     `json:"rig_id"`
	OutputSessionFolder string     `json:"output_session_folder"`
	Phase               string     `json:"phase"`
	StartTime           time.Time  `json:"start_time"`
	StopTime            *time.Time `json:"stop_time,omitempty"`
}

// crashInfo describes the error that ended a failed run.
type crashInfo struct {
	ExceptionType    string    `json:"exception_type"`
	ExceptionMessage string    `json:"exception_message"`
	CrashTime        time.Time `json:"crash_time"`
}

// stateDoc is the serialized form shared by end and debug states.
type stateDoc struct {
	SessionInfo    LauncherState     `json:"session_info"`
	RigConfig      map[string]string `json:"rig_config"`
	ExperimentData map[string]any    `json:"experiment_data"`
	Parameters     params.Set        `json:"parameters"`
	CustomData     map[string]any    `json:"custom_data,omitempty"`
	SavedAt        time.Time         `json:"saved_at"`

	// Debug-state only
	CrashInfo     *crashInfo     `json:"crash_info,omitempty"`
	LauncherState *LauncherState `json:"launcher_state,omitempty"`
}

// Recorder accumulates session state and writes the end/debug documents.
type Recorder struct {
	logger *slog.Logger

	// CustomData, when set, contributes rig-type specific data to the end
	// state. A panicking hook is caught and its data skipped.
	CustomData func() map[string]any

	mu         sync.Mutex
	state      LauncherState
	rigConfig  map[string]string
	experiment map[string]any
	parameters params.Set
}

// NewRecorder creates a recorder with a fresh session UUID.
func NewRecorder(logger *slog.Logger) *Recorder {
	return &Recorder{
		logger: logger,
		state: LauncherState{
			SessionUUID: uuid.NewString(),
			StartTime:   time.Now(),
		},
		experiment: make(map[string]any),
	}
}

// Begin records the session identity once it is known.
func (r *Recorder) Begin(subjectID, userID, sessionName, rigID, outputFolder string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.SubjectID = subjectID
	r.state.UserID = userID
	r.state.SessionName = sessionName
	r.state.RigID = rigID
	r.state.OutputSessionFolder = outputFolder
}

// SetPhase records the launcher phase for debug-state reporting.
func (r *Recorder) SetPhase(phase string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Phase = phase
}

// SetParameters records the resolved parameter set.
func (r *Recorder) SetParameters(p params.Set) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parameters = p
}

// SetRigConfig records the rig configuration values.
func (r *Recorder) SetRigConfig(cfg map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rigConfig = cfg
}

// RecordExperimentData stores one experiment-level fact (attempt counts,
// pipeline outcomes, acquisition duration).
func (r *Recorder) RecordExperimentData(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.experiment[key] = value
}

// Finish records the session stop time.
func (r *Recorder) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.state.StopTime = &now
}

// State returns a copy of the current launcher state.
func (r *Recorder) State() LauncherState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SaveEndState writes the end-state document under dir. Returns false on
// write failure; never panics or raises.
func (r *Recorder) SaveEndState(dir string) bool {
	doc := r.buildDoc()
	return r.write(dir, endStateFile, doc)
}

// SaveDebugState writes the debug-state document under dir, recording the
// error that ended the run.
func (r *Recorder) SaveDebugState(dir string, cause error) bool {
	doc := r.buildDoc()

	message := "unknown"
	causeType := "unknown"
	if cause != nil {
		message = cause.Error()
		causeType = fmt.Sprintf("%T", cause)
	}
	doc.CrashInfo = &crashInfo{
		ExceptionType:    causeType,
		ExceptionMessage: message,
		CrashTime:        time.Now(),
	}

	st := r.State()
	doc.LauncherState = &st

	return r.write(dir, debugStateFile, doc)
}

func (r *Recorder) buildDoc() stateDoc {
	r.mu.Lock()
	doc := stateDoc{
		SessionInfo:    r.state,
		RigConfig:      r.rigConfig,
		ExperimentData: r.experiment,
		Parameters:     r.parameters,
		SavedAt:        time.Now(),
	}
	hook := r.CustomData
	r.mu.Unlock()

	if hook != nil {
		doc.CustomData = r.collectCustomData(hook)
	}
	return doc
}

// collectCustomData invokes the hook, catching panics so rig-specific
// code cannot prevent state from being saved.
func (r *Recorder) collectCustomData(hook func() map[string]any) (data map[string]any) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("custom_data_hook_panicked", "panic", fmt.Sprintf("%v", rec))
			data = nil
		}
	}()
	return hook()
}

func (r *Recorder) write(dir, file string, doc stateDoc) bool {
	metaDir := filepath.Join(dir, MetadataDir)
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		r.logger.Error("state_dir_creation_failed", "dir", metaDir, "error", err)
		return false
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		r.logger.Error("state_marshal_failed", "file", file, "error", err)
		return false
	}

	path := filepath.Join(metaDir, file)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		r.logger.Error("state_write_failed", "path", path, "error", err)
		return false
	}

	r.logger.Info("state_saved", "path", path)
	return true
}
