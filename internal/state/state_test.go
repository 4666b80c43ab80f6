package state

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/randomizedcoder/go-rig-launcher/internal/params"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readDoc(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read state file: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("state file is not valid JSON: %v", err)
	}
	return doc
}

func TestSaveEndState_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	r := NewRecorder(newTestLogger())
	r.Begin("M042", "operator1", "M042_20260827", "rig-03", dir)
	r.SetParameters(params.Set{"subject_id": "M042", "script_path": "w.bonsai"})
	r.SetRigConfig(map[string]string{"rig_id": "rig-03"})
	r.RecordExperimentData("acquisition_attempts", 1)
	r.Finish()

	if !r.SaveEndState(dir) {
		t.Fatal("SaveEndState() = false")
	}

	doc := readDoc(t, filepath.Join(dir, MetadataDir, "end_state.json"))

	session, ok := doc["session_info"].(map[string]any)
	if !ok {
		t.Fatal("missing session_info")
	}
	if session["subject_id"] != "M042" {
		t.Errorf("subject_id = %v, want M042", session["subject_id"])
	}
	if session["session_uuid"] == "" {
		t.Error("session_uuid empty")
	}
	if session["stop_time"] == nil {
		t.Error("stop_time not recorded after Finish()")
	}

	rig, ok := doc["rig_config"].(map[string]any)
	if !ok || rig["rig_id"] != "rig-03" {
		t.Errorf("rig_config = %v, want rig_id rig-03", doc["rig_config"])
	}

	exp, ok := doc["experiment_data"].(map[string]any)
	if !ok || exp["acquisition_attempts"] != float64(1) {
		t.Errorf("experiment_data = %v", doc["experiment_data"])
	}

	if doc["saved_at"] == nil {
		t.Error("saved_at missing")
	}
	if doc["crash_info"] != nil {
		t.Error("end state must not carry crash_info")
	}
}

func TestSaveDebugState_CrashInfo(t *testing.T) {
	dir := t.TempDir()

	r := NewRecorder(newTestLogger())
	r.Begin("M042", "operator1", "M042_20260827", "rig-03", dir)
	r.SetPhase("acquisition")

	cause := errors.New("acquisition failed after 3 attempts")
	if !r.SaveDebugState(dir, cause) {
		t.Fatal("SaveDebugState() = false")
	}

	doc := readDoc(t, filepath.Join(dir, MetadataDir, "debug_state.json"))

	crash, ok := doc["crash_info"].(map[string]any)
	if !ok {
		t.Fatal("missing crash_info")
	}
	if crash["exception_message"] != "acquisition failed after 3 attempts" {
		t.Errorf("exception_message = %v", crash["exception_message"])
	}
	if crash["exception_type"] == "" || crash["exception_type"] == nil {
		t.Error("exception_type missing")
	}
	if crash["crash_time"] == nil {
		t.Error("crash_time missing")
	}

	ls, ok := doc["launcher_state"].(map[string]any)
	if !ok {
		t.Fatal("missing launcher_state")
	}
	if ls["phase"] != "acquisition" {
		t.Errorf("phase = %v, want acquisition", ls["phase"])
	}
}

func TestSaveDebugState_NilCause(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(newTestLogger())

	if !r.SaveDebugState(dir, nil) {
		t.Fatal("SaveDebugState(nil) = false")
	}

	doc := readDoc(t, filepath.Join(dir, MetadataDir, "debug_state.json"))
	crash := doc["crash_info"].(map[string]any)
	if crash["exception_message"] != "unknown" {
		t.Errorf("exception_message = %v, want unknown", crash["exception_message"])
	}
}

func TestCustomDataHook(t *testing.T) {
	t.Run("contributes_data", func(t *testing.T) {
		dir := t.TempDir()
		r := NewRecorder(newTestLogger())
		r.CustomData = func() map[string]any {
			return map[string]any{"bonsai_version": "2.8.1"}
		}

		if !r.SaveEndState(dir) {
			t.Fatal("SaveEndState() = false")
		}

		doc := readDoc(t, filepath.Join(dir, MetadataDir, "end_state.json"))
		custom, ok := doc["custom_data"].(map[string]any)
		if !ok || custom["bonsai_version"] != "2.8.1" {
			t.Errorf("custom_data = %v", doc["custom_data"])
		}
	})

	t.Run("panicking_hook_does_not_block_save", func(t *testing.T) {
		dir := t.TempDir()
		r := NewRecorder(newTestLogger())
		r.CustomData = func() map[string]any {
			panic("rig hook bug")
		}

		if !r.SaveEndState(dir) {
			t.Fatal("panicking hook must not prevent the save")
		}
	})
}

func TestSave_WriteFailureReturnsFalse(t *testing.T) {
	r := NewRecorder(newTestLogger())

	// A file where the directory should be makes MkdirAll fail.
	dir := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(dir, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if r.SaveEndState(dir) {
		t.Error("SaveEndState() should return false when the directory cannot be created")
	}
	if r.SaveDebugState(dir, errors.New("x")) {
		t.Error("SaveDebugState() should return false when the directory cannot be created")
	}
}

func TestRecorder_UniqueSessionUUID(t *testing.T) {
	a := NewRecorder(newTestLogger())
	b := NewRecorder(newTestLogger())

	if a.State().SessionUUID == b.State().SessionUUID {
		t.Error("two recorders share a session UUID")
	}
	if a.State().SessionUUID == "" {
		t.Error("session UUID empty")
	}
}
