// Package params resolves the experiment parameter set.
//
// A parameter set is built once per launcher invocation by merging, in
// order: parameter file contents, explicit overrides, interactive prompts
// for required-but-missing keys, and {rig_param:KEY} placeholder
// substitution against the rig configuration. After resolution the set is
// treated as read-mostly; pipeline modules receive their own snapshots.
package params

import (
	"fmt"
	"strconv"
	"time"
)

// Set is a mapping from parameter key to JSON-compatible value.
type Set map[string]any

// Well-known parameter file keys.
const (
	KeyLauncher             = "launcher"
	KeyLauncherVersion      = "launcher_version"
	KeySubjectID            = "subject_id"
	KeyUserID               = "user_id"
	KeyRepositoryURL        = "repository_url"
	KeyRepositoryCommitHash = "repository_commit_hash"
	KeyLocalRepositoryPath  = "local_repository_path"
	KeyScriptPath           = "script_path"
	KeyOutputRootFolder     = "output_root_folder"
	KeyOutputSessionFolder  = "output_session_folder"
	KeyPreAcquisition       = "pre_acquisition_pipeline"
	KeyPostAcquisition      = "post_acquisition_pipeline"
	KeyFatalErrorPatterns   = "fatal_error_patterns"
	KeyStartupPatterns      = "startup_patterns"
	KeySessionName          = "session_name"
	KeyStartTimeoutSec      = "process_start_timeout_sec"
	KeyMaxRetries           = "process_max_retries"
	KeySyncRole             = "session_sync_role"
	KeySyncHost             = "session_sync_host"
	KeySyncPort             = "session_sync_port"
	KeySyncExpectedSlaves   = "session_sync_expected_slaves"
	KeySyncTimeoutSec       = "session_sync_timeout_sec"
	KeySyncRetryDelaySec    = "session_sync_retry_delay_sec"
	KeySyncAckTimeoutSec    = "session_sync_ack_timeout_sec"
	KeyRequiredFreeGB       = "required_free_gb"
	KeyAllowOverride        = "allow_override"
)

// Clone returns a shallow copy of the set. Nested values are shared;
// modules that need isolation must not mutate nested structures in place.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Merge returns a new set with entries from other layered on top of s.
func (s Set) Merge(other map[string]any) Set {
	out := s.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Has reports whether key is present with a non-nil value.
func (s Set) Has(key string) bool {
	v, ok := s[key]
	return ok && v != nil
}

// String returns the string value for key, or def when absent or not a string.
func (s Set) String(key, def string) string {
	if v, ok := s[key].(string); ok {
		return v
	}
	return def
}

// Int returns the integer value for key. JSON numbers decode as float64;
// numeric strings are accepted for override compatibility.
func (s Set) Int(key string, def int) int {
	switch v := s[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Float returns the float value for key, or def.
func (s Set) Float(key string, def float64) float64 {
	switch v := s[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// Bool returns the boolean value for key, or def.
func (s Set) Bool(key string, def bool) bool {
	switch v := s[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Seconds interprets the numeric value at key as a duration in seconds.
// All launcher timeout parameters use seconds (see DESIGN.md).
func (s Set) Seconds(key string, def time.Duration) time.Duration {
	if !s.Has(key) {
		return def
	}
	secs := s.Float(key, -1)
	if secs < 0 {
		return def
	}
	return time.Duration(secs * float64(time.Second))
}

// StringSlice returns the list value at key as strings. Non-string
// elements are formatted; absent keys return nil.
func (s Set) StringSlice(key string) []string {
	raw, ok := s[key].([]any)
	if !ok {
		if strs, ok := s[key].([]string); ok {
			return strs
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if str, ok := v.(string); ok {
			out = append(out, str)
		} else {
			out = append(out, fmt.Sprintf("%v", v))
		}
	}
	return out
}

// List returns the raw list value at key, or nil.
func (s Set) List(key string) []any {
	raw, _ := s[key].([]any)
	return raw
}

// Map returns the nested mapping at key, or nil.
func (s Set) Map(key string) map[string]any {
	m, _ := s[key].(map[string]any)
	return m
}
