package params

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
)

// ConfigurationError is a fatal configuration problem. It aborts the
// launcher before any process starts.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Message)
}

// Prompter is the subset of operator prompting the resolver needs.
type Prompter interface {
	Ask(label, def string) string
}

// RequiredField declares a parameter that must be present after the file
// and overrides are merged. Missing fields are prompted for.
type RequiredField struct {
	Key     string
	Default string
	Help    string
}

// Options configures Resolve.
type Options struct {
	// Path to a JSON parameter file. Exactly one of Path or Source must be set.
	Path string

	// Source is an already-built parameter mapping.
	Source map[string]any

	// Overrides are applied after file load, key-by-key replace.
	Overrides map[string]any

	// Required lists keys that must be present; missing ones are prompted.
	Required []RequiredField

	// Prompter supplies operator answers for missing required fields.
	// Nil disables prompting (defaults are used directly).
	Prompter Prompter

	// RigParams resolves {rig_param:KEY} placeholders. A placeholder
	// referencing a key absent from this mapping is a fatal error.
	RigParams map[string]string

	// LauncherVersion is the running launcher's version, checked against
	// the launcher_version constraint in the file.
	LauncherVersion string

	Logger *slog.Logger
}

var placeholderRe = regexp.MustCompile(`\{rig_param:([^{}]+)\}`)

// Resolve builds the parameter set. See the package comment for the merge
// order. Calling Resolve twice with identical file and overrides (and no
// prompting required) yields an identical set.
func Resolve(opts Options) (Set, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	set, err := loadSource(opts)
	if err != nil {
		return nil, err
	}

	// Overrides: key-by-key replace
	for k, v := range opts.Overrides {
		set[k] = v
	}

	// Version constraint: mismatch is fatal, absence is a warning. An
	// unversioned running build (e.g. "dev") cannot be checked, so the
	// constraint degrades to a warning rather than failing every run.
	if constraint := set.String(KeyLauncherVersion, ""); constraint != "" {
		if opts.LauncherVersion == "" || !VersionParsable(opts.LauncherVersion) {
			logger.Warn("launcher_version_unverifiable",
				"constraint", constraint,
				"running_version", opts.LauncherVersion)
		} else if err := CheckConstraint(constraint, opts.LauncherVersion); err != nil {
			return nil, &ConfigurationError{
				Field:   KeyLauncherVersion,
				Message: err.Error(),
			}
		}
	} else {
		logger.Warn("launcher_version_not_declared",
			"hint", "add launcher_version to the parameter file to pin compatibility")
	}

	// Prompt for declared-required, still-missing keys
	for _, field := range opts.Required {
		if set.Has(field.Key) {
			continue
		}
		label := field.Key
		if field.Help != "" {
			label = fmt.Sprintf("%s (%s)", field.Key, field.Help)
		}
		if opts.Prompter == nil {
			logger.Info("required_parameter_defaulted", "key", field.Key, "default", field.Default)
			set[field.Key] = field.Default
			continue
		}
		set[field.Key] = opts.Prompter.Ask(label, field.Default)
	}

	// Rig placeholder substitution, recursing into nested values
	expanded, err := expandValue(set, opts.RigParams)
	if err != nil {
		return nil, err
	}

	return expanded.(Set), nil
}

// loadSource loads the initial mapping from a file or a prebuilt map.
func loadSource(opts Options) (Set, error) {
	if opts.Source != nil {
		return Set(opts.Source).Clone(), nil
	}
	if opts.Path == "" {
		return nil, &ConfigurationError{Field: "source", Message: "no parameter file or mapping supplied"}
	}

	data, err := os.ReadFile(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("reading parameter file: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing parameter file %s: %w", opts.Path, err)
	}

	return Set(raw), nil
}

// expandValue substitutes {rig_param:KEY} placeholders in string values,
// recursing into maps and lists. New containers are returned so the
// caller's source mapping is never mutated. An unknown placeholder key is
// a fatal configuration error: silently keeping the token would
// misconfigure the rig.
func expandValue(v any, rigParams map[string]string) (any, error) {
	switch value := v.(type) {
	case string:
		return expandString(value, rigParams)
	case Set:
		out := make(Set, len(value))
		for k, nested := range value {
			expanded, err := expandValue(nested, rigParams)
			if err != nil {
				return nil, err
			}
			out[k] = expanded
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, nested := range value {
			expanded, err := expandValue(nested, rigParams)
			if err != nil {
				return nil, err
			}
			out[k] = expanded
		}
		return out, nil
	case []any:
		out := make([]any, len(value))
		for i, nested := range value {
			expanded, err := expandValue(nested, rigParams)
			if err != nil {
				return nil, err
			}
			out[i] = expanded
		}
		return out, nil
	default:
		return v, nil
	}
}

func expandString(s string, rigParams map[string]string) (string, error) {
	matches := placeholderRe.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	for _, m := range matches {
		key := m[1]
		replacement, ok := rigParams[key]
		if !ok {
			return "", &ConfigurationError{
				Field:   key,
				Message: fmt.Sprintf("unresolved rig parameter placeholder {rig_param:%s}", key),
			}
		}
		s = placeholderRe.ReplaceAllStringFunc(s, func(tok string) string {
			sub := placeholderRe.FindStringSubmatch(tok)
			if sub[1] == key {
				return replacement
			}
			return tok
		})
	}

	return s, nil
}
