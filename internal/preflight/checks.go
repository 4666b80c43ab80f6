// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
)

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// Options selects which checks run and with what thresholds.
type Options struct {
	// GitRequired enables the git check. Only set when a repository is
	// configured for the session.
	GitRequired bool

	// GitPath overrides the git binary location. Empty means $PATH lookup.
	GitPath string

	// AcquisitionPath is the acquisition binary to verify. Empty skips
	// the check.
	AcquisitionPath string

	// OutputRoot is the session output root folder. Empty skips the
	// writability and disk checks.
	OutputRoot string

	// RequiredFreeGB is the minimum free disk space under OutputRoot.
	// Zero means disk headroom is a warning-only check at 1 GB.
	RequiredFreeGB int
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// RunAll executes all applicable preflight checks.
func RunAll(opts Options) *Result {
	result := &Result{
		Checks: make([]Check, 0, 4),
		Passed: true,
	}

	if opts.GitRequired {
		gitCheck := checkGit(opts.GitPath)
		result.Checks = append(result.Checks, gitCheck)
		if !gitCheck.Passed {
			result.Passed = false
		}
	}

	if opts.AcquisitionPath != "" {
		binCheck := checkAcquisitionBinary(opts.AcquisitionPath)
		result.Checks = append(result.Checks, binCheck)
		if !binCheck.Passed {
			result.Passed = false
		}
	}

	if opts.OutputRoot != "" {
		writeCheck := checkOutputWritable(opts.OutputRoot)
		result.Checks = append(result.Checks, writeCheck)
		if !writeCheck.Passed {
			result.Passed = false
		}

		diskCheck := checkDiskSpace(opts.OutputRoot, opts.RequiredFreeGB)
		result.Checks = append(result.Checks, diskCheck)
		if !diskCheck.Passed {
			result.Passed = false
		}
	}

	return result
}

// checkGit verifies git is available and reports its version.
func checkGit(path string) Check {
	if path == "" {
		path = "git"
	}

	cmd := exec.Command(path, "--version")
	output, err := cmd.Output()
	if err != nil {
		return Check{
			Name:    "git",
			Passed:  false,
			Message: fmt.Sprintf("not found at %s: %v", path, err),
		}
	}

	// "git version 2.43.0"
	version := "unknown"
	parts := strings.Fields(strings.TrimSpace(string(output)))
	if len(parts) >= 3 {
		version = parts[2]
	}

	return Check{
		Name:    "git",
		Passed:  true,
		Message: fmt.Sprintf("found at %s (version %s)", path, version),
	}
}

// checkAcquisitionBinary verifies the acquisition executable exists and
// is runnable. It only stats the file; launching acquisition software for
// a version probe can grab hardware locks.
func checkAcquisitionBinary(path string) Check {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return Check{
			Name:    "acquisition_binary",
			Passed:  false,
			Message: fmt.Sprintf("not found at %s: %v", path, err),
		}
	}

	return Check{
		Name:    "acquisition_binary",
		Passed:  true,
		Message: fmt.Sprintf("found at %s", resolved),
	}
}

// checkOutputWritable verifies the output root exists (creating it if
// needed) and accepts writes.
func checkOutputWritable(root string) Check {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return Check{
			Name:    "output_writable",
			Passed:  false,
			Message: fmt.Sprintf("cannot create %s: %v", root, err),
		}
	}

	probe := filepath.Join(root, ".launcher_write_probe")
	if err := os.WriteFile(probe, []byte("probe"), 0o644); err != nil {
		return Check{
			Name:    "output_writable",
			Passed:  false,
			Message: fmt.Sprintf("cannot write to %s: %v", root, err),
		}
	}
	os.Remove(probe)

	return Check{
		Name:    "output_writable",
		Passed:  true,
		Message: fmt.Sprintf("%s is writable", root),
	}
}

// checkDiskSpace verifies free space under the output root. With no
// explicit requirement the check warns below 1 GB instead of failing.
func checkDiskSpace(root string, requiredGB int) Check {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(root, &stat); err != nil {
		return Check{
			Name:    "disk_space",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to stat filesystem: %v", err),
		}
	}

	freeGB := int(stat.Bavail * uint64(stat.Bsize) / (1 << 30))

	if requiredGB > 0 {
		return Check{
			Name:     "disk_space",
			Required: requiredGB,
			Actual:   freeGB,
			Passed:   freeGB >= requiredGB,
			Message:  fmt.Sprintf("%d GB free (need %d GB)", freeGB, requiredGB),
		}
	}

	return Check{
		Name:    "disk_space",
		Passed:  true,
		Warning: freeGB < 1,
		Message: fmt.Sprintf("%d GB free", freeGB),
	}
}

// PrintResults prints the preflight check results to stdout.
func PrintResults(result *Result) {
	fmt.Println("Preflight checks:")
	for _, check := range result.Checks {
		fmt.Println(check.String())
		if !check.Passed {
			fmt.Printf("    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Println()
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "git":
		return "install git (apt install git / brew install git) or set git_path"
	case "acquisition_binary":
		return "install the acquisition software or correct the executable path parameter"
	case "output_writable":
		return "create the output folder or fix its permissions"
	case "disk_space":
		return "free up disk space or point output_root_folder at a larger volume"
	default:
		return "see documentation"
	}
}
