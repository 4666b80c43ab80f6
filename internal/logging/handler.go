package logging

import (
	"log/slog"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a single log line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the maximum number of stderr lines retained for
	// the post-mortem report.
	MaxBufferedLines = 200
)

// StderrHandler handles stderr output from the acquisition process.
// It buffers recent lines for post-mortem reporting and logs them at a
// level inferred from their content.
type StderrHandler struct {
	processName string
	logger      *slog.Logger
	verbose     bool

	// Circular buffer for recent lines
	buffer []string
	bufIdx int
	total  int
	mu     sync.Mutex
}

// NewStderrHandler creates a new stderr handler for a supervised process.
func NewStderrHandler(processName string, logger *slog.Logger, verbose bool) *StderrHandler {
	return &StderrHandler{
		processName: processName,
		logger:      logger,
		verbose:     verbose,
		buffer:      make([]string, MaxBufferedLines),
	}
}

// ParseLine processes a single line of stderr output. It implements the
// stream.LineParser interface so the handler can sit at the end of a
// stderr pipeline.
func (h *StderrHandler) ParseLine(line string) {
	// Truncate if too long
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	// Store in circular buffer
	h.mu.Lock()
	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	h.total++
	h.mu.Unlock()

	h.logLine(line)
}

// logLine logs the line at the appropriate level based on content.
func (h *StderrHandler) logLine(line string) {
	level := h.classifyLine(line)

	// In non-verbose mode, only log warnings and errors
	if !h.verbose && level == slog.LevelDebug {
		return
	}

	h.logger.Log(nil, level, "acquisition_stderr",
		"process", h.processName,
		"line", line,
	)
}

// classifyLine determines the log level for a line based on content.
func (h *StderrHandler) classifyLine(line string) slog.Level {
	lower := strings.ToLower(line)

	if strings.Contains(lower, "exception") ||
		strings.Contains(lower, "fatal") ||
		strings.Contains(lower, "error") {
		return slog.LevelWarn
	}

	if strings.Contains(lower, "warn") ||
		strings.Contains(lower, "retry") {
		return slog.LevelWarn
	}

	return slog.LevelDebug
}

// RecentLines returns up to n of the most recent stderr lines, oldest first.
func (h *StderrHandler) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		if h.buffer[idx] != "" {
			lines = append(lines, h.buffer[idx])
		}
	}

	return lines
}

// LineCount returns the total number of stderr lines seen.
func (h *StderrHandler) LineCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// CountMatches counts occurrences of the given patterns in the buffer.
// Used by the exit summary to report the most common error signatures.
func (h *StderrHandler) CountMatches(patterns []string) map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make(map[string]int)
	for _, line := range h.buffer {
		if line == "" {
			continue
		}
		for _, pattern := range patterns {
			if strings.Contains(line, pattern) {
				counts[pattern]++
			}
		}
	}

	return counts
}
