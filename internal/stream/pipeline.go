// Package stream provides lossy-by-design line pipelines for acquisition
// process output.
//
// Acquisition programs can burst output faster than the launcher cares to
// parse. The pipeline architecture ensures that monitoring never sabotages
// the acquisition itself by blocking the process's stdout/stderr.
//
// Two-Layer Architecture:
//
//	Layer 1 (Reader): Reads lines fast, drops if channel full - never blocks
//	Layer 2 (Parser): Consumes from channel at own pace
package stream

import (
	"sync"
	"sync/atomic"
)

// LineParser consumes one line at a time from a pipeline.
type LineParser interface {
	ParseLine(line string)
}

// Pipeline reads lines from a process output stream into a bounded
// channel. If the parser cannot keep up, lines are dropped rather than
// blocking the writer (the acquisition process).
type Pipeline struct {
	streamName string // "stdout" or "stderr"
	bufferSize int

	lineChan  chan string
	closeOnce sync.Once // Ensures CloseChannel() is idempotent

	// Pipeline health metrics (atomic for concurrent access)
	linesRead    int64
	linesDropped int64
	linesParsed  int64

	// Configurable threshold for degradation detection
	dropThreshold float64
}

// NewPipeline creates a lossy parsing pipeline.
//
// Parameters:
//   - streamName: "stdout" or "stderr" for identification
//   - bufferSize: Channel buffer size (lines)
//   - dropThreshold: Fraction (0.0-1.0) above which monitoring is degraded
func NewPipeline(streamName string, bufferSize int, dropThreshold float64) *Pipeline {
	if bufferSize < 1 {
		bufferSize = 1000 // Default
	}
	if dropThreshold <= 0 {
		dropThreshold = 0.01 // Default 1%
	}

	return &Pipeline{
		streamName:    streamName,
		bufferSize:    bufferSize,
		lineChan:      make(chan string, bufferSize),
		dropThreshold: dropThreshold,
	}
}

// FeedLine adds a line to the pipeline.
// Returns true if queued, false if dropped (channel full).
func (p *Pipeline) FeedLine(line string) bool {
	atomic.AddInt64(&p.linesRead, 1)

	select {
	case p.lineChan <- line:
		return true
	default:
		atomic.AddInt64(&p.linesDropped, 1)
		return false
	}
}

// CloseChannel closes the line channel, signaling the parser to stop.
// Must be called by the reader when its source is exhausted; this is the
// sole mechanism for parser goroutine termination.
//
// Safe to call multiple times (idempotent via sync.Once).
func (p *Pipeline) CloseChannel() {
	p.closeOnce.Do(func() {
		close(p.lineChan)
	})
}

// RunParser is Layer 2: consumes lines at own pace.
//
// MUST run in dedicated goroutine. Blocks until lineChan is closed.
func (p *Pipeline) RunParser(parser LineParser) {
	for line := range p.lineChan {
		parser.ParseLine(line)
		atomic.AddInt64(&p.linesParsed, 1)
	}
}

// Stats returns pipeline health metrics: total lines read from the
// stream, lines dropped due to a full channel, and lines parsed.
func (p *Pipeline) Stats() (read, dropped, parsed int64) {
	return atomic.LoadInt64(&p.linesRead),
		atomic.LoadInt64(&p.linesDropped),
		atomic.LoadInt64(&p.linesParsed)
}

// DropRate returns the current drop rate as a fraction (0.0 to 1.0).
func (p *Pipeline) DropRate() float64 {
	read := atomic.LoadInt64(&p.linesRead)
	if read == 0 {
		return 0
	}
	dropped := atomic.LoadInt64(&p.linesDropped)
	return float64(dropped) / float64(read)
}

// IsDegraded returns true if the drop rate exceeds the configured threshold.
func (p *Pipeline) IsDegraded() bool {
	return p.DropRate() > p.dropThreshold
}

// StreamName returns "stdout" or "stderr".
func (p *Pipeline) StreamName() string {
	return p.streamName
}

// NoopParser is a parser that does nothing (for testing/placeholder use).
type NoopParser struct{}

// ParseLine does nothing.
func (NoopParser) ParseLine(string) {}

// FuncParser adapts a function to the LineParser interface.
type FuncParser func(line string)

// ParseLine calls the wrapped function.
func (f FuncParser) ParseLine(line string) { f(line) }

// MultiParser fans one line out to several parsers in order.
type MultiParser []LineParser

// ParseLine forwards the line to every parser.
func (m MultiParser) ParseLine(line string) {
	for _, p := range m {
		p.ParseLine(line)
	}
}
