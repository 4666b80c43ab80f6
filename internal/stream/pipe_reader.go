package stream

import (
	"bufio"
	"io"
	"sync/atomic"
	"unicode/utf8"
)

// PipeReader reads lines from a process output pipe (cmd.StdoutPipe() or
// cmd.StderrPipe()) and feeds them to a Pipeline.
type PipeReader struct {
	reader   io.Reader
	pipeline *Pipeline
	closed   atomic.Bool

	// Stats (atomic for thread-safety)
	bytesRead atomic.Int64
	linesRead atomic.Int64
}

// NewPipeReader creates a new pipe-based line source.
func NewPipeReader(r io.Reader, pipeline *Pipeline) *PipeReader {
	return &PipeReader{
		reader:   r,
		pipeline: pipeline,
	}
}

// Run reads lines until EOF. MUST run in a dedicated goroutine and
// closes the pipeline channel on exit so the parser terminates.
func (p *PipeReader) Run() {
	defer p.pipeline.CloseChannel()

	scanner := bufio.NewScanner(p.reader)

	// Use a larger buffer for long output lines
	const maxLineSize = 64 * 1024
	scanner.Buffer(make([]byte, maxLineSize), 1024*1024)

	for scanner.Scan() {
		line := decodeLine(scanner.Bytes())
		p.bytesRead.Add(int64(len(line) + 1)) // +1 for newline
		p.linesRead.Add(1)
		p.pipeline.FeedLine(line)
	}
}

// Close marks the reader as closed. The underlying reader is closed by
// the process exiting.
func (p *PipeReader) Close() error {
	p.closed.Store(true)
	return nil
}

// Stats returns (bytesRead, linesRead, healthy).
func (p *PipeReader) Stats() (bytesRead int64, linesRead int64, healthy bool) {
	return p.bytesRead.Load(),
		p.linesRead.Load(),
		!p.closed.Load()
}

// decodeLine converts raw bytes to a string, replacing invalid UTF-8
// sequences instead of propagating them. Acquisition software is not
// guaranteed to emit clean UTF-8 on its error streams.
func decodeLine(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}

	out := make([]rune, 0, len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size == 1 {
			out = append(out, '�')
		} else {
			out = append(out, r)
		}
		b = b[size:]
	}
	return string(out)
}
