// Package prompt provides operator prompting for the launcher.
//
// Prompts block the calling goroutine. Every implementation must tolerate a
// non-interactive environment: when stdin is closed or unavailable, the
// supplied default is returned and the condition is logged, never raised.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Prompter asks the operator for input.
type Prompter interface {
	// Ask prompts for a free-form value. Returns def when no input is
	// available or the operator enters an empty line.
	Ask(label, def string) string

	// Confirm asks a yes/no question. Returns def when no input is available.
	Confirm(question string, def bool) bool
}

// StdinPrompter reads operator answers from a reader (normally os.Stdin)
// and writes prompts to a writer (normally os.Stderr, so prompts remain
// visible when stdout is redirected).
type StdinPrompter struct {
	in     *bufio.Reader
	out    io.Writer
	logger *slog.Logger

	mu  sync.Mutex
	eof bool
}

// NewStdinPrompter creates a prompter on os.Stdin/os.Stderr.
func NewStdinPrompter(logger *slog.Logger) *StdinPrompter {
	return NewStdinPrompterWithStreams(os.Stdin, os.Stderr, logger)
}

// NewStdinPrompterWithStreams creates a prompter on custom streams.
// Useful for testing.
func NewStdinPrompterWithStreams(in io.Reader, out io.Writer, logger *slog.Logger) *StdinPrompter {
	return &StdinPrompter{
		in:     bufio.NewReader(in),
		out:    out,
		logger: logger,
	}
}

// Ask implements Prompter.
func (p *StdinPrompter) Ask(label, def string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.eof {
		return def
	}

	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}

	line, err := p.in.ReadString('\n')
	if err != nil {
		// Closed stdin or EOF: fall back to the default and remember the
		// condition so later prompts do not spin on a dead reader.
		p.eof = true
		p.logger.Warn("prompt_input_unavailable", "label", label, "default", def, "error", err)
		return def
	}

	answer := strings.TrimSpace(line)
	if answer == "" {
		return def
	}
	return answer
}

// Confirm implements Prompter.
func (p *StdinPrompter) Confirm(question string, def bool) bool {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}

	answer := p.Ask(fmt.Sprintf("%s (%s)", question, hint), "")
	if answer == "" {
		return def
	}

	switch strings.ToLower(answer) {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	default:
		return def
	}
}

// Null is a prompter that always returns the default. Used in
// non-interactive mode.
type Null struct{}

// Ask implements Prompter.
func (Null) Ask(label, def string) string { return def }

// Confirm implements Prompter.
func (Null) Confirm(question string, def bool) bool { return def }

// Scripted is a prompter that replays canned answers in order.
// Useful for testing. After the script is exhausted it behaves like Null.
type Scripted struct {
	Answers  []string
	Confirms []bool

	mu       sync.Mutex
	askIdx   int
	confIdx  int
	AskLog   []string
	ConfLog  []string
	askCalls int
}

// Ask implements Prompter.
func (s *Scripted) Ask(label, def string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.AskLog = append(s.AskLog, label)
	s.askCalls++
	if s.askIdx >= len(s.Answers) {
		return def
	}
	answer := s.Answers[s.askIdx]
	s.askIdx++
	if answer == "" {
		return def
	}
	return answer
}

// Confirm implements Prompter.
func (s *Scripted) Confirm(question string, def bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ConfLog = append(s.ConfLog, question)
	if s.confIdx >= len(s.Confirms) {
		return def
	}
	answer := s.Confirms[s.confIdx]
	s.confIdx++
	return answer
}

// AskCount returns how many times Ask was invoked.
func (s *Scripted) AskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.askCalls
}
