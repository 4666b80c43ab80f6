package prompt

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStdinPrompter_Ask(t *testing.T) {
	tests := []struct {
		name  string
		input string
		def   string
		want  string
	}{
		{"answer provided", "mouse-42\n", "default", "mouse-42"},
		{"empty line returns default", "\n", "default", "default"},
		{"whitespace trimmed", "  mouse-42  \n", "default", "mouse-42"},
		{"closed stdin returns default", "", "default", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			p := NewStdinPrompterWithStreams(strings.NewReader(tt.input), &out, newTestLogger())

			if got := p.Ask("subject id", tt.def); got != tt.want {
				t.Errorf("Ask() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStdinPrompter_AskNeverFailsAfterEOF(t *testing.T) {
	var out bytes.Buffer
	p := NewStdinPrompterWithStreams(strings.NewReader(""), &out, newTestLogger())

	// Repeated prompts on closed stdin must all return defaults without
	// blocking or panicking.
	for i := 0; i < 5; i++ {
		if got := p.Ask("field", "fallback"); got != "fallback" {
			t.Fatalf("Ask() after EOF = %q, want fallback", got)
		}
	}
}

func TestStdinPrompter_Confirm(t *testing.T) {
	tests := []struct {
		name  string
		input string
		def   bool
		want  bool
	}{
		{"yes", "y\n", false, true},
		{"YES word", "yes\n", false, true},
		{"no", "n\n", true, false},
		{"empty uses default true", "\n", true, true},
		{"empty uses default false", "\n", false, false},
		{"garbage uses default", "maybe\n", false, false},
		{"eof uses default", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			p := NewStdinPrompterWithStreams(strings.NewReader(tt.input), &out, newTestLogger())

			if got := p.Confirm("retry acquisition?", tt.def); got != tt.want {
				t.Errorf("Confirm() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScripted(t *testing.T) {
	s := &Scripted{
		Answers:  []string{"answer1", ""},
		Confirms: []bool{true, false},
	}

	if got := s.Ask("q1", "d"); got != "answer1" {
		t.Errorf("Ask 1 = %q", got)
	}
	if got := s.Ask("q2", "d"); got != "d" {
		t.Errorf("Ask 2 = %q, want default for empty scripted answer", got)
	}
	if got := s.Ask("q3", "d"); got != "d" {
		t.Errorf("Ask 3 = %q, want default after script exhausted", got)
	}
	if !s.Confirm("c1", false) {
		t.Error("Confirm 1 should be true")
	}
	if s.Confirm("c2", true) {
		t.Error("Confirm 2 should be false")
	}
	if s.AskCount() != 3 {
		t.Errorf("AskCount() = %d, want 3", s.AskCount())
	}
}
