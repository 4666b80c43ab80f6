package stream

import (
	"strings"
	"sync"
)

// Matcher watches a stream for a configured set of patterns. The first
// matching line trips the matcher exactly once. The supervisor uses one
// matcher for fatal-error patterns on stderr (trip = terminate
// immediately, independent of exit code) and optionally another for the
// expected startup line on stdout (trip = startup confirmed).
//
// Matching is case-insensitive substring containment.
type Matcher struct {
	patterns []string
	next     LineParser // optional downstream parser

	tripped  chan struct{}
	tripOnce sync.Once

	mu      sync.Mutex
	pattern string // pattern that matched
	line    string // line that matched
}

// NewMatcher creates a matcher for the given patterns. An optional next
// parser receives every line, matched or not, so the matcher can sit in
// front of the stderr handler.
func NewMatcher(patterns []string, next LineParser) *Matcher {
	return &Matcher{
		patterns: patterns,
		next:     next,
		tripped:  make(chan struct{}),
	}
}

// ParseLine implements LineParser.
func (m *Matcher) ParseLine(line string) {
	if m.next != nil {
		m.next.ParseLine(line)
	}

	lower := strings.ToLower(line)
	for _, pattern := range m.patterns {
		if pattern == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(pattern)) {
			m.trip(pattern, line)
			return
		}
	}
}

func (m *Matcher) trip(pattern, line string) {
	m.tripOnce.Do(func() {
		m.mu.Lock()
		m.pattern = pattern
		m.line = line
		m.mu.Unlock()
		close(m.tripped)
	})
}

// Tripped returns a channel closed on the first match.
func (m *Matcher) Tripped() <-chan struct{} {
	return m.tripped
}

// Match returns the pattern and line of the first match, or empty strings
// if the matcher has not tripped.
func (m *Matcher) Match() (pattern, line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pattern, m.line
}
