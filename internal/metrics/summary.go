package metrics

import (
	"sync"
	"time"

	"github.com/influxdata/tdigest"
)

// Summary accumulates duration samples for the end-of-run report.
// Percentiles use t-digests so memory stays bounded no matter how many
// pipeline modules or acquisition attempts a session runs.
type Summary struct {
	mu sync.Mutex

	start time.Time

	moduleDigest *tdigest.TDigest
	moduleCount  int

	attemptDigest *tdigest.TDigest
	attemptCount  int
}

// Percentiles is a snapshot of one duration distribution.
type Percentiles struct {
	Count int
	P50   time.Duration
	P95   time.Duration
	Max   time.Duration
}

// NewSummary creates a run summary starting now.
func NewSummary() *Summary {
	return &Summary{
		start:         time.Now(),
		moduleDigest:  tdigest.NewWithCompression(100),
		attemptDigest: tdigest.NewWithCompression(100),
	}
}

// RecordModuleDuration adds one pipeline module duration sample.
func (s *Summary) RecordModuleDuration(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moduleDigest.Add(float64(d.Nanoseconds()), 1)
	s.moduleCount++
}

// RecordAttemptDuration adds one acquisition attempt duration sample.
func (s *Summary) RecordAttemptDuration(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attemptDigest.Add(float64(d.Nanoseconds()), 1)
	s.attemptCount++
}

// ModulePercentiles returns the pipeline module duration distribution.
func (s *Summary) ModulePercentiles() Percentiles {
	s.mu.Lock()
	defer s.mu.Unlock()
	return digestPercentiles(s.moduleDigest, s.moduleCount)
}

// AttemptPercentiles returns the acquisition attempt duration
// distribution.
func (s *Summary) AttemptPercentiles() Percentiles {
	s.mu.Lock()
	defer s.mu.Unlock()
	return digestPercentiles(s.attemptDigest, s.attemptCount)
}

// RunDuration returns the elapsed time since the summary was created.
func (s *Summary) RunDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.start)
}

func digestPercentiles(d *tdigest.TDigest, count int) Percentiles {
	if count == 0 {
		return Percentiles{}
	}
	return Percentiles{
		Count: count,
		P50:   time.Duration(d.Quantile(0.50)),
		P95:   time.Duration(d.Quantile(0.95)),
		Max:   time.Duration(d.Quantile(1.0)),
	}
}
