// Package metrics provides Prometheus metrics for go-rig-launcher.
//
// The launcher is a short-lived process, so the metrics surface is small:
// enough for a scrape during long acquisitions and for rig-fleet
// dashboards that watch launcher outcomes.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns the launcher's Prometheus metrics.
type Collector struct {
	info            *prometheus.GaugeVec
	phase           *prometheus.GaugeVec
	pipelineModules *prometheus.CounterVec
	processStarts   prometheus.Counter
	processRetries  prometheus.Counter
	processExits    *prometheus.CounterVec
	uptimeSeconds   prometheus.Gauge

	mu        sync.Mutex
	lastPhase string
}

// NewCollector creates and registers the launcher metrics. A nil
// registerer uses the default registry; tests pass their own.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		info: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rig_launcher_info",
				Help: "Information about the launcher run (value always 1)",
			},
			[]string{"version", "rig_id", "subject_id"},
		),
		phase: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rig_launcher_phase",
				Help: "Current launcher phase (1 for the active phase)",
			},
			[]string{"phase"},
		),
		pipelineModules: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rig_launcher_pipeline_modules_total",
				Help: "Pipeline modules executed, by stage and status",
			},
			[]string{"stage", "status"},
		),
		processStarts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rig_launcher_process_starts_total",
				Help: "Acquisition process start attempts",
			},
		),
		processRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rig_launcher_process_retries_total",
				Help: "Acquisition process retries after failure",
			},
		),
		processExits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rig_launcher_process_exits_total",
				Help: "Acquisition process exits, by exit code",
			},
			[]string{"exit_code"},
		),
		uptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rig_launcher_acquisition_uptime_seconds",
				Help: "Uptime of the current acquisition process",
			},
		),
	}

	reg.MustRegister(
		c.info,
		c.phase,
		c.pipelineModules,
		c.processStarts,
		c.processRetries,
		c.processExits,
		c.uptimeSeconds,
	)
	return c
}

// SetInfo records the run identity labels.
func (c *Collector) SetInfo(version, rigID, subjectID string) {
	c.info.WithLabelValues(version, rigID, subjectID).Set(1)
}

// SetPhase marks the active launcher phase.
func (c *Collector) SetPhase(phase string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastPhase != "" {
		c.phase.WithLabelValues(c.lastPhase).Set(0)
	}
	c.phase.WithLabelValues(phase).Set(1)
	c.lastPhase = phase
}

// ModuleCompleted counts one pipeline module outcome.
func (c *Collector) ModuleCompleted(stage string, succeeded bool) {
	status := "failed"
	if succeeded {
		status = "success"
	}
	c.pipelineModules.WithLabelValues(stage, status).Inc()
}

// ProcessStarted counts an acquisition start attempt.
func (c *Collector) ProcessStarted() {
	c.processStarts.Inc()
}

// ProcessRetried counts an acquisition retry.
func (c *Collector) ProcessRetried() {
	c.processRetries.Inc()
}

// ProcessExited counts an acquisition exit by code.
func (c *Collector) ProcessExited(exitCode int) {
	c.processExits.WithLabelValues(strconv.Itoa(exitCode)).Inc()
}

// SetUptime reports the current acquisition uptime in seconds.
func (c *Collector) SetUptime(seconds float64) {
	c.uptimeSeconds.Set(seconds)
}
