package metrics

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// gather returns the metric families from a registry keyed by name.
func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func TestCollector_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SetInfo("1.2.3", "rig-03", "M042")
	c.SetPhase("acquisition")
	c.ModuleCompleted("pre_acquisition", true)
	c.ModuleCompleted("pre_acquisition", false)
	c.ModuleCompleted("post_acquisition", true)
	c.ProcessStarted()
	c.ProcessStarted()
	c.ProcessRetried()
	c.ProcessExited(0)
	c.ProcessExited(1)
	c.SetUptime(12.5)

	families := gather(t, reg)

	if _, ok := families["rig_launcher_info"]; !ok {
		t.Error("rig_launcher_info not registered")
	}

	modules := families["rig_launcher_pipeline_modules_total"]
	if modules == nil {
		t.Fatal("pipeline modules metric missing")
	}
	if len(modules.Metric) != 3 {
		t.Errorf("pipeline module series = %d, want 3", len(modules.Metric))
	}

	starts := families["rig_launcher_process_starts_total"]
	if starts == nil || starts.Metric[0].GetCounter().GetValue() != 2 {
		t.Error("process starts counter wrong")
	}

	uptime := families["rig_launcher_acquisition_uptime_seconds"]
	if uptime == nil || uptime.Metric[0].GetGauge().GetValue() != 12.5 {
		t.Error("uptime gauge wrong")
	}
}

func TestCollector_PhaseTransition(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SetPhase("init")
	c.SetPhase("acquisition")

	families := gather(t, reg)
	phase := families["rig_launcher_phase"]
	if phase == nil {
		t.Fatal("phase metric missing")
	}

	values := make(map[string]float64)
	for _, m := range phase.Metric {
		for _, l := range m.Label {
			if l.GetName() == "phase" {
				values[l.GetValue()] = m.GetGauge().GetValue()
			}
		}
	}

	if values["init"] != 0 {
		t.Errorf("previous phase gauge = %v, want 0", values["init"])
	}
	if values["acquisition"] != 1 {
		t.Errorf("active phase gauge = %v, want 1", values["acquisition"])
	}
}

func TestSummary_Percentiles(t *testing.T) {
	s := NewSummary()

	for i := 1; i <= 100; i++ {
		s.RecordModuleDuration(time.Duration(i) * time.Millisecond)
	}

	p := s.ModulePercentiles()
	if p.Count != 100 {
		t.Errorf("Count = %d, want 100", p.Count)
	}
	if p.P50 < 40*time.Millisecond || p.P50 > 60*time.Millisecond {
		t.Errorf("P50 = %v, want ~50ms", p.P50)
	}
	if p.P95 < 90*time.Millisecond || p.P95 > 100*time.Millisecond {
		t.Errorf("P95 = %v, want ~95ms", p.P95)
	}
	if p.Max < 99*time.Millisecond {
		t.Errorf("Max = %v, want ~100ms", p.Max)
	}
}

func TestSummary_Empty(t *testing.T) {
	s := NewSummary()
	p := s.AttemptPercentiles()
	if p.Count != 0 || p.P50 != 0 {
		t.Errorf("empty summary percentiles = %+v", p)
	}
}

func TestSummary_RunDuration(t *testing.T) {
	s := NewSummary()
	time.Sleep(20 * time.Millisecond)
	if d := s.RunDuration(); d < 20*time.Millisecond {
		t.Errorf("RunDuration() = %v", d)
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	s := NewServer("127.0.0.1:0", newTestLogger())
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error: %v", err)
	}

	if !strings.Contains(s.Addr(), "127.0.0.1") {
		t.Errorf("Addr() = %q", s.Addr())
	}
}
