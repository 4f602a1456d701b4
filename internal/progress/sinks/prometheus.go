package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/shadowprobe/internal/progress"
)

// PrometheusSink exports run and probe counters. Site labels come from the
// catalog, so cardinality is bounded by its size.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   prometheus.Histogram

	probesTotal   *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shadowprobe_runs_started_total",
			Help: "Total probe runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shadowprobe_runs_completed_total",
			Help: "Total probe runs completed, by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shadowprobe_runs_running",
			Help: "Probe runs currently executing.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shadowprobe_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
		}),
		probesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shadowprobe_probes_total",
			Help: "Probe completions by site, outcome and status class.",
		}, []string{"site", "outcome", "status_class"}),
		probeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shadowprobe_probe_duration_seconds",
			Help:    "Probe latency by site.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"site"}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.probesTotal,
		s.probeDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			s.runsRunning.Inc()
		case progress.StageRunDone:
			s.finishRun("success", evt)
		case progress.StageRunError:
			s.finishRun("error", evt)
		case progress.StageProbeDone:
			site := evt.Site
			if site == "" {
				site = "unknown"
			}
			s.probesTotal.WithLabelValues(site, string(evt.Outcome), string(evt.StatusClass)).Inc()
			if evt.Dur > 0 {
				s.probeDuration.WithLabelValues(site).Observe(evt.Dur.Seconds())
			}
		}
	}
	return nil
}

func (s *PrometheusSink) finishRun(result string, evt progress.Event) {
	s.runsCompleted.WithLabelValues(result).Inc()
	s.runsRunning.Dec()
	if evt.Dur > 0 {
		s.runDuration.Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
