// Package metrics exposes reschedule activity to Prometheus.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"workcal/internal/schedule"
)

// Recorder records the outcome of reschedule runs.
type Recorder struct {
	runs     *prometheus.CounterVec
	events   *prometheus.CounterVec
	duration prometheus.Histogram
	size     prometheus.Gauge
}

// NewRecorder registers the collectors on reg (the default registerer when
// nil). Registering twice on the same registry reuses the existing
// collectors.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workcal_reschedule_runs_total",
		Help: "Reschedule runs by trigger and outcome",
	}, []string{"trigger", "outcome"})
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workcal_events_total",
		Help: "Events seen by the scheduler, by what happened to them",
	}, []string{"trigger", "placement"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "workcal_reschedule_duration_seconds",
		Help:    "Wall time of a reschedule run",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	})
	size := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "workcal_schedule_events",
		Help: "Number of events in the last feed schedule",
	})

	var err error
	if runs, err = register(reg, runs); err != nil {
		return nil, err
	}
	if events, err = register(reg, events); err != nil {
		return nil, err
	}
	if duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	if size, err = register(reg, size); err != nil {
		return nil, err
	}

	return &Recorder{runs: runs, events: events, duration: duration, size: size}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Observe records one run. trigger names what started it, e.g. "cli",
// "api" or "refresh".
func (r *Recorder) Observe(trigger string, res schedule.Result, err error, took time.Duration) {
	if r == nil {
		return
	}
	r.duration.Observe(took.Seconds())
	if err != nil {
		r.runs.WithLabelValues(trigger, "error").Inc()
		return
	}
	r.runs.WithLabelValues(trigger, "ok").Inc()

	r.events.WithLabelValues(trigger, "kept").Add(float64(res.Kept))
	moved := 0
	for _, rel := range res.Relocations {
		if rel.Moved() {
			moved++
		}
	}
	r.events.WithLabelValues(trigger, "relocated").Add(float64(moved))
	r.events.WithLabelValues(trigger, "unchanged_displaced").Add(float64(len(res.Relocations) - moved))
}

// ObserveInvalid records a run whose schedule failed verification. The run
// was already counted by Observe; this adds an "invalid" outcome on top.
func (r *Recorder) ObserveInvalid(trigger string) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(trigger, "invalid").Inc()
}

// SetScheduleSize records the length of the schedule currently served.
func (r *Recorder) SetScheduleSize(n int) {
	if r == nil {
		return
	}
	r.size.Set(float64(n))
}
