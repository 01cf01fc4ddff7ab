// Package metrics holds the kiosk's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector the kiosk exports.
type Metrics struct {
	CaptureOutcomes   *prometheus.CounterVec
	DispatchDuration  *prometheus.HistogramVec
	GuardDecisions    *prometheus.CounterVec
	MalformedSlots    prometheus.Counter
	ScheduleCacheHits *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg leaves them
// unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CaptureOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kiosk",
			Name:      "capture_outcomes_total",
			Help:      "Capture runs by mode and terminal outcome.",
		}, []string{"mode", "outcome"}),
		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kiosk",
			Name:      "verification_dispatch_seconds",
			Help:      "Latency of verification service calls.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"mode"}),
		GuardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kiosk",
			Name:      "guard_decisions_total",
			Help:      "Route guard decisions by view class and action.",
		}, []string{"class", "action"}),
		MalformedSlots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kiosk",
			Name:      "schedule_malformed_labels_total",
			Help:      "Schedule labels that did not match the time-range pattern.",
		}),
		ScheduleCacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kiosk",
			Name:      "schedule_cache_lookups_total",
			Help:      "Schedule cache lookups by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.CaptureOutcomes,
			m.DispatchDuration,
			m.GuardDecisions,
			m.MalformedSlots,
			m.ScheduleCacheHits,
		)
	}
	return m
}

// ObserveCapture records a finished capture run.
func (m *Metrics) ObserveCapture(mode, outcome string) {
	if m == nil {
		return
	}
	m.CaptureOutcomes.WithLabelValues(mode, outcome).Inc()
}

// ObserveDispatch records how long a verification call took.
func (m *Metrics) ObserveDispatch(mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.DispatchDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// ObserveGuard records a route guard decision.
func (m *Metrics) ObserveGuard(class, action string) {
	if m == nil {
		return
	}
	m.GuardDecisions.WithLabelValues(class, action).Inc()
}

// ObserveMalformed counts n malformed schedule labels.
func (m *Metrics) ObserveMalformed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MalformedSlots.Add(float64(n))
}

// ObserveScheduleCache records a cache hit or miss.
func (m *Metrics) ObserveScheduleCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.ScheduleCacheHits.WithLabelValues(result).Inc()
}
