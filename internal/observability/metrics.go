// Package observability exposes the Prometheus metrics this engine emits:
// run and step outcome counters and a locator-strategy latency histogram.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the counters and histograms the Run Engine and Smart
// Element Locator emit during execution.
//
// Usage:
//
//	m := observability.NewMetrics()
//	m.RunFinished("manual", "completed")
//	m.StepExecuted("click", "completed")
//	m.ObserveLocatorStrategy("pattern_table", elapsed)
type Metrics struct {
	// RunsTotal counts Runs by trigger and terminal status.
	// Labels: trigger (manual|scheduled|webhook), outcome (completed|failed|cancelled)
	RunsTotal *prometheus.CounterVec

	// StepsTotal counts Steps by action and terminal status.
	// Labels: action (navigate|click|type|extract|wait|conditional),
	// outcome (completed|failed|skipped|healed)
	StepsTotal *prometheus.CounterVec

	// LocatorStrategyDuration measures how long the winning (or
	// exhausted) Smart Element Locator strategy took, in seconds.
	// Labels: strategy
	LocatorStrategyDuration *prometheus.HistogramVec
}

// NewMetrics constructs a Metrics and registers its series with the global
// default Prometheus registry.
func NewMetrics() *Metrics {
	return &Metrics{
		RunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runengine_runs_total",
				Help: "Total number of workflow runs by trigger and terminal outcome",
			},
			[]string{"trigger", "outcome"},
		),

		StepsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runengine_steps_total",
				Help: "Total number of workflow steps by action and terminal outcome",
			},
			[]string{"action", "outcome"},
		),

		LocatorStrategyDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "runengine_locator_strategy_duration_seconds",
				Help:    "Duration of the Smart Element Locator cascade by winning strategy",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"strategy"},
		),
	}
}

// RunFinished records a Run's terminal outcome.
func (m *Metrics) RunFinished(trigger, outcome string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(trigger, outcome).Inc()
}

// StepExecuted records a Step's terminal outcome.
func (m *Metrics) StepExecuted(action, outcome string) {
	if m == nil {
		return
	}
	m.StepsTotal.WithLabelValues(action, outcome).Inc()
}

// ObserveLocatorStrategy records how long strategy took to resolve (or
// exhaust) the cascade. Satisfies internal/locator.Recorder.
func (m *Metrics) ObserveLocatorStrategy(strategy string, d time.Duration) {
	if m == nil {
		return
	}
	m.LocatorStrategyDuration.WithLabelValues(strategy).Observe(d.Seconds())
}
