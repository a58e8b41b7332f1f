// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry prometheus.Gatherer

	TicksTotal      *prometheus.CounterVec
	TickErrors      *prometheus.CounterVec
	TickDuration    prometheus.Histogram
	RulesTriggered  *prometheus.CounterVec
	OrdersTotal     *prometheus.CounterVec
	ActiveInstances prometheus.Gauge
	EmergencyStops  prometheus.Counter
	SweepRuns       *prometheus.CounterVec
	BacktestRuns    prometheus.Counter
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "autotrader"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		TicksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "ticks_total",
			Help:      "Strategy ticks run, by strategy",
		}, []string{"strategy"}),
		TickErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "tick_errors_total",
			Help:      "Strategy ticks that failed, by strategy",
		}, []string{"strategy"}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one strategy tick",
			Buckets:   prometheus.DefBuckets,
		}),
		RulesTriggered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "triggered_total",
			Help:      "Rules selected after conflict resolution, by rule type",
		}, []string{"rule_type"}),
		OrdersTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "orders_total",
			Help:      "Orders reaching a status, by status and side",
		}, []string{"status", "side"}),
		ActiveInstances: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "active_instances",
			Help:      "Strategy instances currently deployed",
		}),
		EmergencyStops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "emergency_stops_total",
			Help:      "Emergency stops triggered by drawdown",
		}),
		SweepRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "sweep_runs_total",
			Help:      "Maintenance sweeps run, by sweep and outcome",
		}, []string{"sweep", "outcome"}),
		BacktestRuns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "runs_total",
			Help:      "Backtests completed",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordTick(strategy string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.TicksTotal.WithLabelValues(strategy).Inc()
	m.TickDuration.Observe(seconds)
	if err != nil {
		m.TickErrors.WithLabelValues(strategy).Inc()
	}
}

func (m *Metrics) RecordRuleTriggered(ruleType string) {
	if m == nil {
		return
	}
	m.RulesTriggered.WithLabelValues(ruleType).Inc()
}

func (m *Metrics) RecordOrder(status, side string) {
	if m == nil {
		return
	}
	m.OrdersTotal.WithLabelValues(status, side).Inc()
}

func (m *Metrics) SetActiveInstances(n int) {
	if m == nil {
		return
	}
	m.ActiveInstances.Set(float64(n))
}

func (m *Metrics) RecordEmergencyStop() {
	if m == nil {
		return
	}
	m.EmergencyStops.Inc()
}

func (m *Metrics) RecordSweep(sweep string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.SweepRuns.WithLabelValues(sweep, outcome).Inc()
}

func (m *Metrics) RecordBacktest() {
	if m == nil {
		return
	}
	m.BacktestRuns.Inc()
}
