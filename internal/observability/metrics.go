package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agent_safe_grid"

// Metrics holds every collector the gateway records into. A nil *Metrics
// is valid and records nothing, which keeps tests and tools free of setup.
type Metrics struct {
	registry *prometheus.Registry

	policyEvaluations   *prometheus.CounterVec
	enforcementDuration prometheus.Histogram
	meteringTokens      prometheus.Counter
	meteringCost        prometheus.Counter
	auditEntries        *prometheus.CounterVec
	modelRequests       *prometheus.CounterVec
	modelLatency        *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them. A nil registry
// gets a fresh one.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		policyEvaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_evaluations_total",
				Help:      "Rule evaluations by rule type and resulting action",
			},
			[]string{"rule_type", "action"},
		),
		enforcementDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "policy_enforcement_duration_seconds",
				Help:      "Time spent enforcing a tenant policy on one message",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 15), // 10µs to ~160ms
			},
		),
		meteringTokens: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metering_tokens_total",
				Help:      "Tokens debited across all tenants",
			},
		),
		meteringCost: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metering_cost_total",
				Help:      "Cost debited across all tenants",
			},
		),
		auditEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_entries_total",
				Help:      "Audit entries appended by action and status",
			},
			[]string{"action", "status"},
		),
		modelRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_requests_total",
				Help:      "Model adapter calls by provider and outcome",
			},
			[]string{"provider", "status"},
		),
		modelLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "model_request_duration_seconds",
				Help:      "Model adapter call latency",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"provider"},
		),
	}

	registry.MustRegister(
		m.policyEvaluations,
		m.enforcementDuration,
		m.meteringTokens,
		m.meteringCost,
		m.auditEntries,
		m.modelRequests,
		m.modelLatency,
	)
	return m
}

// ObserveRuleEvaluation counts one rule verdict
func (m *Metrics) ObserveRuleEvaluation(ruleType, action string) {
	if m == nil {
		return
	}
	m.policyEvaluations.WithLabelValues(ruleType, action).Inc()
}

// ObserveEnforcement records the duration of one Enforce call
func (m *Metrics) ObserveEnforcement(d time.Duration) {
	if m == nil {
		return
	}
	m.enforcementDuration.Observe(d.Seconds())
}

// RecordUsage adds a ledger debit
func (m *Metrics) RecordUsage(tokens int64, cost float64) {
	if m == nil {
		return
	}
	m.meteringTokens.Add(float64(tokens))
	if cost > 0 {
		m.meteringCost.Add(cost)
	}
}

// RecordAuditEntry counts an appended audit entry
func (m *Metrics) RecordAuditEntry(action, status string) {
	if m == nil {
		return
	}
	m.auditEntries.WithLabelValues(action, status).Inc()
}

// RecordModelCall counts a model call and its latency
func (m *Metrics) RecordModelCall(provider, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.modelRequests.WithLabelValues(provider, status).Inc()
	m.modelLatency.WithLabelValues(provider).Observe(d.Seconds())
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
