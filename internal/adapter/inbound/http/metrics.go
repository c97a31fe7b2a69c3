// Package http holds the Prometheus metrics exposed beside the control
// surface.
package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the security core. Pass to
// components that need to record metrics.
type Metrics struct {
	PolicyEvaluations   *prometheus.CounterVec
	RateLimitRefusals   *prometheus.CounterVec
	InjectionDetections prometheus.Counter
	BudgetViolations    *prometheus.CounterVec
	AuditEntries        prometheus.Counter
	PendingPreviews     prometheus.Gauge
	QuarantineEntries   prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		PolicyEvaluations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clawguard",
				Name:      "policy_evaluations_total",
				Help:      "Total policy evaluations",
			},
			[]string{"result"}, // allow / require_confirmation / deny
		),
		RateLimitRefusals: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clawguard",
				Name:      "rate_limit_refusals_total",
				Help:      "Rate limiter refusals by tier",
			},
			[]string{"tier"}, // message / tool / llm
		),
		InjectionDetections: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "clawguard",
				Name:      "injection_detections_total",
				Help:      "Prompt injection patterns detected in quarantined content",
			},
		),
		BudgetViolations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clawguard",
				Name:      "budget_violations_total",
				Help:      "Budget violations by action taken",
			},
			[]string{"action"}, // block / warn
		),
		AuditEntries: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "clawguard",
				Name:      "audit_entries_total",
				Help:      "Audit entries written",
			},
		),
		PendingPreviews: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "clawguard",
				Name:      "pending_previews",
				Help:      "Action previews awaiting approval",
			},
		),
		QuarantineEntries: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "clawguard",
				Name:      "quarantine_entries",
				Help:      "Entries currently in quarantine",
			},
		),
	}
}
