// Package metrics registers the Prometheus collectors shared by the
// consensus pipeline's components. Grounded on the teacher's
// internal/metrics/metrics.go promauto-based collector style, rescoped to
// the consensus domain's own counters/histograms/gauges.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PricingFallbacks counts cost estimates that fell back to the default
	// per-token rate because the model was unknown or unspecified. Ported
	// directly from the teacher's pmetrics.PricingFallbacks.
	PricingFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensus_pricing_fallbacks_total",
			Help: "Cost estimates that used the default fallback rate",
		},
		[]string{"reason"},
	)

	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensus_upstream_requests_total",
			Help: "Upstream chat-completion requests by model and outcome",
		},
		[]string{"model", "outcome"},
	)

	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "consensus_upstream_latency_seconds",
			Help:    "Upstream call latency by model",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "consensus_circuit_breaker_state",
			Help: "Circuit breaker state per model (0=closed,1=half_open,2=open)",
		},
		[]string{"model"},
	)

	StageCost = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "consensus_stage_cost_usd",
			Help:    "Per-stage cost in USD",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"stage", "model"},
	)

	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "consensus_pipeline_duration_seconds",
			Help:    "End-to-end pipeline duration",
			Buckets: prometheus.DefBuckets,
		},
	)

	PipelineOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensus_pipeline_outcomes_total",
			Help: "Pipeline outcomes by result kind",
		},
		[]string{"outcome"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensus_events_dropped_total",
			Help: "Events dropped because a subscriber's channel was full",
		},
		[]string{"event_type"},
	)

	UsageDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensus_usage_denials_total",
			Help: "Usage-tracker admission denials by reason",
		},
		[]string{"reason"},
	)

	BudgetDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensus_budget_denials_total",
			Help: "Budget-tracker admission denials by reason",
		},
		[]string{"reason"},
	)
)
