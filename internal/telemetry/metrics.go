package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the optimizer.
type Metrics struct {
	RequestTotal      *prometheus.CounterVec
	RequestDurationMs *prometheus.HistogramVec
	CacheLookupMs     *prometheus.HistogramVec
	CacheHitTotal     *prometheus.CounterVec
	CacheMissTotal    *prometheus.CounterVec
	TokensTotal       *prometheus.CounterVec
	CostUSDTotal      *prometheus.CounterVec
	CostSavedUSDTotal *prometheus.CounterVec
	PolicyDenyTotal   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "semroute_request_total",
			Help: "Total requests processed by the optimizer.",
		}, []string{"org", "mode", "task", "outcome"}),

		RequestDurationMs: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "semroute_request_duration_ms",
			Help:    "End-to-end request duration in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"outcome", "model"}),

		CacheLookupMs: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "semroute_cache_lookup_ms",
			Help:    "Per-tier cache lookup duration in milliseconds.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250},
		}, []string{"tier"}),

		CacheHitTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "semroute_cache_hit_total",
			Help: "Cache hits by tier.",
		}, []string{"tier", "task"}),

		CacheMissTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "semroute_cache_miss_total",
			Help: "Cache misses by tier.",
		}, []string{"tier", "reason"}),

		TokensTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "semroute_tokens_total",
			Help: "Tokens sent to and received from providers.",
		}, []string{"model", "direction"}),

		CostUSDTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "semroute_cost_usd_total",
			Help: "Estimated provider spend in USD.",
		}, []string{"org", "model", "provider"}),

		CostSavedUSDTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "semroute_cost_saved_usd_total",
			Help: "Estimated spend avoided by cache hits in USD.",
		}, []string{"org", "tier"}),

		PolicyDenyTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "semroute_policy_deny_total",
			Help: "Cache admissions denied by policy.",
		}, []string{"tier", "operation"}),
	}
}

// RequestLabels holds the values recorded for one completed request.
type RequestLabels struct {
	Org          string
	Mode         string
	Task         string
	Outcome      string // tier name on a hit, "computed" on a miss, "error" on failure
	Model        string
	Provider     string
	DurationMs   float64
	TokensIn     int
	TokensOut    int
	CostUSD      float64
	CostSavedUSD float64
}

// RecordRequest records metrics for a completed request.
func (m *Metrics) RecordRequest(labels RequestLabels) {
	m.RequestTotal.WithLabelValues(labels.Org, labels.Mode, labels.Task, labels.Outcome).Inc()
	m.RequestDurationMs.WithLabelValues(labels.Outcome, labels.Model).Observe(labels.DurationMs)

	if labels.TokensIn > 0 {
		m.TokensTotal.WithLabelValues(labels.Model, "input").Add(float64(labels.TokensIn))
	}
	if labels.TokensOut > 0 {
		m.TokensTotal.WithLabelValues(labels.Model, "output").Add(float64(labels.TokensOut))
	}
	if labels.CostUSD > 0 {
		m.CostUSDTotal.WithLabelValues(labels.Org, labels.Model, labels.Provider).Add(labels.CostUSD)
	}
	if labels.CostSavedUSD > 0 {
		m.CostSavedUSDTotal.WithLabelValues(labels.Org, labels.Outcome).Add(labels.CostSavedUSD)
	}
}

// RecordCacheHit records a hit on the given tier.
func (m *Metrics) RecordCacheHit(tier, taskType string) {
	m.CacheHitTotal.WithLabelValues(tier, taskType).Inc()
}

// RecordCacheMiss records a miss on the given tier with its reason class.
func (m *Metrics) RecordCacheMiss(tier, reason string) {
	m.CacheMissTotal.WithLabelValues(tier, reason).Inc()
}

// RecordCacheLookup records a tier lookup latency.
func (m *Metrics) RecordCacheLookup(tier string, ms float64) {
	m.CacheLookupMs.WithLabelValues(tier).Observe(ms)
}

// RecordPolicyDeny records a cache admission denial.
func (m *Metrics) RecordPolicyDeny(tier, operation string) {
	m.PolicyDenyTotal.WithLabelValues(tier, operation).Inc()
}
