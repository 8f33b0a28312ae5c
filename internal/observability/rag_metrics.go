package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RAGMetrics instruments the answer pipeline. Labels are limited to the
// provider name, a cache result and a pipeline stage so cardinality stays
// bounded. A nil *RAGMetrics is valid and records nothing.
type RAGMetrics struct {
	cacheLookups     *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	creditsSpent     *prometheus.CounterVec
	creditRejections prometheus.Counter
	stageFailures    *prometheus.CounterVec
	truncations      prometheus.Counter
}

// NewRAGMetrics creates the collectors and registers them with reg. A nil
// reg uses prometheus.DefaultRegisterer.
func NewRAGMetrics(reg prometheus.Registerer) *RAGMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &RAGMetrics{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_cache_lookups_total",
			Help: "Response cache lookups by result (hit, miss, error).",
		}, []string{"result"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rag_provider_request_duration_seconds",
			Help:    "Language model call duration in seconds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"provider", "outcome"}),
		creditsSpent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_credits_spent_total",
			Help: "Credits deducted for generated answers.",
		}, []string{"provider"}),
		creditRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rag_credit_rejections_total",
			Help: "Requests blocked by the credit gate.",
		}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_stage_failures_total",
			Help: "Answer pipeline failures by stage.",
		}, []string{"stage"}),
		truncations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rag_prompt_truncations_total",
			Help: "Prompts shortened to fit the provider budget.",
		}),
	}
	reg.MustRegister(m.cacheLookups, m.providerLatency, m.creditsSpent,
		m.creditRejections, m.stageFailures, m.truncations)
	return m
}

// CacheLookup records a lookup result: "hit", "miss" or "error".
func (m *RAGMetrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ProviderCall records one language model call.
func (m *RAGMetrics) ProviderCall(provider string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.providerLatency.WithLabelValues(provider, outcome).Observe(d.Seconds())
}

// CreditsSpent adds a deducted amount.
func (m *RAGMetrics) CreditsSpent(provider string, amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.creditsSpent.WithLabelValues(provider).Add(amount)
}

// CreditRejected counts a request blocked by the credit gate.
func (m *RAGMetrics) CreditRejected() {
	if m == nil {
		return
	}
	m.creditRejections.Inc()
}

// StageFailed counts a failure at stage.
func (m *RAGMetrics) StageFailed(stage string) {
	if m == nil {
		return
	}
	m.stageFailures.WithLabelValues(stage).Inc()
}

// PromptTruncated counts a truncated prompt.
func (m *RAGMetrics) PromptTruncated() {
	if m == nil {
		return
	}
	m.truncations.Inc()
}
