package llm

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	llmRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_requests_total",
			Help: "Total number of OpenRouter calls by outcome",
		},
		[]string{"model", "status"},
	)

	llmRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "OpenRouter call duration in seconds, retries included",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"model"},
	)

	llmTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_used_total",
			Help: "Total LLM tokens reported by the provider",
		},
		[]string{"type"},
	)
)

func recordCall(model, status string, d time.Duration) {
	llmRequestsTotal.WithLabelValues(model, status).Inc()
	llmRequestDuration.WithLabelValues(model).Observe(d.Seconds())
}

func recordTokens(u Usage) {
	llmTokensUsed.WithLabelValues("input").Add(float64(u.TokensIn))
	llmTokensUsed.WithLabelValues("output").Add(float64(u.TokensOut))
}
