// Package metrics exposes Prometheus instruments for the generation pipeline.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	providerAttempts *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	generations      *prometheus.CounterVec
	overrides        *prometheus.CounterVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		providerAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jai",
			Name:      "provider_attempts_total",
			Help:      "Total number of LLM provider calls.",
		}, []string{"provider", "result"}),
		providerLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jai",
			Name:      "provider_latency_seconds",
			Help:      "Latency distribution for LLM provider calls.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 45, 90},
		}, []string{"provider", "result"}),
		generations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jai",
			Name:      "generations_total",
			Help:      "Total number of assistant turns by outcome.",
		}, []string{"outcome"}),
		overrides: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jai",
			Name:      "override_decisions_total",
			Help:      "Custom override decisions by mode and kind.",
		}, []string{"mode", "kind"}),
	}
})

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func ObserveProviderAttempt(provider string, took time.Duration, err error) {
	m := metricsSingleton()
	result := resultLabel(err)
	m.providerAttempts.WithLabelValues(provider, result).Inc()
	m.providerLatency.WithLabelValues(provider, result).Observe(took.Seconds())
}

func IncGeneration(outcome string) {
	metricsSingleton().generations.WithLabelValues(outcome).Inc()
}

func IncOverrideDecision(mode, kind string) {
	metricsSingleton().overrides.WithLabelValues(mode, kind).Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
