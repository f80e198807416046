package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initGenerationMetrics(cfg Config) {
	m.iterations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "iterations_total",
		Help:      "Generation loop iterations",
	})

	m.generationTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_tokens_total",
			Help:      "Tokens billed by the generator by direction",
		},
		[]string{"direction"},
	)

	m.generationCost = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "generation_cost_dollars_total",
		Help:      "Estimated generation cost in dollars",
	})

	m.generationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "generation_duration_seconds",
		Help:      "Generation call latency",
		Buckets:   cfg.GenerationDurationBuckets,
	})

	m.registry.MustRegister(m.iterations)
	m.registry.MustRegister(m.generationTokens)
	m.registry.MustRegister(m.generationCost)
	m.registry.MustRegister(m.generationDuration)
}

// RecordIteration records one completed generation.
func (m *Manager) RecordIteration(inputTokens, outputTokens int, cost float64, d time.Duration) {
	if !m.Enabled() {
		return
	}
	m.iterations.Inc()
	m.generationTokens.WithLabelValues("input").Add(float64(inputTokens))
	m.generationTokens.WithLabelValues("output").Add(float64(outputTokens))
	m.generationCost.Add(cost)
	m.generationDuration.Observe(d.Seconds())
}
