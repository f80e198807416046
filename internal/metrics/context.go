package metrics

import "github.com/prometheus/client_golang/prometheus"

func (m *Manager) initContextMetrics(cfg Config) {
	m.contextTokens = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "context_tokens",
		Help:      "Token size of built contexts",
		Buckets:   cfg.ContextTokenBuckets,
	})

	m.contextDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "context_dropped_segments_total",
		Help:      "Short-term segments left out of a context to fit the window",
	})

	m.contextTruncated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "context_truncations_total",
		Help:      "Contexts hard-truncated from the front",
	})

	m.recallFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recall_failures_total",
		Help:      "Long-term queries that failed and degraded to no recall",
	})

	m.registry.MustRegister(m.contextTokens)
	m.registry.MustRegister(m.contextDropped)
	m.registry.MustRegister(m.contextTruncated)
	m.registry.MustRegister(m.recallFailures)
}

// RecordContext records one built context.
func (m *Manager) RecordContext(tokens, dropped int, truncated bool) {
	if !m.Enabled() {
		return
	}
	m.contextTokens.Observe(float64(tokens))
	m.contextDropped.Add(float64(dropped))
	if truncated {
		m.contextTruncated.Inc()
	}
}

// RecordRecallFailure records a failed long-term query.
func (m *Manager) RecordRecallFailure() {
	if !m.Enabled() {
		return
	}
	m.recallFailures.Inc()
}
