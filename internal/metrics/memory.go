package metrics

import "github.com/prometheus/client_golang/prometheus"

// Compression results.
const (
	CompressionOK              = "ok"
	CompressionSummarizeFailed = "summarize_failed"
	CompressionStoreFailed     = "store_failed"
)

func (m *Manager) initMemoryMetrics() {
	m.compressions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compressions_total",
			Help:      "Compression passes by result",
		},
		[]string{"result"},
	)

	m.compressionSegments = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compression_segments",
			Help:      "Short-term segments folded into one summary",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		},
	)

	m.stmTokens = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stm_tokens",
		Help:      "Running token count of the short-term buffer",
	})

	m.stmSegments = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stm_segments",
		Help:      "Segments held in the short-term buffer",
	})

	m.ltmEntries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ltm_entries_total",
		Help:      "Summaries written to long-term memory",
	})

	m.registry.MustRegister(m.compressions)
	m.registry.MustRegister(m.compressionSegments)
	m.registry.MustRegister(m.stmTokens)
	m.registry.MustRegister(m.stmSegments)
	m.registry.MustRegister(m.ltmEntries)
}

// RecordCompression records one compression pass. segments is only observed
// on success.
func (m *Manager) RecordCompression(result string, segments int) {
	if !m.Enabled() {
		return
	}
	m.compressions.WithLabelValues(result).Inc()
	if result == CompressionOK {
		m.compressionSegments.Observe(float64(segments))
		m.ltmEntries.Inc()
	}
}

// SetShortTerm records the current buffer size.
func (m *Manager) SetShortTerm(segments, tokens int) {
	if !m.Enabled() {
		return
	}
	m.stmSegments.Set(float64(segments))
	m.stmTokens.Set(float64(tokens))
}
