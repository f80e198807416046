// Package metrics provides Prometheus instrumentation for the memory window
// and the generation loop.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "loopmem"

// Manager owns a private registry. A nil or disabled Manager records nothing,
// so callers never need to check.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	// Memory
	compressions        *prometheus.CounterVec
	compressionSegments prometheus.Histogram
	stmTokens           prometheus.Gauge
	stmSegments         prometheus.Gauge
	ltmEntries          prometheus.Counter

	// Context
	contextTokens    prometheus.Histogram
	contextDropped   prometheus.Counter
	contextTruncated prometheus.Counter
	recallFailures   prometheus.Counter

	// Generation
	iterations         prometheus.Counter
	generationTokens   *prometheus.CounterVec
	generationCost     prometheus.Counter
	generationDuration prometheus.Histogram
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool

	ContextTokenBuckets       []float64
	GenerationDurationBuckets []float64
}

// DefaultConfig returns default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:                   true,
		ContextTokenBuckets:       prometheus.ExponentialBuckets(256, 2, 9),
		GenerationDurationBuckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// NewManager creates a metrics manager.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return NoOpManager()
	}

	m := &Manager{
		registry: prometheus.NewRegistry(),
		enabled:  true,
	}
	m.registry.MustRegister(prometheus.NewGoCollector())
	m.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m.initMemoryMetrics()
	m.initContextMetrics(cfg)
	m.initGenerationMetrics(cfg)
	return m
}

// NoOpManager returns a disabled manager.
func NoOpManager() *Manager {
	return &Manager{enabled: false}
}

// Enabled reports whether metrics are being collected.
func (m *Manager) Enabled() bool {
	return m != nil && m.enabled
}

// Registry exposes the underlying registry, nil when disabled.
func (m *Manager) Registry() *prometheus.Registry {
	if !m.Enabled() {
		return nil
	}
	return m.registry
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Manager) Handler() http.Handler {
	if !m.Enabled() {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Manager) Serve(ctx context.Context, addr string) error {
	if !m.Enabled() || addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
