package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewManager(t *testing.T) {
	m := NewManager(DefaultConfig())
	if !m.Enabled() {
		t.Error("expected metrics to be enabled")
	}
	if m.Registry() == nil {
		t.Error("expected a registry")
	}
}

func TestDisabledAndNilAreSafe(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false

	for _, m := range []*Manager{NewManager(cfg), NoOpManager(), nil} {
		if m.Enabled() {
			t.Error("expected disabled")
		}
		m.RecordCompression(CompressionOK, 2)
		m.SetShortTerm(1, 10)
		m.RecordContext(100, 1, true)
		m.RecordRecallFailure()
		m.RecordIteration(1, 2, 0.1, time.Second)
	}

	w := httptest.NewRecorder()
	NoOpManager().Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 when disabled, got %d", w.Code)
	}
}

func TestRecordCompression(t *testing.T) {
	m := NewManager(DefaultConfig())

	m.RecordCompression(CompressionOK, 3)
	m.RecordCompression(CompressionOK, 1)
	m.RecordCompression(CompressionSummarizeFailed, 0)

	if got := testutil.ToFloat64(m.compressions.WithLabelValues(CompressionOK)); got != 2 {
		t.Errorf("ok compressions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.compressions.WithLabelValues(CompressionSummarizeFailed)); got != 1 {
		t.Errorf("failed compressions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ltmEntries); got != 2 {
		t.Errorf("ltm entries = %v, want 2", got)
	}
}

func TestShortTermAndGeneration(t *testing.T) {
	m := NewManager(DefaultConfig())

	m.SetShortTerm(4, 120)
	m.RecordIteration(1000, 200, 0.25, 2*time.Second)
	m.RecordIteration(500, 100, 0.25, time.Second)
	m.RecordContext(900, 2, true)
	m.RecordRecallFailure()

	if got := testutil.ToFloat64(m.stmTokens); got != 120 {
		t.Errorf("stm tokens = %v, want 120", got)
	}
	if got := testutil.ToFloat64(m.generationTokens.WithLabelValues("input")); got != 1500 {
		t.Errorf("input tokens = %v, want 1500", got)
	}
	if got := testutil.ToFloat64(m.generationCost); got != 0.5 {
		t.Errorf("cost = %v, want 0.5", got)
	}
	if got := testutil.ToFloat64(m.contextDropped); got != 2 {
		t.Errorf("dropped = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.recallFailures); got != 1 {
		t.Errorf("recall failures = %v, want 1", got)
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.RecordCompression(CompressionOK, 1)
	m.RecordIteration(10, 5, 0.001, time.Millisecond)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	body := w.Body.String()
	for _, name := range []string{
		"loopmem_compressions_total",
		"loopmem_iterations_total",
		"loopmem_generation_tokens_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("expected %s in output", name)
		}
	}
}
