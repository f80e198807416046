// Package memory keeps the short-term buffer of recent text, folds its
// oldest segments into long-term summaries when it grows past a threshold,
// and builds bounded contexts from both.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/rcliao/loopmem/internal/metrics"
	"github.com/rcliao/loopmem/internal/model"
	"github.com/rcliao/loopmem/internal/store"
	"github.com/rcliao/loopmem/internal/summarizer"
	"github.com/rcliao/loopmem/internal/tokenizer"
	"github.com/rcliao/loopmem/internal/window"
)

// ErrCompressionStalled is returned by Add once compression has failed
// MaxCompressFailures cycles in a row.
var ErrCompressionStalled = errors.New("compression stalled")

// ErrJournalStale is returned by Add when the journal no longer mirrors the
// buffer and could not be rewritten. The buffer itself is intact; the next
// Add retries the rewrite.
var ErrJournalStale = errors.New("journal out of sync")

// Summarizer reduces a block of text to a summary.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Options configures a Manager.
type Options struct {
	SummarizeThreshold  int
	ChunkBudget         int
	MaxCompressPasses   int
	MaxCompressFailures int

	ContextWindow int
	TopK          int
	Separator     string

	// RunID is stamped on every stored summary when set.
	RunID string
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		SummarizeThreshold:  12000,
		ChunkBudget:         8000,
		MaxCompressPasses:   8,
		MaxCompressFailures: 3,
		ContextWindow:       32000,
		TopK:                3,
		Separator:           "\n",
	}
}

// IndexEntry pairs a stored summary with its long-term id.
type IndexEntry struct {
	ID      string
	Summary string
}

// Manager owns the short-term buffer. All methods are safe for concurrent
// use; a single mutex serializes mutation and compression, and context
// building reads a snapshot.
type Manager struct {
	counter    tokenizer.Counter
	summarizer Summarizer
	ltm        store.LongTerm
	journal    store.Journal
	builder    *window.Builder
	metrics    *metrics.Manager
	opts       Options
	logger     *slog.Logger

	mu       sync.Mutex
	segments []model.Segment
	tokens   int
	index    []IndexEntry
	failures int
	stale    bool // journal missed a mutation
}

// New creates a Manager. ltm is required; the summarizer may be nil only if
// compression never fires.
func New(c tokenizer.Counter, s Summarizer, ltm store.LongTerm, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxCompressPasses <= 0 {
		opts.MaxCompressPasses = 1
	}
	if opts.MaxCompressFailures <= 0 {
		opts.MaxCompressFailures = 1
	}
	m := &Manager{
		counter:    c,
		summarizer: s,
		ltm:        ltm,
		opts:       opts,
		logger:     logger,
	}
	m.builder = window.New(c, ltm, window.Options{
		Limit:     opts.ContextWindow,
		TopK:      opts.TopK,
		Separator: opts.Separator,
	}, logger)
	return m
}

// WithJournal persists every buffer mutation to j.
func (m *Manager) WithJournal(j store.Journal) *Manager {
	m.journal = j
	return m
}

// WithMetrics records buffer and context metrics on mx.
func (m *Manager) WithMetrics(mx *metrics.Manager) *Manager {
	m.metrics = mx
	return m
}

// Restore replaces the buffer with the journaled segments. Token counts are
// recomputed with the current counter.
func (m *Manager) Restore(ctx context.Context) error {
	if m.journal == nil {
		return nil
	}
	segs, err := m.journal.LoadSegments(ctx)
	if err != nil {
		return fmt.Errorf("load segments: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments = m.segments[:0]
	m.tokens = 0
	m.stale = false
	for _, s := range segs {
		s.Tokens = m.counter.Count(s.Text)
		m.segments = append(m.segments, s)
		m.tokens += s.Tokens
	}
	m.metrics.SetShortTerm(len(m.segments), m.tokens)
	m.logger.Debug("restored short-term buffer", "segments", len(m.segments), "tokens", m.tokens)
	return nil
}

// Add appends text to the buffer and compresses while the running total is
// over the threshold. The text is always kept in the buffer, whatever error
// is returned. A summarization failure keeps the segments and only logs. A
// store failure keeps the segments and is returned. Repeated failed cycles
// return ErrCompressionStalled. A journal that cannot be kept in step
// returns ErrJournalStale.
func (m *Manager) Add(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seg := model.Segment{Text: text, Tokens: m.counter.Count(text)}
	m.segments = append(m.segments, seg)
	m.tokens += seg.Tokens
	m.metrics.SetShortTerm(len(m.segments), m.tokens)

	if m.journal != nil && !m.stale {
		if err := m.journal.AppendSegment(ctx, seg); err != nil {
			m.stale = true
			m.logger.Warn("journal append failed, segment kept in memory", "error", err)
		}
	}

	err := m.compress(ctx)
	return errors.Join(err, m.syncJournal(ctx))
}

// syncJournal rewrites a stale journal from the buffer.
func (m *Manager) syncJournal(ctx context.Context) error {
	if m.journal == nil || !m.stale {
		return nil
	}
	if err := m.journal.ReplaceSegments(ctx, m.segments); err != nil {
		return fmt.Errorf("%w: rewrite journal: %w", ErrJournalStale, err)
	}
	m.stale = false
	m.logger.Info("journal rewritten", "segments", len(m.segments))
	return nil
}

func (m *Manager) compress(ctx context.Context) error {
	for pass := 0; m.tokens > m.opts.SummarizeThreshold; pass++ {
		if pass == m.opts.MaxCompressPasses {
			m.logger.Warn("compression pass cap reached",
				"passes", pass, "tokens", m.tokens, "threshold", m.opts.SummarizeThreshold)
			return nil
		}

		err := m.compressOldest(ctx)
		if err == nil {
			m.failures = 0
			continue
		}

		m.failures++
		if m.failures >= m.opts.MaxCompressFailures {
			return fmt.Errorf("%w after %d failed cycles: %w", ErrCompressionStalled, m.failures, err)
		}
		if errors.Is(err, summarizer.ErrSummarizationFailed) {
			m.logger.Warn("compression skipped, segments kept", "error", err, "failures", m.failures)
			return nil
		}
		return err
	}
	return nil
}

// unit returns how many of the oldest segments make up the next
// compression: as many as fit in ChunkBudget, and at least one.
func (m *Manager) unit() (n, tokens int) {
	for _, s := range m.segments {
		if tokens+s.Tokens > m.opts.ChunkBudget {
			break
		}
		tokens += s.Tokens
		n++
	}
	if n == 0 && len(m.segments) > 0 {
		return 1, m.segments[0].Tokens
	}
	return n, tokens
}

func (m *Manager) compressOldest(ctx context.Context) error {
	n, tokens := m.unit()
	if n == 0 {
		return nil
	}

	texts := make([]string, n)
	for i, s := range m.segments[:n] {
		texts[i] = s.Text
	}
	m.logger.Debug("compressing", "segments", n, "tokens", tokens)

	summary, err := m.summarize(ctx, strings.Join(texts, "\n"))
	if err != nil {
		m.metrics.RecordCompression(metrics.CompressionSummarizeFailed, n)
		return err
	}

	meta := map[string]string{
		model.MetaSegments: strconv.Itoa(n),
		model.MetaTokens:   strconv.Itoa(tokens),
	}
	if m.opts.RunID != "" {
		meta[model.MetaRunID] = m.opts.RunID
	}
	id, err := m.ltm.Store(ctx, summary, meta)
	if err != nil {
		m.metrics.RecordCompression(metrics.CompressionStoreFailed, n)
		return fmt.Errorf("store summary: %w", err)
	}
	m.index = append(m.index, IndexEntry{ID: id, Summary: summary})

	// The summary is stored, so the buffer shrinks either way. A failed drop
	// marks the journal stale and Add rewrites it.
	if m.journal != nil && !m.stale {
		if err := m.journal.DropSegments(ctx, n); err != nil {
			m.stale = true
			m.logger.Warn("journal drop failed", "error", err, "segments", n)
		}
	}
	m.segments = append(m.segments[:0], m.segments[n:]...)
	m.tokens -= tokens
	m.metrics.RecordCompression(metrics.CompressionOK, n)
	m.metrics.SetShortTerm(len(m.segments), m.tokens)

	m.logger.Info("compressed short-term memory",
		"entry_id", id, "segments", n, "tokens", tokens, "remaining_tokens", m.tokens)
	return nil
}

// summarize retries once on failure.
func (m *Manager) summarize(ctx context.Context, text string) (string, error) {
	if m.summarizer == nil {
		return "", fmt.Errorf("%w: no summarizer configured", summarizer.ErrSummarizationFailed)
	}
	summary, err := m.summarizer.Summarize(ctx, text)
	if err == nil {
		return summary, nil
	}
	if ctx.Err() != nil {
		return "", err
	}
	m.logger.Warn("summarization failed, retrying", "error", err)
	return m.summarizer.Summarize(ctx, text)
}

// RetrieveRelevant returns up to k summaries ranked against query. Backend
// failures yield an empty result.
func (m *Manager) RetrieveRelevant(ctx context.Context, query string, k int) []string {
	matches, err := m.ltm.Query(ctx, query, k)
	if err != nil {
		m.logger.Warn("retrieve relevant failed", "error", err)
		m.metrics.RecordRecallFailure()
		return []string{}
	}
	out := make([]string, 0, len(matches))
	for _, match := range matches {
		out = append(out, match.Summary)
	}
	return out
}

// BuildContext assembles a context within the configured window. The buffer
// is not modified.
func (m *Manager) BuildContext(ctx context.Context, directive string) (window.Window, error) {
	segs := m.Snapshot()
	texts := make([]string, len(segs))
	for i, s := range segs {
		texts[i] = s.Text
	}

	w, err := m.builder.Build(ctx, directive, texts)
	if err != nil {
		return w, fmt.Errorf("build context: %w", err)
	}
	if w.RecallFailed {
		m.metrics.RecordRecallFailure()
	}
	m.metrics.RecordContext(w.Tokens, w.Dropped, w.Truncated)
	return w, nil
}

// Snapshot returns a copy of the buffer, oldest first.
func (m *Manager) Snapshot() []model.Segment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Segment, len(m.segments))
	copy(out, m.segments)
	return out
}

// Tokens returns the running token count of the buffer.
func (m *Manager) Tokens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens
}

// Index returns the summaries stored by this manager, oldest first.
func (m *Manager) Index() []IndexEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]IndexEntry, len(m.index))
	copy(out, m.index)
	return out
}
