// Package window assembles the prompt handed to the generator from a
// directive, recalled long-term summaries and the short-term segments,
// under a hard token ceiling.
package window

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rcliao/loopmem/internal/model"
	"github.com/rcliao/loopmem/internal/tokenizer"
)

// ErrBudgetExceeded means no assembly fits the limit, which only happens
// when the limit is smaller than one token.
var ErrBudgetExceeded = errors.New("context budget exceeded")

// Retriever ranks long-term entries against a query. store.LongTerm
// satisfies it.
type Retriever interface {
	Query(ctx context.Context, text string, k int) ([]model.Match, error)
}

// Options configures a Builder.
type Options struct {
	Limit     int    // hard ceiling in tokens
	TopK      int    // recalled entries per query
	Separator string // placed between blocks
}

// Window is one built context.
type Window struct {
	Text      string
	Tokens    int
	Recalled  int  // long-term blocks included
	Dropped   int  // oldest segments left out to fit
	Truncated bool // hard-truncated from the front

	RecallFailed bool
}

// Builder owns no memory state. Each Build works on the segments it is given.
type Builder struct {
	counter   tokenizer.Counter
	retriever Retriever
	opts      Options
	logger    *slog.Logger
}

// New returns a Builder. retriever may be nil to disable recall.
func New(c tokenizer.Counter, r Retriever, opts Options, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{counter: c, retriever: r, opts: opts, logger: logger}
}

// Build joins [directive, recalled summaries, segments oldest first]. While
// the result is over the limit the oldest segment is left out. With no segments left and the
// directive still too long, only its trailing tokens are kept.
func (b *Builder) Build(ctx context.Context, directive string, segments []string) (Window, error) {
	if b.opts.Limit < 1 {
		return Window{}, fmt.Errorf("%w: limit %d", ErrBudgetExceeded, b.opts.Limit)
	}

	var recalled []string
	failed := false
	if len(segments) > 0 {
		// Dropping from the front never changes the latest segment, so one
		// query serves every attempt.
		recalled, failed = b.recall(ctx, segments[len(segments)-1])
	}
	for dropped := 0; dropped < len(segments); dropped++ {
		text := b.join(directive, recalled, segments[dropped:])
		if n := b.counter.Count(text); n <= b.opts.Limit {
			return Window{Text: text, Tokens: n, Recalled: len(recalled), Dropped: dropped, RecallFailed: failed}, nil
		}
	}

	// Nothing left to drop: the directive alone, no recall.
	w := Window{Text: directive, Tokens: b.counter.Count(directive), Dropped: len(segments), RecallFailed: failed}
	if w.Tokens <= b.opts.Limit {
		return w, nil
	}

	w.Text = tokenizer.Tail(b.counter, directive, b.opts.Limit)
	w.Tokens = b.counter.Count(w.Text)
	w.Truncated = true
	b.logger.Debug("hard truncated context", "limit", b.opts.Limit, "tokens", w.Tokens)
	if w.Tokens > b.opts.Limit {
		return Window{}, fmt.Errorf("%w: %d tokens after truncation, limit %d", ErrBudgetExceeded, w.Tokens, b.opts.Limit)
	}
	return w, nil
}

// recall is best effort: a failing backend yields no blocks and reports
// failed.
func (b *Builder) recall(ctx context.Context, query string) (blocks []string, failed bool) {
	if b.retriever == nil || b.opts.TopK <= 0 {
		return nil, false
	}
	matches, err := b.retriever.Query(ctx, query, b.opts.TopK)
	if err != nil {
		b.logger.Warn("recall failed, building without long-term memory", "error", err)
		return nil, true
	}
	blocks = make([]string, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, m.Summary)
	}
	return blocks, false
}

func (b *Builder) join(directive string, recalled, segments []string) string {
	blocks := make([]string, 0, 1+len(recalled)+len(segments))
	if directive != "" {
		blocks = append(blocks, directive)
	}
	blocks = append(blocks, recalled...)
	blocks = append(blocks, segments...)
	return strings.Join(blocks, b.opts.Separator)
}
