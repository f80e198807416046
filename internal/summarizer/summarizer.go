// Package summarizer reduces blocks of text to short summaries, splitting
// oversized input into chunks and merging the partial summaries.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rcliao/loopmem/internal/chunker"
	"github.com/rcliao/loopmem/internal/tokenizer"
)

// ErrSummarizationFailed is returned when a reduction call errors or
// produces no text.
var ErrSummarizationFailed = errors.New("summarization failed")

// Reducer issues one reduction request to a model.
type Reducer interface {
	Reduce(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// ReducerFunc adapts a function to Reducer.
type ReducerFunc func(ctx context.Context, prompt string, maxTokens int) (string, error)

func (f ReducerFunc) Reduce(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return f(ctx, prompt, maxTokens)
}

const (
	DefaultInputThreshold = 6000
	DefaultChunkTokens    = 4000
	DefaultMaxTokens      = 512
)

// Options configures summarization sizes, all in token units.
type Options struct {
	InputThreshold int // inputs at or above this are chunked
	ChunkTokens    int // size of each chunk when chunking
	MaxTokens      int // output budget of the final summary
}

// DefaultOptions returns default summarization options.
func DefaultOptions() Options {
	return Options{
		InputThreshold: DefaultInputThreshold,
		ChunkTokens:    DefaultChunkTokens,
		MaxTokens:      DefaultMaxTokens,
	}
}

// Summarizer turns text into a summary through a Reducer.
type Summarizer struct {
	reducer Reducer
	counter tokenizer.Counter
	opts    Options
	logger  *slog.Logger
}

// New creates a Summarizer. Zero fields in opts take their defaults.
func New(r Reducer, c tokenizer.Counter, opts Options, logger *slog.Logger) *Summarizer {
	def := DefaultOptions()
	if opts.InputThreshold <= 0 {
		opts.InputThreshold = def.InputThreshold
	}
	if opts.ChunkTokens <= 0 {
		opts.ChunkTokens = def.ChunkTokens
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = def.MaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{reducer: r, counter: c, opts: opts, logger: logger}
}

// Summarize reduces text to a single summary.
func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	if s.counter.Count(text) < s.opts.InputThreshold {
		prompt := "Please provide a concise summary (1-2 paragraphs) of the following text:\n\n" + text
		return s.reduce(ctx, prompt, s.opts.MaxTokens)
	}

	chunks := chunker.Split(text, s.opts.ChunkTokens, s.counter)
	perChunk := s.opts.MaxTokens / len(chunks)
	if perChunk < 1 {
		perChunk = 1
	}
	s.logger.Debug("summarizing in chunks", "chunks", len(chunks), "chunk_budget", perChunk)

	partials := make([]string, 0, len(chunks))
	for i, c := range chunks {
		prompt := fmt.Sprintf("Chunk %d/%d: Summarize the following text into 1 paragraph:\n\n%s", i+1, len(chunks), c)
		partial, err := s.reduce(ctx, prompt, perChunk)
		if err != nil {
			return "", fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		partials = append(partials, partial)
	}

	final := "The following are partial summaries of a longer document. " +
		"Please combine them into a single, concise summary:\n\n" + strings.Join(partials, "\n\n")
	return s.reduce(ctx, final, s.opts.MaxTokens)
}

func (s *Summarizer) reduce(ctx context.Context, prompt string, maxTokens int) (string, error) {
	out, err := s.reducer.Reduce(ctx, prompt, maxTokens)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSummarizationFailed, err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("%w: empty response", ErrSummarizationFailed)
	}
	return out, nil
}
