// Package tokenizer converts text into model token units. Every budget
// decision in loopmem goes through a single Counter instance.
package tokenizer

import (
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is used when the configured model has no known encoding.
const DefaultEncoding = "cl100k_base"

// WordsModel selects the whitespace counter instead of a BPE encoding.
const WordsModel = "words"

// Counter measures and slices text in token units.
//
// Pieces returns the text split at token boundaries such that
// strings.Join(Pieces(t), "") == t. Count(t) is the number of pieces for
// every implementation in this package.
type Counter interface {
	Name() string
	Count(text string) int
	Pieces(text string) []string
}

// New returns the counter for model. An unrecognized model falls back to
// DefaultEncoding; if no BPE encoding can be loaded at all (for example the
// rank file cannot be fetched) a character-ratio estimator is used.
func New(model string, logger *slog.Logger) Counter {
	if logger == nil {
		logger = slog.Default()
	}
	if model == WordsModel {
		return Words{}
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err == nil {
		return &Tiktoken{name: model, enc: enc}
	}
	logger.Warn("tokenizer fallback", "model", model, "encoding", DefaultEncoding, "err", err)

	enc, err = tiktoken.GetEncoding(DefaultEncoding)
	if err == nil {
		return &Tiktoken{name: DefaultEncoding, enc: enc, fallback: true}
	}
	logger.Warn("tokenizer fallback", "model", model, "encoding", "estimate", "err", err)
	return NewEstimator(0)
}

// Fallback reports whether c was substituted for the requested tokenizer.
func Fallback(c Counter) bool {
	switch v := c.(type) {
	case *Tiktoken:
		return v.fallback
	case *Estimator:
		return true
	}
	return false
}

// Tiktoken counts with an OpenAI BPE encoding.
type Tiktoken struct {
	name     string
	enc      *tiktoken.Tiktoken
	fallback bool
}

func (t *Tiktoken) Name() string { return t.name }

func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Pieces decodes each token separately. A piece may hold a partial UTF-8
// sequence; concatenating pieces restores the original bytes.
func (t *Tiktoken) Pieces(text string) []string {
	if text == "" {
		return nil
	}
	ids := t.enc.Encode(text, nil, nil)
	pieces := make([]string, len(ids))
	for i, id := range ids {
		pieces[i] = t.enc.Decode([]int{id})
	}
	return pieces
}

// Words counts whitespace-separated words. Each piece is one word plus the
// whitespace that follows it; leading whitespace belongs to the first piece.
type Words struct{}

func (Words) Name() string { return WordsModel }

func (Words) Count(text string) int { return len(strings.Fields(text)) }

func (Words) Pieces(text string) []string {
	var pieces []string
	start := 0
	inWord := false
	seenWord := false
	for i, r := range text {
		space := unicode.IsSpace(r)
		if !space && !inWord {
			if seenWord {
				pieces = append(pieces, text[start:i])
				start = i
			}
			seenWord = true
		}
		inWord = !space
	}
	if seenWord {
		pieces = append(pieces, text[start:])
	}
	return pieces
}

// Estimator approximates tokens as a fixed number of runes per token,
// rounded up.
type Estimator struct {
	runesPerToken int
}

// NewEstimator returns an estimator; n <= 0 uses 4 runes per token.
func NewEstimator(n int) *Estimator {
	if n <= 0 {
		n = 4
	}
	return &Estimator{runesPerToken: n}
}

func (e *Estimator) Name() string { return "estimate" }

func (e *Estimator) Count(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + e.runesPerToken - 1) / e.runesPerToken
}

func (e *Estimator) Pieces(text string) []string {
	var pieces []string
	start, runes := 0, 0
	for i := range text {
		if runes == e.runesPerToken {
			pieces = append(pieces, text[start:i])
			start, runes = i, 0
		}
		runes++
	}
	if start < len(text) {
		pieces = append(pieces, text[start:])
	}
	return pieces
}

// Tail returns the longest suffix of text whose count is at most max.
func Tail(c Counter, text string, max int) string {
	if max <= 0 {
		return ""
	}
	if c.Count(text) <= max {
		return text
	}
	pieces := c.Pieces(text)
	start := len(pieces) - max
	if start < 0 {
		start = 0
	}
	out := strings.Join(pieces[start:], "")
	// BPE may merge differently once the prefix is gone.
	for c.Count(out) > max && start < len(pieces) {
		start++
		out = strings.Join(pieces[start:], "")
	}
	return out
}
