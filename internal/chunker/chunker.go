// Package chunker splits text into pieces bounded by a token budget.
package chunker

import (
	"strings"

	"github.com/rcliao/loopmem/internal/tokenizer"
)

// splitters break text at successively finer boundaries. Each keeps every
// byte, so joining its parts restores the input.
var splitters = []func(string) []string{paragraphs, sentences}

// Split breaks text into ordered chunks of at most maxTokens tokens each.
// Paragraphs are packed together while they fit; an oversized paragraph is
// packed by sentences, and an oversized sentence is cut on token boundaries.
// Concatenating the chunks restores text. Empty or short input returns a
// single chunk; maxTokens <= 0 disables splitting.
func Split(text string, maxTokens int, c tokenizer.Counter) []string {
	if maxTokens <= 0 || c.Count(text) <= maxTokens {
		return []string{text}
	}
	return pack(text, maxTokens, c, 0)
}

// pack merges the parts of text at the given splitter level up to max,
// descending a level for any part that is too large alone.
func pack(text string, max int, c tokenizer.Counter, level int) []string {
	if c.Count(text) <= max {
		return []string{text}
	}
	if level == len(splitters) {
		return hardSplit(text, max, c)
	}
	parts := splitters[level](text)
	if len(parts) <= 1 {
		return pack(text, max, c, level+1)
	}

	var chunks []string
	accum := ""
	for _, p := range parts {
		if accum != "" && c.Count(accum+p) <= max {
			accum += p
			continue
		}
		if accum != "" {
			chunks = append(chunks, accum)
			accum = ""
		}
		if c.Count(p) <= max {
			accum = p
			continue
		}
		chunks = append(chunks, pack(p, max, c, level+1)...)
	}
	if accum != "" {
		chunks = append(chunks, accum)
	}
	return chunks
}

// hardSplit cuts text on token boundaries.
func hardSplit(text string, max int, c tokenizer.Counter) []string {
	pieces := c.Pieces(text)
	if len(pieces) == 0 {
		return []string{text}
	}

	var chunks []string
	for start := 0; start < len(pieces); {
		end := start + max
		if end > len(pieces) {
			end = len(pieces)
		}
		chunk := strings.Join(pieces[start:end], "")
		// Re-encoding a slice can yield more tokens than pieces; shrink
		// until it fits, always keeping at least one piece.
		for end-start > 1 && c.Count(chunk) > max {
			end--
			chunk = strings.Join(pieces[start:end], "")
		}
		chunks = append(chunks, chunk)
		start = end
	}
	return chunks
}

// paragraphs cuts after each run of two or more newlines.
func paragraphs(text string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(text); {
		if text[i] == '\n' && i+1 < len(text) && text[i+1] == '\n' {
			j := i
			for j < len(text) && text[j] == '\n' {
				j++
			}
			parts = append(parts, text[start:j])
			start, i = j, j
			continue
		}
		i++
	}
	if start < len(text) {
		parts = append(parts, text[start:])
	}
	return parts
}

// sentences cuts after terminal punctuation and the whitespace following it.
func sentences(text string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] != '.' && text[i] != '!' && text[i] != '?' {
			continue
		}
		j := i + 1
		for j < len(text) && isSpace(text[j]) {
			j++
		}
		if j == i+1 || j == len(text) {
			continue
		}
		parts = append(parts, text[start:j])
		start = j
		i = j - 1
	}
	if start < len(text) {
		parts = append(parts, text[start:])
	}
	return parts
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}
