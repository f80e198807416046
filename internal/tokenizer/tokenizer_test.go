package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWordsCount(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"whitespace only", "  \n\t ", 0},
		{"single", "hello", 1},
		{"several", "the quick  brown\nfox", 4},
		{"leading space", "   lead", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Words{}.Count(tt.text))
		})
	}
}

func TestWordsPiecesReassemble(t *testing.T) {
	texts := []string{"", "one", "  two words ", "a\nb\n\nc  ", "\tx"}
	for _, text := range texts {
		pieces := Words{}.Pieces(text)
		if (Words{}).Count(text) == 0 {
			assert.Empty(t, pieces, "text %q", text)
			continue
		}
		assert.Equal(t, text, strings.Join(pieces, ""))
		assert.Len(t, pieces, Words{}.Count(text))
	}
}

func TestEstimator(t *testing.T) {
	e := NewEstimator(4)
	assert.Equal(t, 0, e.Count(""))
	assert.Equal(t, 1, e.Count("abc"))
	assert.Equal(t, 2, e.Count("abcde"))

	// Multi-byte runes are never split across pieces.
	text := "héllo wörld ünïcode"
	pieces := e.Pieces(text)
	assert.Equal(t, text, strings.Join(pieces, ""))
	assert.Len(t, pieces, e.Count(text))
}

func TestTail(t *testing.T) {
	c := Words{}
	assert.Equal(t, "d e", Tail(c, "a b c d e", 2))
	assert.Equal(t, "a b", Tail(c, "a b", 5))
	assert.Equal(t, "", Tail(c, "a b", 0))

	e := NewEstimator(2)
	out := Tail(e, "abcdefghij", 3)
	assert.Equal(t, "efghij", out)
	assert.LessOrEqual(t, e.Count(out), 3)
}

func TestNewWords(t *testing.T) {
	c := New(WordsModel, nil)
	assert.Equal(t, WordsModel, c.Name())
	assert.False(t, Fallback(c))
}

func TestNewUnknownModelFallsBack(t *testing.T) {
	c := New("definitely-not-a-model", nil)
	require.NotNil(t, c)
	assert.True(t, Fallback(c))
	if c.Name() == "estimate" {
		t.Skip("BPE ranks unavailable; estimator in use")
	}
	assert.Equal(t, DefaultEncoding, c.Name())
	text := "Hello, world! Tokens all the way down."
	assert.Equal(t, text, strings.Join(c.Pieces(text), ""))
	assert.Equal(t, len(c.Pieces(text)), c.Count(text))
}
