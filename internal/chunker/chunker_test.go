package chunker

import (
	"strings"
	"testing"

	"github.com/rcliao/loopmem/internal/tokenizer"
)

var words = tokenizer.Words{}

func TestSplit_EmptyInput(t *testing.T) {
	result := Split("", 10, words)
	if len(result) != 1 || result[0] != "" {
		t.Errorf("expected single empty chunk, got %q", result)
	}
}

func TestSplit_ShortContent(t *testing.T) {
	text := "This is a short memory."
	result := Split(text, 10, words)
	if len(result) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(result))
	}
	if result[0] != text {
		t.Errorf("expected %q, got %q", text, result[0])
	}
}

func TestSplit_ChunkCount(t *testing.T) {
	text := strings.Repeat("word ", 25) // 25 tokens
	result := Split(text, 10, words)
	if len(result) != 3 {
		t.Fatalf("expected ceil(25/10)=3 chunks, got %d", len(result))
	}
	for i, c := range result {
		if n := words.Count(c); n > 10 {
			t.Errorf("chunk %d has %d tokens, want <= 10", i, n)
		}
	}
}

func TestSplit_Reassembles(t *testing.T) {
	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, "This is a line of text that is about fifty characters long.")
	}
	text := strings.Join(lines, "\n")
	result := Split(text, 7, words)
	if got := strings.Join(result, ""); got != text {
		t.Errorf("chunks do not reassemble the original text")
	}
}

func TestSplit_Estimator(t *testing.T) {
	e := tokenizer.NewEstimator(4)
	text := strings.Repeat("abcd", 9) + "ab" // 10 tokens
	result := Split(text, 3, e)
	if len(result) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(result))
	}
	if strings.Join(result, "") != text {
		t.Error("chunks do not reassemble the original text")
	}
}

func TestSplit_NonPositiveBudget(t *testing.T) {
	text := "one two three"
	result := Split(text, 0, words)
	if len(result) != 1 || result[0] != text {
		t.Errorf("expected text unchanged, got %q", result)
	}
}

func TestSplit_PrefersParagraphBoundaries(t *testing.T) {
	p1 := "The river rose. The bridge held."  // 6 words
	p2 := "Nobody slept that night."          // 4 words
	p3 := "By morning the water had receded." // 6 words
	text := p1 + "\n\n" + p2 + "\n\n" + p3

	result := Split(text, 10, words)
	want := []string{p1 + "\n\n" + p2 + "\n\n", p3}
	if len(result) != len(want) {
		t.Fatalf("expected %d chunks, got %d: %q", len(want), len(result), result)
	}
	for i := range want {
		if result[i] != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, result[i], want[i])
		}
	}
}

func TestSplit_FallsBackToSentences(t *testing.T) {
	text := "One two three four. Five six seven. Eight nine ten eleven twelve."
	result := Split(text, 8, words)
	want := []string{"One two three four. Five six seven. ", "Eight nine ten eleven twelve."}
	if len(result) != len(want) {
		t.Fatalf("expected %d chunks, got %d: %q", len(want), len(result), result)
	}
	for i := range want {
		if result[i] != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, result[i], want[i])
		}
	}
}

func TestSplit_MixedBoundariesWithinBudget(t *testing.T) {
	text := "Short opening.\n\n" +
		strings.Repeat("a very long sentence without any stop ", 4) + "end.\n\n" +
		"Closing words here. And more."
	for _, max := range []int{3, 5, 9, 20} {
		result := Split(text, max, words)
		if strings.Join(result, "") != text {
			t.Errorf("max %d: chunks do not reassemble the original text", max)
		}
		for i, c := range result {
			if n := words.Count(c); n > max {
				t.Errorf("max %d: chunk %d has %d tokens", max, i, n)
			}
		}
	}
}
