package window

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/loopmem/internal/model"
	"github.com/rcliao/loopmem/internal/tokenizer"
)

type fakeRetriever struct {
	results []string
	err     error
	queries []string
}

func (f *fakeRetriever) Query(_ context.Context, text string, k int) ([]model.Match, error) {
	f.queries = append(f.queries, text)
	if f.err != nil {
		return nil, f.err
	}
	var out []model.Match
	for i, r := range f.results {
		if i == k {
			break
		}
		out = append(out, model.Match{Entry: model.Entry{Summary: r}})
	}
	return out, nil
}

func newBuilder(r Retriever, limit int) *Builder {
	return New(tokenizer.Words{}, r, Options{Limit: limit, TopK: 3, Separator: "\n"}, nil)
}

func TestBuild_EmptyBufferDirectiveOnly(t *testing.T) {
	r := &fakeRetriever{results: []string{"old summary"}}
	w, err := newBuilder(r, 100).Build(context.Background(), "go", nil)
	require.NoError(t, err)
	assert.Equal(t, "go", w.Text)
	assert.Empty(t, r.queries, "no recall without short-term segments")
}

func TestBuild_EmptyEverything(t *testing.T) {
	w, err := newBuilder(nil, 10).Build(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, "", w.Text)
	assert.Equal(t, 0, w.Tokens)
}

func TestBuild_Order(t *testing.T) {
	r := &fakeRetriever{results: []string{"sum one", "sum two", "sum three", "sum four"}}
	w, err := newBuilder(r, 100).Build(context.Background(), "write more", []string{"first seg", "second seg"})
	require.NoError(t, err)

	want := strings.Join([]string{"write more", "sum one", "sum two", "sum three", "first seg", "second seg"}, "\n")
	assert.Equal(t, want, w.Text)
	assert.Equal(t, 3, w.Recalled)
	assert.Equal(t, 0, w.Dropped)
	assert.Equal(t, []string{"second seg"}, r.queries, "latest segment is the query")
}

func TestBuild_NoDirective(t *testing.T) {
	w, err := newBuilder(nil, 100).Build(context.Background(), "", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "a\nb", w.Text)
}

func TestBuild_DropsOldestSegments(t *testing.T) {
	segs := []string{"one two three", "four five", "six"}
	w, err := newBuilder(nil, 4).Build(context.Background(), "go", segs)
	require.NoError(t, err)
	assert.Equal(t, "go\nfour five\nsix", w.Text)
	assert.Equal(t, 4, w.Tokens)
	assert.Equal(t, 1, w.Dropped)
	assert.False(t, w.Truncated)
}

func TestBuild_QueryFailureDegrades(t *testing.T) {
	r := &fakeRetriever{err: errors.New("backend down")}
	w, err := newBuilder(r, 100).Build(context.Background(), "go", []string{"recent text"})
	require.NoError(t, err)
	assert.Equal(t, "go\nrecent text", w.Text)
	assert.Equal(t, 0, w.Recalled)
	assert.True(t, w.RecallFailed)
}

func TestBuild_OversizedSegmentFallsBackToDirective(t *testing.T) {
	big := strings.Repeat("word ", 50)
	w, err := newBuilder(nil, 5).Build(context.Background(), "go", []string{big})
	require.NoError(t, err)
	assert.Equal(t, "go", w.Text)
	assert.Equal(t, 1, w.Dropped)
}

func TestBuild_HardTruncation(t *testing.T) {
	directive := "a b c d e f g h i j"
	w, err := newBuilder(nil, 4).Build(context.Background(), directive, []string{"x y z w v"})
	require.NoError(t, err)
	assert.True(t, w.Truncated)
	assert.Equal(t, "g h i j", w.Text)
	assert.Equal(t, 4, w.Tokens)
}

func TestBuild_InvalidLimit(t *testing.T) {
	_, err := newBuilder(nil, 0).Build(context.Background(), "go", nil)
	assert.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestBuild_AlwaysWithinBudget(t *testing.T) {
	r := &fakeRetriever{results: []string{"long summary of earlier events", "another recalled summary"}}
	var segs []string
	for i := 0; i < 12; i++ {
		segs = append(segs, fmt.Sprintf("segment %d has %s", i, strings.Repeat("x ", i)))
	}
	counters := []tokenizer.Counter{tokenizer.Words{}, tokenizer.NewEstimator(3)}

	for _, c := range counters {
		for limit := 1; limit <= 80; limit++ {
			for n := 0; n <= len(segs); n++ {
				b := New(c, r, Options{Limit: limit, TopK: 2, Separator: "\n"}, nil)
				w, err := b.Build(context.Background(), "continue the story", segs[:n])
				require.NoError(t, err)
				assert.LessOrEqual(t, c.Count(w.Text), limit, "counter=%s limit=%d n=%d", c.Name(), limit, n)
			}
		}
	}
}
