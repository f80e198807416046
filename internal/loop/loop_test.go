package loop

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/loopmem/internal/llm"
	"github.com/rcliao/loopmem/internal/memory"
	"github.com/rcliao/loopmem/internal/model"
	"github.com/rcliao/loopmem/internal/store"
	"github.com/rcliao/loopmem/internal/summarizer"
	"github.com/rcliao/loopmem/internal/tokenizer"
	"github.com/rcliao/loopmem/internal/window"
)

type fakeGenerator struct {
	calls   int
	prompts []string
	fail    error
	hook    func(call int)
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string, maxTokens int) (llm.Result, error) {
	g.calls++
	g.prompts = append(g.prompts, prompt)
	if g.hook != nil {
		g.hook(g.calls)
	}
	if g.fail != nil {
		return llm.Result{}, g.fail
	}
	return llm.Result{Text: fmt.Sprintf("thought number %d", g.calls), InputTokens: 10, OutputTokens: 3}, nil
}

type fakeMemory struct {
	added      []string
	directives []string
	addErr     error
}

func (m *fakeMemory) Add(_ context.Context, text string) error {
	if m.addErr != nil && len(m.added) > 0 {
		return m.addErr
	}
	m.added = append(m.added, text)
	return nil
}

func (m *fakeMemory) BuildContext(_ context.Context, directive string) (window.Window, error) {
	m.directives = append(m.directives, directive)
	text := strings.Join(append([]string{directive}, m.added...), "\n")
	return window.Window{Text: text, Tokens: len(strings.Fields(text))}, nil
}

func (m *fakeMemory) Snapshot() []model.Segment {
	out := make([]model.Segment, len(m.added))
	for i, a := range m.added {
		out[i] = model.Segment{Text: a}
	}
	return out
}

type fakeRecorder struct {
	its []model.Iteration
}

func (r *fakeRecorder) RecordIteration(_ context.Context, it model.Iteration) error {
	r.its = append(r.its, it)
	return nil
}

func TestRun_MaxIterations(t *testing.T) {
	streamPath := filepath.Join(t.TempDir(), "logs", "stream.txt")
	gen := &fakeGenerator{}
	mem := &fakeMemory{}
	rec := &fakeRecorder{}

	l := New(gen, mem, Config{
		RunID:                "run-1",
		SeedPrompt:           "hello loop",
		DefaultDirective:     "continue",
		MaxIterations:        3,
		MaxTokens:            64,
		InputCostPerMillion:  0.10,
		OutputCostPerMillion: 0.40,
		StreamLog:            streamPath,
	}, nil).WithRecorder(rec)

	sum, err := l.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StopMaxIterations, sum.StopReason)
	assert.Equal(t, "run-1", sum.RunID)
	assert.Equal(t, 3, sum.Iterations)
	assert.Equal(t, 30, sum.InputTokens)
	assert.Equal(t, 9, sum.OutputTokens)
	assert.InDelta(t, (30*0.10+9*0.40)/1e6, sum.Cost, 1e-12)

	assert.Equal(t, []string{"hello loop", "thought number 1", "thought number 2", "thought number 3"}, mem.added)
	assert.True(t, strings.HasPrefix(gen.prompts[0], "continue\nhello loop"))

	require.Len(t, rec.its, 3)
	for i, it := range rec.its {
		assert.Equal(t, "run-1", it.RunID)
		assert.Equal(t, i+1, it.Seq)
		assert.Equal(t, 3, it.TextLen)
	}

	data, err := os.ReadFile(streamPath)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "thought number"))
	assert.True(t, strings.HasPrefix(string(data), "["))
}

func TestRun_SeedSkippedWhenMemoryNotEmpty(t *testing.T) {
	mem := &fakeMemory{added: []string{"restored"}}
	l := New(&fakeGenerator{}, mem, Config{SeedPrompt: "seed", MaxIterations: 1}, nil)

	_, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"restored", "thought number 1"}, mem.added)
}

func TestRun_CostCap(t *testing.T) {
	l := New(&fakeGenerator{}, &fakeMemory{}, Config{
		InputCostPerMillion: 1e5, // 10 input tokens cost 1.0
		CostCap:             2.5,
	}, nil)

	sum, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopCostCap, sum.StopReason)
	assert.Equal(t, 3, sum.Iterations)
}

func TestRun_DirectiveSelection(t *testing.T) {
	mem := &fakeMemory{}
	l := New(&fakeGenerator{}, mem, Config{
		Directives:       []string{"argue", "argue"},
		DirectiveChance:  1,
		DefaultDirective: "continue",
		MaxIterations:    4,
	}, nil).WithSeed(7)
	_, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"argue", "argue", "argue", "argue"}, mem.directives)

	mem = &fakeMemory{}
	l = New(&fakeGenerator{}, mem, Config{
		Directives:       []string{"argue"},
		DirectiveChance:  0,
		DefaultDirective: "continue",
		MaxIterations:    2,
	}, nil)
	_, err = l.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"continue", "continue"}, mem.directives)
}

func TestRun_DirectiveChanceIsRoughlyHonoured(t *testing.T) {
	mem := &fakeMemory{}
	l := New(&fakeGenerator{}, mem, Config{
		Directives:       []string{"pivot"},
		DirectiveChance:  0.2,
		DefaultDirective: "continue",
		MaxIterations:    500,
	}, nil).WithSeed(42)
	_, err := l.Run(context.Background())
	require.NoError(t, err)

	pivots := 0
	for _, d := range mem.directives {
		if d == "pivot" {
			pivots++
		}
	}
	assert.InDelta(t, 100, pivots, 40)
}

func TestRun_PersistentGenerateFailure(t *testing.T) {
	gen := &fakeGenerator{fail: errors.New("upstream 500")}
	l := New(gen, &fakeMemory{}, Config{MaxGenerateFailures: 2}, nil)

	sum, err := l.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, gen.calls)
	assert.Equal(t, 0, sum.Iterations)
}

func TestRun_CompressionStalledAborts(t *testing.T) {
	mem := &fakeMemory{addErr: fmt.Errorf("%w: after 3 failed cycles", memory.ErrCompressionStalled)}
	l := New(&fakeGenerator{}, mem, Config{SeedPrompt: "seed"}, nil)

	_, err := l.Run(context.Background())
	assert.ErrorIs(t, err, memory.ErrCompressionStalled)
}

func TestRun_StoreFailureDegrades(t *testing.T) {
	mem := &fakeMemory{addErr: fmt.Errorf("store summary: %w", store.ErrStoreUnavailable)}
	l := New(&fakeGenerator{}, mem, Config{SeedPrompt: "seed", MaxIterations: 2}, nil)

	sum, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Iterations)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gen := &fakeGenerator{hook: func(call int) {
		if call == 2 {
			cancel()
		}
	}}
	l := New(gen, &fakeMemory{}, Config{}, nil)

	sum, err := l.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StopCancelled, sum.StopReason)
	assert.LessOrEqual(t, sum.Iterations, 2)
}

func TestRun_WithMemoryManager(t *testing.T) {
	ctx := context.Background()
	ltm, err := store.NewChromemStore("", nil)
	require.NoError(t, err)

	counter := tokenizer.Words{}
	reducer := summarizer.ReducerFunc(func(_ context.Context, prompt string, _ int) (string, error) {
		return "recap of earlier thoughts", nil
	})
	sz := summarizer.New(reducer, counter, summarizer.DefaultOptions(), nil)

	opts := memory.DefaultOptions()
	opts.SummarizeThreshold = 12
	opts.ChunkBudget = 6
	opts.ContextWindow = 20
	opts.RunID = "run-mem"
	mgr := memory.New(counter, sz, ltm, opts, nil)

	l := New(&fakeGenerator{}, mgr, Config{
		RunID:            "run-mem",
		SeedPrompt:       "you think forever",
		DefaultDirective: "go on",
		MaxIterations:    10,
	}, nil)

	sum, err := l.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, sum.Iterations)
	assert.LessOrEqual(t, mgr.Tokens(), 12)

	n, err := ltm.Count(ctx)
	require.NoError(t, err)
	assert.Greater(t, n, 0)

	entries, err := ltm.List(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "run-mem", entries[0].Meta[model.MetaRunID])
}
