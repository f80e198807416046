// Package loop drives the unbounded generation cycle: pick a directive,
// build a context, generate, feed the output back into memory.
package loop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/rcliao/loopmem/internal/llm"
	"github.com/rcliao/loopmem/internal/memory"
	"github.com/rcliao/loopmem/internal/metrics"
	"github.com/rcliao/loopmem/internal/model"
	"github.com/rcliao/loopmem/internal/window"
)

// Stop reasons.
const (
	StopCancelled     = "cancelled"
	StopCostCap       = "cost_cap"
	StopMaxIterations = "max_iterations"
)

// Generator produces the next chunk of text for a context.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (llm.Result, error)
}

// Memory is the part of memory.Manager the loop drives.
type Memory interface {
	Add(ctx context.Context, text string) error
	BuildContext(ctx context.Context, directive string) (window.Window, error)
	Snapshot() []model.Segment
}

// Recorder persists per-iteration accounting.
type Recorder interface {
	RecordIteration(ctx context.Context, it model.Iteration) error
}

// Config controls one run.
type Config struct {
	RunID string `koanf:"-"`

	Interval             time.Duration `koanf:"interval"`
	SeedPrompt           string        `koanf:"seed_prompt"`
	Directives           []string      `koanf:"directives"`
	DirectiveChance      float64       `koanf:"directive_chance" validate:"gte=0,lte=1"`
	DefaultDirective     string        `koanf:"default_directive"`
	MaxTokens            int           `koanf:"-"`
	CostCap              float64       `koanf:"cost_cap" validate:"gte=0"`
	InputCostPerMillion  float64       `koanf:"input_cost_per_million" validate:"gte=0"`
	OutputCostPerMillion float64       `koanf:"output_cost_per_million" validate:"gte=0"`
	StreamLog            string        `koanf:"stream_log"`
	MaxIterations        int           `koanf:"max_iterations" validate:"gte=0"`
	MaxGenerateFailures  int           `koanf:"max_generate_failures" validate:"gte=0"`
}

// Summary describes a finished run.
type Summary struct {
	RunID        string  `json:"run_id"`
	Iterations   int     `json:"iterations"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
	StopReason   string  `json:"stop_reason"`
}

// Loop runs generations against a Memory until a stop condition.
type Loop struct {
	gen      Generator
	mem      Memory
	recorder Recorder
	metrics  *metrics.Manager
	cfg      Config
	logger   *slog.Logger
	rng      *rand.Rand
	limiter  *rate.Limiter
	now      func() time.Time
}

// New creates a Loop. A zero Interval disables pacing.
func New(gen Generator, mem Memory, cfg Config, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.MaxGenerateFailures <= 0 {
		cfg.MaxGenerateFailures = 3
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.Interval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.Interval), 1)
	}
	return &Loop{
		gen:     gen,
		mem:     mem,
		cfg:     cfg,
		logger:  logger.With("run_id", cfg.RunID),
		rng:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
		limiter: limiter,
		now:     time.Now,
	}
}

// WithRecorder stores every iteration in r.
func (l *Loop) WithRecorder(r Recorder) *Loop {
	l.recorder = r
	return l
}

// WithMetrics records iteration metrics on m.
func (l *Loop) WithMetrics(m *metrics.Manager) *Loop {
	l.metrics = m
	return l
}

// WithSeed makes directive selection deterministic.
func (l *Loop) WithSeed(seed uint64) *Loop {
	l.rng = rand.New(rand.NewPCG(seed, seed))
	return l
}

// RunID returns the identifier stamped on this run's records.
func (l *Loop) RunID() string { return l.cfg.RunID }

// Run loops until ctx is done, the cost cap or iteration limit is reached,
// or a persistent failure occurs. Cancellation is a clean stop.
func (l *Loop) Run(ctx context.Context) (Summary, error) {
	sum := Summary{RunID: l.cfg.RunID}

	f, err := l.openStream()
	if err != nil {
		return sum, err
	}
	var stream io.Writer
	if f != nil {
		defer f.Close()
		stream = f
	}

	if l.cfg.SeedPrompt != "" && len(l.mem.Snapshot()) == 0 {
		if err := l.mem.Add(ctx, l.cfg.SeedPrompt); err != nil {
			return sum, fmt.Errorf("seed memory: %w", err)
		}
	}

	l.logger.Info("loop started", "max_iterations", l.cfg.MaxIterations, "cost_cap", l.cfg.CostCap)
	failures := 0
	for {
		if l.cfg.MaxIterations > 0 && sum.Iterations >= l.cfg.MaxIterations {
			sum.StopReason = StopMaxIterations
			break
		}
		if err := l.limiter.Wait(ctx); err != nil {
			sum.StopReason = StopCancelled
			break
		}

		it, err := l.step(ctx, sum.Iterations+1, stream)
		if err != nil && ctx.Err() != nil {
			sum.StopReason = StopCancelled
			break
		}
		switch {
		case err == nil:
			failures = 0
		case errors.Is(err, memory.ErrCompressionStalled):
			return sum, err
		case errors.Is(err, errGenerate):
			failures++
			l.logger.Warn("generation failed", "error", err, "failures", failures)
			if failures >= l.cfg.MaxGenerateFailures {
				return sum, err
			}
			continue
		case it == nil:
			return sum, err
		default:
			// Store or journal trouble; the text itself is still in memory.
			l.logger.Error("iteration degraded", "error", err)
		}

		sum.Iterations++
		sum.InputTokens += it.InputTokens
		sum.OutputTokens += it.OutputTokens
		sum.Cost += it.Cost

		l.logger.Info("iteration",
			"seq", it.Seq, "words", it.TextLen, "context_tokens", it.ContextLen,
			"cost", fmt.Sprintf("%.4f", sum.Cost))

		if l.cfg.CostCap > 0 && sum.Cost >= l.cfg.CostCap {
			sum.StopReason = StopCostCap
			l.logger.Info("cost cap reached", "cost", sum.Cost,
				"total_tokens", sum.InputTokens+sum.OutputTokens)
			break
		}
	}

	l.logger.Info("loop stopped", "reason", sum.StopReason, "iterations", sum.Iterations)
	return sum, nil
}

var errGenerate = errors.New("generate")

// step runs one iteration. It returns a nil Iteration when nothing was
// generated.
func (l *Loop) step(ctx context.Context, seq int, stream io.Writer) (*model.Iteration, error) {
	directive := l.directive()
	w, err := l.mem.BuildContext(ctx, directive)
	if err != nil {
		return nil, fmt.Errorf("build context: %w", err)
	}

	start := l.now()
	res, err := l.gen.Generate(ctx, w.Text, l.cfg.MaxTokens)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errGenerate, err)
	}
	elapsed := l.now().Sub(start)

	it := &model.Iteration{
		RunID:        l.cfg.RunID,
		Seq:          seq,
		Directive:    directive,
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
		ContextLen:   w.Tokens,
		Cost:         l.cost(res.InputTokens, res.OutputTokens),
		TextLen:      len(strings.Fields(res.Text)),
		CreatedAt:    l.now().UTC(),
	}
	l.metrics.RecordIteration(it.InputTokens, it.OutputTokens, it.Cost, elapsed)

	if stream != nil {
		fmt.Fprintf(stream, "[%s] %s\n\n", it.CreatedAt.Format(time.RFC3339Nano), res.Text)
	}
	if l.recorder != nil {
		if err := l.recorder.RecordIteration(ctx, *it); err != nil {
			l.logger.Warn("record iteration failed", "error", err)
		}
	}

	if err := l.mem.Add(ctx, res.Text); err != nil {
		return it, fmt.Errorf("add to memory: %w", err)
	}
	return it, nil
}

// directive picks a random directive with DirectiveChance, otherwise the
// default one.
func (l *Loop) directive() string {
	if len(l.cfg.Directives) > 0 && l.rng.Float64() < l.cfg.DirectiveChance {
		return l.cfg.Directives[l.rng.IntN(len(l.cfg.Directives))]
	}
	return l.cfg.DefaultDirective
}

func (l *Loop) cost(in, out int) float64 {
	return float64(in)*l.cfg.InputCostPerMillion/1e6 + float64(out)*l.cfg.OutputCostPerMillion/1e6
}

func (l *Loop) openStream() (*os.File, error) {
	if l.cfg.StreamLog == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(l.cfg.StreamLog), 0o755); err != nil {
		return nil, fmt.Errorf("create stream log dir: %w", err)
	}
	f, err := os.OpenFile(l.cfg.StreamLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open stream log: %w", err)
	}
	return f, nil
}
