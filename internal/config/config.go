// Package config loads loopmem settings from defaults, a YAML or JSON file,
// LOOPMEM_ environment variables and flag overrides.
package config

import (
	"os"
	"path/filepath"

	"github.com/rcliao/loopmem/internal/embedding"
	"github.com/rcliao/loopmem/internal/llm"
	"github.com/rcliao/loopmem/internal/loop"
)

// Config is the complete configuration.
type Config struct {
	Memory     MemoryConfig     `koanf:"memory"`
	Summarizer SummarizerConfig `koanf:"summarizer"`
	Tokenizer  TokenizerConfig  `koanf:"tokenizer"`
	LLM        llm.Config       `koanf:"llm"`
	Embedding  embedding.Config `koanf:"embedding"`
	Store      StoreConfig      `koanf:"store"`
	Loop       loop.Config      `koanf:"loop"`
	Log        LogConfig        `koanf:"log"`
	Metrics    MetricsConfig    `koanf:"metrics"`
}

// MemoryConfig sizes the short-term buffer and the context window.
type MemoryConfig struct {
	ContextWindowTokens int    `koanf:"context_window_tokens" validate:"gte=1"`
	SummarizeThreshold  int    `koanf:"summarize_threshold" validate:"gt=0"`
	ChunkBudget         int    `koanf:"chunk_budget" validate:"gt=0,ltfield=SummarizeThreshold"`
	MaxCompressPasses   int    `koanf:"max_compress_passes" validate:"gte=1"`
	MaxCompressFailures int    `koanf:"max_compress_failures" validate:"gte=1"`
	TopK                int    `koanf:"top_k" validate:"gte=0"`
	Separator           string `koanf:"separator"`
}

// SummarizerConfig configures compression of old segments.
type SummarizerConfig struct {
	InputThreshold int     `koanf:"input_threshold" validate:"gt=0"`
	ChunkTokens    int     `koanf:"chunk_tokens" validate:"gt=0"`
	MaxTokens      int     `koanf:"max_tokens" validate:"gte=1"`
	Model          string  `koanf:"model"`
	Temperature    float64 `koanf:"temperature" validate:"gte=0,lte=2"`
}

// TokenizerConfig selects the token counter. "words" counts whitespace
// separated words.
type TokenizerConfig struct {
	Model string `koanf:"model" validate:"required"`
}

// StoreConfig selects the long-term memory backend.
type StoreConfig struct {
	Backend    string `koanf:"backend" validate:"oneof=sqlite chromem"`
	Path       string `koanf:"path" validate:"required"`
	ChromemDir string `koanf:"chromem_dir"`
}

// LogConfig configures slog.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// MetricsConfig configures the Prometheus listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// DefaultDBPath returns ~/.loopmem/loopmem.db.
func DefaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".loopmem", "loopmem.db")
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"memory.context_window_tokens": 32000,
		"memory.summarize_threshold":   12000,
		"memory.chunk_budget":          8000,
		"memory.max_compress_passes":   8,
		"memory.max_compress_failures": 3,
		"memory.top_k":                 3,
		"memory.separator":             "\n",

		"summarizer.input_threshold": 6000,
		"summarizer.chunk_tokens":    4000,
		"summarizer.max_tokens":      512,
		"summarizer.model":           "",
		"summarizer.temperature":     0.3,

		"tokenizer.model": "gpt-4o-mini",

		"llm.base_url":    "https://api.openai.com/v1",
		"llm.api_key":     "",
		"llm.model":       "gpt-4.1-nano",
		"llm.temperature": 0.9,
		"llm.max_tokens":  512,
		"llm.timeout":     "120s",

		"embedding.provider": "",
		"embedding.model":    "",
		"embedding.url":      "",
		"embedding.dims":     0,

		"store.backend":     "sqlite",
		"store.path":        DefaultDBPath(),
		"store.chromem_dir": "",

		"loop.interval":                "500ms",
		"loop.seed_prompt":             "Hi, you are artificial general intelligence.",
		"loop.directives":              DefaultDirectives(),
		"loop.directive_chance":        0.2,
		"loop.default_directive":       DefaultDirective,
		"loop.cost_cap":                1.0,
		"loop.input_cost_per_million":  0.10,
		"loop.output_cost_per_million": 0.40,
		"loop.stream_log":              filepath.Join("logs", "stream.txt"),
		"loop.max_iterations":          0,
		"loop.max_generate_failures":   3,

		"log.level":  "info",
		"log.format": "text",

		"metrics.addr": "",
	}
}

// DefaultDirective steers the generator when no random directive is drawn.
const DefaultDirective = "Continue your train of thought from the last message. " +
	"Do not repeat ideas exactly. Build forward. Ask new questions, propose ideas, or simulate thought."

// DefaultDirectives is the pool random directives are drawn from.
func DefaultDirectives() []string {
	return []string{
		"Disagree with your last idea.",
		"Play devil's advocate to what you just wrote.",
		"Ask yourself a hard question and try to answer it.",
		"Shift to a different domain: biology, psychology, ethics.",
		"Describe a fictional world where AGI already exists.",
		"Write a memory or a dream of an AGI being trained.",
	}
}

// DefaultConfig returns the configuration with no file, env or overrides.
func DefaultConfig() *Config {
	cfg, err := NewLoader().Load("", nil)
	if err != nil {
		panic("invalid built-in defaults: " + err.Error())
	}
	return cfg
}
