// Package llm talks to an OpenAI-compatible chat completions endpoint for
// generation and summarization.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// DefaultBaseURL is used when Config.BaseURL is empty.
const DefaultBaseURL = "https://api.openai.com/v1"

// ErrEmptyResponse means the endpoint answered without any choice.
var ErrEmptyResponse = errors.New("empty completion")

// Config configures a Client.
type Config struct {
	BaseURL     string        `koanf:"base_url"`
	APIKey      string        `koanf:"api_key"`
	Model       string        `koanf:"model" validate:"required"`
	Temperature float64       `koanf:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int           `koanf:"max_tokens" validate:"gte=1"`
	Timeout     time.Duration `koanf:"timeout"`
}

// Result is one completion with its billed token usage.
type Result struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Client is a thin chat completions client. Each call sends the prompt as a
// single user message.
type Client struct {
	client      openai.Client
	model       string
	temperature float64
}

// New creates a client. An empty BaseURL targets api.openai.com. Extra
// request options are applied after the ones derived from cfg.
func New(cfg Config, opts ...option.RequestOption) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}

	reqOpts := []option.RequestOption{
		option.WithBaseURL(cfg.BaseURL),
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
	}
	reqOpts = append(reqOpts, opts...)

	return &Client{
		client:      openai.NewClient(reqOpts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}
}

// WithModel returns a copy using another model and temperature, sharing the
// underlying client.
func (c *Client) WithModel(model string, temperature float64) *Client {
	cp := *c
	if model != "" {
		cp.model = model
	}
	cp.temperature = temperature
	return &cp
}

// Generate completes prompt with at most maxTokens output tokens.
func (c *Client) Generate(ctx context.Context, prompt string, maxTokens int) (Result, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		Temperature: openai.Opt(c.temperature),
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Opt(int64(maxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Result{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("chat completion: %w", ErrEmptyResponse)
	}
	return Result{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

// Reduce returns only the completion text. It satisfies summarizer.Reducer.
func (c *Client) Reduce(ctx context.Context, prompt string, maxTokens int) (string, error) {
	res, err := c.Generate(ctx, prompt, maxTokens)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}
