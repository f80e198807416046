package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/loopmem/internal/summarizer"
)

// chatRequest is the subset of the request body the tests inspect.
type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

func newServer(t *testing.T, handler func(t *testing.T, req chatRequest) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		status, body := handler(t, req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *httptest.Server, model string, temperature float64) *Client {
	return New(Config{BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Model: model, Temperature: temperature},
		option.WithMaxRetries(0))
}

func TestGenerate(t *testing.T) {
	srv := newServer(t, func(t *testing.T, req chatRequest) (int, string) {
		assert.Equal(t, "gpt-test", req.Model)
		assert.Equal(t, 64, req.MaxTokens)
		assert.InDelta(t, 0.9, req.Temperature, 1e-9)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		assert.Equal(t, "once upon a time", req.Messages[0].Content)
		return http.StatusOK, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-test",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"there was a loop"}}],
			"usage":{"prompt_tokens":12,"completion_tokens":4,"total_tokens":16}}`
	})

	c := newTestClient(srv, "gpt-test", 0.9)
	res, err := c.Generate(context.Background(), "once upon a time", 64)
	require.NoError(t, err)
	assert.Equal(t, Result{Text: "there was a loop", InputTokens: 12, OutputTokens: 4}, res)
}

func TestReduceUsesOverriddenModel(t *testing.T) {
	srv := newServer(t, func(t *testing.T, req chatRequest) (int, string) {
		assert.Equal(t, "summarizer-model", req.Model)
		assert.InDelta(t, 0.3, req.Temperature, 1e-9)
		return http.StatusOK, `{"choices":[{"index":0,"message":{"role":"assistant","content":"short"}}]}`
	})

	base := newTestClient(srv, "gpt-test", 0.9)
	var r summarizer.Reducer = base.WithModel("summarizer-model", 0.3)
	out, err := r.Reduce(context.Background(), "long text", 32)
	require.NoError(t, err)
	assert.Equal(t, "short", out)
}

func TestGenerateHTTPError(t *testing.T) {
	srv := newServer(t, func(t *testing.T, req chatRequest) (int, string) {
		return http.StatusTooManyRequests, `{"error":{"message":"rate limited","type":"rate_limit"}}`
	})

	c := newTestClient(srv, "m", 0)
	_, err := c.Generate(context.Background(), "x", 1)
	require.Error(t, err)

	var apiErr *openai.Error
	require.True(t, errors.As(err, &apiErr), err.Error())
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
}

func TestGenerateNoChoices(t *testing.T) {
	srv := newServer(t, func(t *testing.T, req chatRequest) (int, string) {
		return http.StatusOK, `{"choices":[]}`
	})

	c := newTestClient(srv, "m", 0)
	_, err := c.Generate(context.Background(), "x", 1)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGenerateCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request sent after cancellation")
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newTestClient(srv, "m", 0)
	_, err := c.Generate(ctx, "x", 1)
	assert.ErrorIs(t, err, context.Canceled)
}
