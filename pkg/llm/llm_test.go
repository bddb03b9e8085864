package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AISecurityAssurance/cortex-arema/pkg/llm"
)

func TestParseModelID(t *testing.T) {
	tests := []struct {
		input        string
		wantProvider string
		wantModel    string
		wantErr      bool
	}{
		{"anthropic:claude-sonnet-4-5", "anthropic", "claude-sonnet-4-5", false},
		{"openai:gpt-4o", "openai", "gpt-4o", false},
		{"ollama:llama3:8b", "ollama", "llama3:8b", false},
		{"invalid", "", "", true},
		{":", "", "", true},
		{":model", "", "", true},
		{"provider:", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			prov, model, err := llm.ParseModelID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseModelID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if prov != tt.wantProvider {
				t.Errorf("provider = %q, want %q", prov, tt.wantProvider)
			}
			if model != tt.wantModel {
				t.Errorf("model = %q, want %q", model, tt.wantModel)
			}
		})
	}
}

type fixedClient struct{ text string }

func (c fixedClient) Complete(context.Context, llm.GenerateRequest) (llm.GenerateResponse, error) {
	return llm.GenerateResponse{Content: []llm.ContentBlock{{Type: llm.ContentTypeText, Text: c.text}}}, nil
}

func TestNewClient_Registry(t *testing.T) {
	llm.RegisterProvider("llmtest", func(model string) (llm.Client, error) {
		return fixedClient{text: model}, nil
	})
	assert.Contains(t, llm.Providers(), "llmtest")

	c, err := llm.NewClient("llmtest:echo")
	require.NoError(t, err)
	resp, err := c.Complete(context.Background(), llm.GenerateRequest{})
	require.NoError(t, err)
	assert.Equal(t, "echo", resp.Text())
}

func TestNewClient_UnknownProvider(t *testing.T) {
	_, err := llm.NewClient("unknown_provider:some-model")
	if err == nil {
		t.Fatal("expected error for unknown provider, got nil")
	}
}

func TestGenerateResponse_Text(t *testing.T) {
	resp := llm.GenerateResponse{Content: []llm.ContentBlock{
		{Type: llm.ContentTypeText, Text: "a"},
		llm.ImageBlock("image/png", []byte{1}),
		{Type: llm.ContentTypeText, Text: "b"},
	}}
	assert.Equal(t, "ab", resp.Text())
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		code      int
		target    any
		retryable bool
	}{
		{429, new(*llm.RateLimitError), true},
		{401, new(*llm.AuthError), false},
		{403, new(*llm.AuthError), false},
		{400, new(*llm.BadRequestError), false},
		{500, new(*llm.ServerError), true},
		{529, new(*llm.ServerError), true},
	}
	for _, tt := range tests {
		err := llm.StatusError(tt.code, "boom", nil)
		assert.ErrorAs(t, err, tt.target, "code %d", tt.code)
		assert.Equal(t, tt.retryable, llm.Retryable(err), "code %d", tt.code)
	}

	var base *llm.LLMError
	require.ErrorAs(t, llm.StatusError(404, "missing", nil), &base)
	assert.Equal(t, 404, base.Code)
}

func TestRetryable(t *testing.T) {
	base := func(msg string) llm.LLMError { return llm.LLMError{Message: msg} }
	tests := []struct {
		err      error
		wantTrue bool
	}{
		{&llm.RateLimitError{LLMError: base("rate limit")}, true},
		{&llm.ServerError{LLMError: base("5xx")}, true},
		{&llm.AuthError{LLMError: base("auth")}, false},
		{&llm.BadRequestError{LLMError: base("ctx")}, false},
		{&llm.ContentFilterError{LLMError: base("filter")}, false},
	}
	for _, tt := range tests {
		got := llm.Retryable(tt.err)
		if got != tt.wantTrue {
			t.Errorf("Retryable(%T) = %v, want %v", tt.err, got, tt.wantTrue)
		}
	}
}

func TestWithRetry_SingleAttempt(t *testing.T) {
	calls := 0
	err := llm.WithRetry(context.Background(), 1, func() error {
		calls++
		return llm.StatusError(503, "unavailable", nil)
	})
	assert.Equal(t, 1, calls)
	var se *llm.ServerError
	assert.ErrorAs(t, err, &se)
}

func TestWithRetry_NonRetryableStopsAtOnce(t *testing.T) {
	calls := 0
	err := llm.WithRetry(context.Background(), 5, func() error {
		calls++
		return errors.New("bad input")
	})
	assert.Equal(t, 1, calls)
	assert.EqualError(t, err, "bad input")
}

func TestWithRetry_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := llm.WithRetry(ctx, 3, func() error {
		calls++
		cancel()
		return llm.StatusError(429, "slow down", nil)
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoff(t *testing.T) {
	for i := range 8 {
		d := llm.Backoff(i)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 30*time.Second*5/4)
	}
}
