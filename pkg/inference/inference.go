// Package inference is the boundary between analysis nodes and the model
// backends that answer their prompts.
package inference

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/AISecurityAssurance/cortex-arema/pkg/llm"
)

// Request is one generate call. Images holds zero or more base64-encoded
// images; the analysis nodes send at most one.
type Request struct {
	ModelID            string         `json:"modelId"`
	Prompt             string         `json:"prompt"`
	SystemInstructions string         `json:"systemInstructions"`
	Images             []string       `json:"images"`
	ProviderConfig     map[string]any `json:"providerConfig,omitempty"`
	Temperature        *float64       `json:"temperature,omitempty"`
	MaxTokens          int            `json:"maxTokens,omitempty"`
}

// Invoker sends a prompt to a model and returns the text of its answer.
// Invoke does not bound the call with its own deadline: it returns when
// the backend answers, fails, or ctx is done.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (string, error)
}

// InvokerFunc adapts an ordinary function to Invoker.
type InvokerFunc func(ctx context.Context, req Request) (string, error)

func (f InvokerFunc) Invoke(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

// LLMInvoker answers requests through the provider registry in pkg/llm.
// ModelID must have the form "provider:model".
type LLMInvoker struct {
	// Attempts bounds provider calls per request. Zero or one means a single
	// attempt; larger values retry rate-limit and server errors.
	Attempts int
	// MaxTokens applies when the request does not set its own.
	MaxTokens int
	// NewClient defaults to llm.NewClient. A client that implements
	// io.Closer is closed once its request is answered.
	NewClient func(modelID string) (llm.Client, error)
}

func (l *LLMInvoker) Invoke(ctx context.Context, req Request) (string, error) {
	newClient := l.NewClient
	if newClient == nil {
		newClient = llm.NewClient
	}
	client, err := newClient(req.ModelID)
	if err != nil {
		return "", fmt.Errorf("create LLM client: %w", err)
	}
	// Clients holding connections (gemini) are released after each request.
	if c, ok := client.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				slog.WarnContext(ctx, "close LLM client", "model", req.ModelID, "err", err)
			}
		}()
	}

	gen, err := generateRequest(req)
	if err != nil {
		return "", err
	}
	if gen.MaxTokens == 0 {
		gen.MaxTokens = l.MaxTokens
	}

	var resp llm.GenerateResponse
	err = llm.WithRetry(ctx, l.Attempts, func() error {
		var callErr error
		resp, callErr = client.Complete(ctx, gen)
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("LLM call: %w", err)
	}
	return resp.Text(), nil
}

// generateRequest builds the single user turn: the prompt followed by the
// decoded images.
func generateRequest(req Request) (llm.GenerateRequest, error) {
	content := []llm.ContentBlock{{Type: llm.ContentTypeText, Text: req.Prompt}}
	for i, img := range req.Images {
		data, err := base64.StdEncoding.DecodeString(img)
		if err != nil {
			return llm.GenerateRequest{}, fmt.Errorf("image %d: invalid base64: %w", i, err)
		}
		content = append(content, llm.ImageBlock(http.DetectContentType(data), data))
	}
	return llm.GenerateRequest{
		Model:       req.ModelID,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: content}},
		System:      req.SystemInstructions,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}, nil
}
