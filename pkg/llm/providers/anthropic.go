// Package providers registers LLM provider adapters.
// Import this package with a blank identifier to activate all providers:
//
//	import _ "github.com/AISecurityAssurance/cortex-arema/pkg/llm/providers"
package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/AISecurityAssurance/cortex-arema/pkg/llm"
)

const defaultMaxTokens = 4096

func init() {
	llm.RegisterProvider("anthropic", func(modelName string) (llm.Client, error) {
		return newAnthropicClient(modelName)
	})
}

type anthropicClient struct {
	sdk       anthropicsdk.Client
	modelName string
}

func newAnthropicClient(modelName string, opts ...option.RequestOption) (*anthropicClient, error) {
	key := os.Getenv("ANTHROPIC_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("anthropic: ANTHROPIC_API_KEY environment variable not set")
	}
	opts = append([]option.RequestOption{option.WithAPIKey(key)}, opts...)
	return &anthropicClient{sdk: anthropicsdk.NewClient(opts...), modelName: modelName}, nil
}

// Complete performs a single blocking generation.
func (a *anthropicClient) Complete(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error) {
	msg, err := a.sdk.Messages.New(ctx, buildAnthropicParams(a.modelName, req))
	if err != nil {
		return llm.GenerateResponse{}, mapAnthropicError(err)
	}
	return convertAnthropicResponse(msg), nil
}

// buildAnthropicParams converts a unified request. System messages are
// carried by the System param rather than the message list.
func buildAnthropicParams(modelName string, req llm.GenerateRequest) anthropicsdk.MessageNewParams {
	msgs := make([]anthropicsdk.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			continue
		}
		blocks := make([]anthropicsdk.ContentBlockParamUnion, 0, len(m.Content))
		for _, b := range m.Content {
			switch b.Type {
			case llm.ContentTypeText:
				blocks = append(blocks, anthropicsdk.NewTextBlock(b.Text))
			case llm.ContentTypeImage:
				if b.Image != nil {
					blocks = append(blocks, anthropicsdk.NewImageBlockBase64(
						b.Image.MediaType,
						base64.StdEncoding.EncodeToString(b.Image.Data),
					))
				}
			}
		}
		switch m.Role {
		case llm.RoleUser:
			msgs = append(msgs, anthropicsdk.NewUserMessage(blocks...))
		case llm.RoleAssistant:
			msgs = append(msgs, anthropicsdk.NewAssistantMessage(blocks...))
		}
	}

	maxTokens := int64(defaultMaxTokens)
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(modelName),
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if req.System != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = param.NewOpt(*req.Temperature)
	}
	return params
}

func convertAnthropicResponse(msg *anthropicsdk.Message) llm.GenerateResponse {
	blocks := make([]llm.ContentBlock, 0, len(msg.Content))
	for _, b := range msg.Content {
		if b.Type == "text" {
			blocks = append(blocks, llm.ContentBlock{Type: llm.ContentTypeText, Text: b.Text})
		}
	}

	stop := llm.StopReasonEndTurn
	if msg.StopReason == anthropicsdk.StopReasonMaxTokens {
		stop = llm.StopReasonMaxTokens
	}

	return llm.GenerateResponse{
		Content:    blocks,
		StopReason: stop,
		Usage: llm.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
}

func mapAnthropicError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		return llm.StatusError(apiErr.StatusCode, apiErr.Error(), err)
	}
	return fmt.Errorf("anthropic: %w", err)
}
