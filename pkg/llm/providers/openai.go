package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/AISecurityAssurance/cortex-arema/pkg/llm"
)

func init() {
	llm.RegisterProvider("openai", func(modelName string) (llm.Client, error) {
		return newOpenAIClient(modelName)
	})
}

type openaiClient struct {
	sdk       *openai.Client
	modelName string
}

// newOpenAIClient reads OPENAI_API_KEY, and OPENAI_BASE_URL for
// OpenAI-compatible gateways.
func newOpenAIClient(modelName string) (*openaiClient, error) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("openai: OPENAI_API_KEY environment variable not set")
	}
	cfg := openai.DefaultConfig(key)
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		cfg.BaseURL = base
	}
	return &openaiClient{
		sdk:       openai.NewClientWithConfig(cfg),
		modelName: modelName,
	}, nil
}

// Complete performs a single blocking generation.
func (c *openaiClient) Complete(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error) {
	resp, err := c.sdk.CreateChatCompletion(ctx, buildOpenAIRequest(c.modelName, req))
	if err != nil {
		return llm.GenerateResponse{}, mapOpenAIError(err)
	}
	return convertOpenAIResponse(resp), nil
}

func buildOpenAIRequest(modelName string, req llm.GenerateRequest) openai.ChatCompletionRequest {
	maxTokens := defaultMaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	params := openai.ChatCompletionRequest{
		Model:     modelName,
		MaxTokens: maxTokens,
		Messages:  buildMessages(req.Messages, req.System),
	}
	if req.Temperature != nil {
		params.Temperature = float32(*req.Temperature)
	}
	return params
}

// ─── message conversion ───────────────────────────────────────────────────────

// buildMessages converts unified messages to OpenAI's chat completion format.
// A message carrying an image is sent as multi-part content; text-only
// messages use the plain Content field.
func buildMessages(msgs []llm.Message, system string) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage

	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, m := range msgs {
		var role string
		switch m.Role {
		case llm.RoleUser:
			role = openai.ChatMessageRoleUser
		case llm.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		default:
			// Handled above via req.System; skip any inline system messages.
			continue
		}

		if !hasImages(m.Content) {
			out = append(out, openai.ChatCompletionMessage{Role: role, Content: concatText(m.Content)})
			continue
		}
		parts := make([]openai.ChatMessagePart, 0, len(m.Content))
		for _, b := range m.Content {
			switch b.Type {
			case llm.ContentTypeText:
				parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: b.Text})
			case llm.ContentTypeImage:
				if b.Image == nil {
					continue
				}
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    dataURL(b.Image),
						Detail: openai.ImageURLDetailAuto,
					},
				})
			}
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, MultiContent: parts})
	}
	return out
}

// convertOpenAIResponse maps an OpenAI response to the unified GenerateResponse.
func convertOpenAIResponse(resp openai.ChatCompletionResponse) llm.GenerateResponse {
	var blocks []llm.ContentBlock
	stop := llm.StopReasonEndTurn
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		if choice.Message.Content != "" {
			blocks = append(blocks, llm.ContentBlock{Type: llm.ContentTypeText, Text: choice.Message.Content})
		}
		if choice.FinishReason == openai.FinishReasonLength {
			stop = llm.StopReasonMaxTokens
		}
	}

	return llm.GenerateResponse{
		Content:    blocks,
		StopReason: stop,
		Usage: llm.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
}

// ─── error mapping ────────────────────────────────────────────────────────────

func mapOpenAIError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return llm.StatusError(apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return llm.StatusError(reqErr.HTTPStatusCode, reqErr.Error(), err)
	}
	return fmt.Errorf("openai: %w", err)
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func hasImages(blocks []llm.ContentBlock) bool {
	for _, b := range blocks {
		if b.Type == llm.ContentTypeImage {
			return true
		}
	}
	return false
}

func concatText(blocks []llm.ContentBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == llm.ContentTypeText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

func dataURL(img *llm.ImageSource) string {
	mt := img.MediaType
	if mt == "" {
		mt = "image/png"
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}
