package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/AISecurityAssurance/cortex-arema/pkg/llm"
)

func init() {
	llm.RegisterProvider("gemini", func(modelName string) (llm.Client, error) {
		return newGeminiClient(modelName)
	})
}

type geminiClient struct {
	sdk       *genai.Client
	modelName string
}

var _ io.Closer = (*geminiClient)(nil)

func newGeminiClient(modelName string) (*geminiClient, error) {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("gemini: GEMINI_API_KEY environment variable not set")
	}
	// genai.NewClient requires a context; use Background for construction.
	sdk, err := genai.NewClient(context.Background(), option.WithAPIKey(key))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &geminiClient{sdk: sdk, modelName: modelName}, nil
}

// Close releases the underlying gRPC connection.
func (c *geminiClient) Close() error { return c.sdk.Close() }

// Complete performs a single blocking generation.
func (c *geminiClient) Complete(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error) {
	model := c.sdk.GenerativeModel(c.modelName)
	configureModel(model, req)

	history, last := buildContents(req.Messages)
	if last == nil {
		return llm.GenerateResponse{}, fmt.Errorf("gemini: no user message to send")
	}

	cs := model.StartChat()
	cs.History = history

	apiResp, err := cs.SendMessage(ctx, last.Parts...)
	if err != nil {
		return llm.GenerateResponse{}, mapGeminiError(err)
	}
	return convertGeminiResponse(apiResp), nil
}

func configureModel(model *genai.GenerativeModel, req llm.GenerateRequest) {
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.Temperature != nil {
		model.SetTemperature(float32(*req.Temperature))
	}
	// System prompt goes to SystemInstruction, not the message history.
	if req.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}
}

// ─── message translation ─────────────────────────────────────────────────────

// buildContents translates unified messages into Gemini's format.
// History contains all messages except the last one; the last message
// is returned separately for use with cs.SendMessage().
func buildContents(msgs []llm.Message) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	for _, m := range msgs {
		var role string
		switch m.Role {
		case llm.RoleUser:
			role = "user"
		case llm.RoleAssistant:
			role = "model"
		default:
			continue // handled via model.SystemInstruction
		}
		if parts := contentParts(m.Content); len(parts) > 0 {
			contents = append(contents, &genai.Content{Role: role, Parts: parts})
		}
	}

	if len(contents) == 0 {
		return nil, nil
	}
	return contents[:len(contents)-1], contents[len(contents)-1]
}

func contentParts(blocks []llm.ContentBlock) []genai.Part {
	parts := make([]genai.Part, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case llm.ContentTypeText:
			if b.Text != "" {
				parts = append(parts, genai.Text(b.Text))
			}
		case llm.ContentTypeImage:
			if b.Image != nil {
				parts = append(parts, genai.ImageData(imageFormat(b.Image.MediaType), b.Image.Data))
			}
		}
	}
	return parts
}

// imageFormat turns "image/png" into the "png" form genai.ImageData expects.
func imageFormat(mediaType string) string {
	if f, ok := strings.CutPrefix(mediaType, "image/"); ok && f != "" {
		return f
	}
	return "png"
}

// ─── response conversion ─────────────────────────────────────────────────────

func convertGeminiResponse(resp *genai.GenerateContentResponse) llm.GenerateResponse {
	var blocks []llm.ContentBlock
	stopReason := llm.StopReasonEndTurn

	if len(resp.Candidates) > 0 {
		cand := resp.Candidates[0]
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if v, ok := part.(genai.Text); ok && string(v) != "" {
					blocks = append(blocks, llm.ContentBlock{Type: llm.ContentTypeText, Text: string(v)})
				}
			}
		}
		if cand.FinishReason == genai.FinishReasonMaxTokens {
			stopReason = llm.StopReasonMaxTokens
		}
	}

	var usage llm.Usage
	if resp.UsageMetadata != nil {
		usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	return llm.GenerateResponse{
		Content:    blocks,
		StopReason: stopReason,
		Usage:      usage,
	}
}

// ─── error mapping ────────────────────────────────────────────────────────────

func mapGeminiError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return llm.StatusError(apiErr.Code, apiErr.Message, err)
	}
	return fmt.Errorf("gemini: %w", err)
}
