package providers

import (
	"testing"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/AISecurityAssurance/cortex-arema/pkg/llm"
)

func TestBuildAnthropicParams(t *testing.T) {
	temp := 0.3
	params := buildAnthropicParams("claude-sonnet-4-5", llm.GenerateRequest{
		System: "you are a threat modeler",
		Messages: []llm.Message{
			llm.TextMessage(llm.RoleSystem, "dropped"),
			{Role: llm.RoleUser, Content: []llm.ContentBlock{
				{Type: llm.ContentTypeText, Text: "analyze"},
				llm.ImageBlock("image/png", []byte("png")),
			}},
		},
		Temperature: &temp,
	})

	if params.Model != anthropicsdk.Model("claude-sonnet-4-5") {
		t.Errorf("model = %q", params.Model)
	}
	if params.MaxTokens != defaultMaxTokens {
		t.Errorf("max tokens = %d, want %d", params.MaxTokens, defaultMaxTokens)
	}
	if len(params.System) != 1 || params.System[0].Text != "you are a threat modeler" {
		t.Errorf("system = %+v", params.System)
	}
	if len(params.Messages) != 1 {
		t.Fatalf("messages = %d, want 1 (system dropped)", len(params.Messages))
	}
	content := params.Messages[0].Content
	if len(content) != 2 {
		t.Fatalf("content blocks = %d, want 2", len(content))
	}
	if content[0].OfText == nil || content[0].OfText.Text != "analyze" {
		t.Errorf("block 0 = %+v, want text", content[0])
	}
	if content[1].OfImage == nil {
		t.Errorf("block 1 = %+v, want image", content[1])
	}
	if params.Temperature.Value != 0.3 {
		t.Errorf("temperature = %v, want 0.3", params.Temperature.Value)
	}
}

func TestBuildAnthropicParams_MaxTokens(t *testing.T) {
	params := buildAnthropicParams("m", llm.GenerateRequest{MaxTokens: 512})
	if params.MaxTokens != 512 {
		t.Errorf("max tokens = %d, want 512", params.MaxTokens)
	}
}

func TestNewAnthropicClient_MissingKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := newAnthropicClient("m"); err == nil {
		t.Fatal("want error for missing key")
	}
}

func TestProvidersRegistered(t *testing.T) {
	names := llm.Providers()
	for _, want := range []string{"anthropic", "openai", "gemini"} {
		found := false
		for _, n := range names {
			if n == want {
				found = true
			}
		}
		if !found {
			t.Errorf("provider %q not registered", want)
		}
	}
}
