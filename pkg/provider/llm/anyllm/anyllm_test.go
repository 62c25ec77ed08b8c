package anyllm

import (
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/angioreview/pkg/provider/llm"
	"github.com/MrWong99/angioreview/pkg/types"
)

func TestConvertMessage(t *testing.T) {
	t.Parallel()
	got := convertMessage(types.Message{Role: "user", Content: "RCA looks worse"})
	if got.Role != "user" {
		t.Errorf("role = %q, want user", got.Role)
	}
	if got.ContentString() != "RCA looks worse" {
		t.Errorf("content = %q", got.ContentString())
	}
}

func TestBuildParams_JSONModeExtendsSystemPrompt(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "gemini-2.5-flash"}

	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You adjust coronary findings.",
		Messages:     []types.Message{{Role: "user", Content: "moderate"}},
		Temperature:  0.1,
		MaxTokens:    200,
		JSONMode:     true,
	})

	if len(params.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(params.Messages))
	}
	sys := params.Messages[0]
	if sys.Role != anyllmlib.RoleSystem {
		t.Errorf("first role = %q, want system", sys.Role)
	}
	if !strings.Contains(sys.ContentString(), jsonInstruction) {
		t.Errorf("system prompt %q lacks JSON instruction", sys.ContentString())
	}
	if params.Temperature == nil || *params.Temperature != 0.1 {
		t.Errorf("temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 200 {
		t.Errorf("max tokens = %v", params.MaxTokens)
	}
}

func TestBuildParams_NoSystemPrompt(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "llama3.1"}
	params := p.buildParams(llm.CompletionRequest{
		Messages: []types.Message{{Role: "user", Content: "hello"}},
	})
	if len(params.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(params.Messages))
	}
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Error("zero temperature and max tokens should be left unset")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gemini-2.5-flash"); err == nil {
		t.Error("expected error for empty vendor")
	}
	if _, err := New("gemini", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("fakecloud", "m", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Error("expected error for unsupported vendor")
	}
}

func TestNew_KnownVendors(t *testing.T) {
	tests := []struct {
		name string
		fn   func() (*Provider, error)
		want string
	}{
		{"gemini", func() (*Provider, error) { return NewGemini("gemini-2.5-flash", anyllmlib.WithAPIKey("k")) }, "gemini/gemini-2.5-flash"},
		{"anthropic", func() (*Provider, error) { return NewAnthropic("claude-sonnet-4", anyllmlib.WithAPIKey("k")) }, "anthropic/claude-sonnet-4"},
		{"ollama", func() (*Provider, error) { return NewOllama("llama3.1") }, "ollama/llama3.1"},
		{"openai", func() (*Provider, error) { return New("OpenAI", "gpt-4o-mini", anyllmlib.WithAPIKey("k")) }, "openai/gpt-4o-mini"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.fn()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Model() != tt.want {
				t.Errorf("Model() = %q, want %q", p.Model(), tt.want)
			}
		})
	}
}
